package reconcile

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// AccountFor derives the desired account of a record.
func AccountFor(rec domain.UserRecord, home string) domain.Account {
	return domain.Account{
		Name:       rec.Name(),
		UID:        rec.UID,
		Group:      rec.GID,
		Shell:      rec.Shell,
		Comment:    rec.Comment,
		Password:   rec.Password,
		Home:       home,
		ManageHome: home != domain.DevNull,
		Action:     rec.EffectiveAction().Normalize(),
	}
}

// reconcileAccount creates the user's own group when a numeric gid is given,
// since useradd refuses a primary group that does not exist, then converges
// the account. Failures here are fatal for the pass.
func (p *Provisioner) reconcileAccount(ctx context.Context, rec domain.UserRecord, home string, rep *Report) error {
	name := rec.Name()

	if rec.GID != nil {
		if gid, ok := rec.GID.Numeric(); ok {
			changed, err := p.accounts.EnsureGroup(ctx, domain.Group{Name: name, GID: &gid, CreateOnly: true})
			if err != nil {
				return &domain.StepError{Record: name, Step: domain.StepUserGroup, Err: err}
			}
			rep.record(name, domain.StepUserGroup, changed)
		}
	}

	if rec.Password != nil && !looksHashed(*rec.Password) {
		log.Warn().Str("user", name).Msg("password is not a recognized crypt hash, it is applied as given")
	}

	acct := AccountFor(rec, home)
	changed, err := p.accounts.EnsureAccount(ctx, acct)
	if err != nil {
		return &domain.StepError{Record: name, Step: domain.StepAccount, Err: err}
	}
	rep.record(name, domain.StepAccount, changed)
	if changed {
		log.Info().Object("account", acct).Msg("account converged")
	}
	return nil
}
