package reconcile

import (
	"context"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/h2hsecure/usermanage/internal/domain"
)

const sharedAccountComment = "Shared account with all member keys"

// reconcileSharedAccount provisions the privileged account that receives
// the keys of every flagged record, on hosts carrying its tag only.
func (p *Provisioner) reconcileSharedAccount(ctx context.Context, opts Options, base string, keys []string, rep *Report) error {
	sa := opts.SharedAccount
	if sa.Tag == "" || p.tags == nil || !p.tags.HasTag(sa.Tag) {
		return nil
	}
	log.Debug().Str("user", sa.User).Int("keys", len(keys)).Msg("managing shared account")

	fail := func(err error) error {
		return &domain.StepError{Record: sa.User, Step: domain.StepSharedAccount, Err: err}
	}

	changed, err := p.accounts.EnsureGroup(ctx, domain.Group{Name: sa.Group, CreateOnly: true})
	if err != nil {
		return fail(err)
	}
	rep.record(sa.Group, domain.StepSharedAccount, changed)

	home := path.Join(base, sa.User)
	changed, err = p.accounts.EnsureAccount(ctx, domain.Account{
		Name:       sa.User,
		Group:      domain.GroupName(sa.Group),
		Shell:      sa.Shell,
		Comment:    sharedAccountComment,
		Home:       home,
		ManageHome: true,
		Action:     domain.ActionCreate,
	})
	if err != nil {
		return fail(err)
	}
	rep.record(sa.User, domain.StepSharedAccount, changed)

	sshDir := path.Join(home, ".ssh")
	changed, err = p.files.EnsureDirectory(ctx, domain.Directory{Path: sshDir, Owner: sa.User, Group: sa.Group, Mode: 0o700})
	if err != nil {
		return fail(err)
	}
	rep.record(sa.User, domain.StepSharedAccount, changed)

	changed, err = p.files.EnsureFile(ctx, domain.File{
		Path:      path.Join(sshDir, "authorized_keys"),
		Template:  TemplateAuthorizedKeys,
		Owner:     sa.User,
		Group:     sa.Group,
		Mode:      0o600,
		Variables: map[string]any{"Keys": keys},
	})
	if err != nil {
		return fail(err)
	}
	rep.record(sa.User, domain.StepSharedAccount, changed)
	return nil
}
