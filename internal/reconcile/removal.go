package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// RemoveFilter selects the records flagged for removal.
func RemoveFilter(opts Options) domain.Filter {
	return domain.And{
		domain.Term{Field: "groups", Value: opts.SearchGroup},
		domain.Term{Field: "action", Value: string(domain.ActionRemove)},
	}
}

// LockFilter selects the records that are in the search group but scoped to
// neither every environment nor the current one.
func LockFilter(opts Options) domain.Filter {
	return domain.And{
		domain.Term{Field: "groups", Value: opts.SearchGroup},
		domain.Not{Inner: domain.Or{
			domain.Term{Field: "action", Value: string(domain.ActionRemove)},
			domain.Term{Field: "environments", Value: "all"},
			domain.Term{Field: "environments", Value: opts.Environment},
		}},
	}
}

// Remove deletes the accounts flagged for removal, then, with environment
// scoping enabled, locks the accounts out of scope. Removal failures abort
// the pass; lock failures are collected and the pass goes on.
func (p *Provisioner) Remove(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{}

	records, err := p.source.Query(ctx, RemoveFilter(opts))
	if errors.Is(err, domain.ErrSearchUnavailable) {
		log.Warn().Err(err).Msg("record search is not available, skipping remove")
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("search removals: %w", err)
	}

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return rep, &domain.StepError{Record: rec.Name(), Step: domain.StepValidate, Err: err}
		}
	}

	for _, rec := range records {
		name := rec.Name()
		changed, err := p.accounts.EnsureAccount(ctx, domain.Account{Name: name, Action: domain.ActionRemove})
		if err != nil {
			return rep, &domain.StepError{Record: name, Step: domain.StepRemove, Err: fmt.Errorf("%w: %w", domain.ErrRemovalFailure, err)}
		}
		rep.record(name, domain.StepRemove, changed)
		if changed {
			log.Info().Str("user", name).Msg("account removed")
		}
	}

	if opts.RequireEnvironments {
		if err := p.lockOutOfScope(ctx, opts, rep); err != nil {
			return rep, err
		}
	}

	return rep, nil
}

func (p *Provisioner) lockOutOfScope(ctx context.Context, opts Options, rep *Report) error {
	records, err := p.source.Query(ctx, LockFilter(opts))
	if err != nil {
		return fmt.Errorf("search out of scope users: %w", err)
	}

	for _, rec := range records {
		name := rec.Name()
		if err := rec.Validate(); err != nil {
			rep.fail(&domain.StepError{Record: name, Step: domain.StepLock, Err: fmt.Errorf("%w: %w", domain.ErrLockFailure, err)})
			continue
		}
		changed, err := p.accounts.EnsureAccount(ctx, domain.Account{Name: name, Action: domain.ActionLock})
		if err != nil {
			err = &domain.StepError{Record: name, Step: domain.StepLock, Err: fmt.Errorf("%w: %w", domain.ErrLockFailure, err)}
			log.Warn().Err(err).Msg("lock failed, continuing")
			rep.fail(err)
			continue
		}
		rep.record(name, domain.StepLock, changed)
		if changed {
			log.Info().Str("user", name).Str("environment", opts.Environment).Msg("account locked")
		}
	}
	return nil
}
