// Package reconcile converges the accounts, groups and home directories of a
// host to the user records of a data bag.
//
// A create pass visits the matching records strictly in order: the user's
// own group, the account, then the content of the home directory. Group
// membership and shared keys are collected along the way and written once,
// after the last record. Removal and locking run as a separate pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// Options is the configuration of one pass.
type Options struct {
	SearchGroup         string
	GroupName           string
	GroupID             *int
	Environment         string
	RequireEnvironments bool
	ManageNFSHomeDirs   bool
	// PlatformFamily overrides the detected platform family.
	PlatformFamily string
	HomeFailure    string
	SharedAccount  domain.SharedAccountConfig
	OpenIDFile     string
}

// OptionsFromConfig extracts the pass options from the config file.
func OptionsFromConfig(cfg *domain.Config) Options {
	return Options{
		SearchGroup:         cfg.SearchGroup,
		GroupName:           cfg.GroupName,
		GroupID:             cfg.GroupID,
		Environment:         cfg.Environment,
		RequireEnvironments: cfg.RequireEnvironments,
		ManageNFSHomeDirs:   cfg.ManageNFSHomeDirs,
		PlatformFamily:      cfg.PlatformFamily,
		HomeFailure:         cfg.HomeFailure,
		SharedAccount:       cfg.SharedAccount,
		OpenIDFile:          cfg.OpenID.AllowedFile,
	}
}

// Provisioner runs reconciliation passes against its collaborators.
type Provisioner struct {
	source   domain.RecordSource
	accounts domain.AccountManager
	files    domain.FileManager
	mounts   domain.MountDetector
	tags     domain.HostTagger
	platform domain.PlatformDetector
}

func New(
	source domain.RecordSource,
	accounts domain.AccountManager,
	files domain.FileManager,
	mounts domain.MountDetector,
	tags domain.HostTagger,
	platform domain.PlatformDetector,
) *Provisioner {
	return &Provisioner{
		source:   source,
		accounts: accounts,
		files:    files,
		mounts:   mounts,
		tags:     tags,
		platform: platform,
	}
}

// CreateFilter selects the records a create pass provisions.
func CreateFilter(opts Options) domain.Filter {
	f := domain.And{domain.Term{Field: "groups", Value: opts.SearchGroup}}
	if opts.RequireEnvironments {
		f = append(f, domain.Or{
			domain.Term{Field: "environments", Value: "all"},
			domain.Term{Field: "environments", Value: opts.Environment},
		})
	}
	return append(f, domain.Not{Inner: domain.Term{Field: "action", Value: string(domain.ActionRemove)}})
}

// Create provisions every matching record and rewrites the managed group.
func (p *Provisioner) Create(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{}

	filter := CreateFilter(opts)
	records, err := p.source.Query(ctx, filter)
	if errors.Is(err, domain.ErrSearchUnavailable) {
		log.Warn().Err(err).Msg("record search is not available, skipping create")
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("search %q: %w", filter, err)
	}

	base, err := p.baseDir(ctx, opts)
	if err != nil {
		return rep, err
	}

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return rep, &domain.StepError{Record: rec.Name(), Step: domain.StepValidate, Err: err}
		}
	}

	agg := NewGroupAggregator()
	for _, rec := range records {
		if err := p.reconcileRecord(ctx, opts, base, rec, agg, rep); err != nil {
			return rep, err
		}
	}

	if err := p.reconcileSharedAccount(ctx, opts, base, agg.SharedKeys(), rep); err != nil {
		return rep, err
	}

	rep.OpenIDs = agg.OpenIDs()
	p.writeOpenIDs(ctx, opts, rep.OpenIDs, rep)

	managed := agg.ManagedGroup(opts.GroupName, opts.GroupID)
	changed, err := p.accounts.EnsureGroup(ctx, domain.Group{
		Name:           managed.Name,
		GID:            managed.GID,
		Members:        managed.Members,
		ReplaceMembers: true,
	})
	if err != nil {
		return rep, &domain.StepError{Step: domain.StepManagedGroup, Err: err}
	}
	rep.record(managed.Name, domain.StepManagedGroup, changed)
	rep.Members = managed.Members

	log.Info().
		Int("records", len(records)).
		Int("changes", rep.Changes()).
		Int("failures", len(rep.Failures)).
		Str("group", managed.Name).
		Strs("members", managed.Members).
		Msg("create pass finished")

	return rep, nil
}

// Apply runs the removal pass then the create pass, like a full converge.
func (p *Provisioner) Apply(ctx context.Context, opts Options) (*Report, error) {
	rep, err := p.Remove(ctx, opts)
	if err != nil {
		return rep, err
	}
	created, err := p.Create(ctx, opts)
	rep.Merge(created)
	return rep, err
}

func (p *Provisioner) baseDir(ctx context.Context, opts Options) (string, error) {
	family := opts.PlatformFamily
	if family == "" {
		if p.platform == nil {
			return "", fmt.Errorf("%w: no platform family configured", domain.ErrUnresolvedPlatform)
		}
		detected, err := p.platform.PlatformFamily(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrUnresolvedPlatform, err)
		}
		family = detected
	}
	return ResolveBaseDir(family)
}

func (p *Provisioner) reconcileRecord(ctx context.Context, opts Options, base string, rec domain.UserRecord, agg *GroupAggregator, rep *Report) error {
	name := rec.Name()
	agg.AddMember(name)
	agg.AddOpenIDs(rec.OpenIDs)

	home := ResolveHomeDir(rec, base)
	if err := p.reconcileAccount(ctx, rec, home, rep); err != nil {
		return err
	}

	manage, err := ShouldManageHomeFiles(ctx, p.mounts, home, opts.ManageNFSHomeDirs)
	if err != nil {
		return p.homeFailure(opts, rep, &domain.StepError{Record: name, Step: domain.StepMounts, Err: err})
	}
	if !manage {
		log.Debug().Str("user", name).Str("home", home).Msg("not managing home files")
		return nil
	}
	log.Debug().Str("user", name).Str("home", home).Msg("managing home files")

	hd, errs := p.reconcileHome(ctx, rec, home, rep)
	rep.Homes = append(rep.Homes, hd)
	for _, err := range errs {
		if err := p.homeFailure(opts, rep, err); err != nil {
			return err
		}
	}

	if rec.SharedAccount {
		agg.AddSharedKeys(rec.SSHKeys)
	}
	return nil
}

// homeFailure applies the configured policy to a home content failure.
func (p *Provisioner) homeFailure(opts Options, rep *Report, err error) error {
	if opts.HomeFailure == domain.HomeFailureAbort {
		return err
	}
	log.Error().Err(err).Msg("home content failed, continuing")
	rep.fail(err)
	return nil
}

func (p *Provisioner) writeOpenIDs(ctx context.Context, opts Options, ids []string, rep *Report) {
	if opts.OpenIDFile == "" {
		return
	}
	changed, err := p.files.EnsureFile(ctx, domain.File{
		Path:      opts.OpenIDFile,
		Template:  TemplateAllowedOpenIDs,
		Owner:     "root",
		Group:     "root",
		Mode:      0o644,
		Variables: map[string]any{"OpenIDs": ids},
	})
	if err != nil {
		err = &domain.StepError{Step: domain.StepOpenIDs, Err: err}
		log.Error().Err(err).Msg("writing allowed openids failed")
		rep.fail(err)
		return
	}
	rep.record(opts.OpenIDFile, domain.StepOpenIDs, changed)
}
