package apps

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/h2hsecure/usermanage/internal/adapter"
	"github.com/h2hsecure/usermanage/internal/domain"
	"github.com/h2hsecure/usermanage/internal/reconcile"
)

const (
	AppDescription = `This is a declarative user provisioning tool. Here is the options:
	- create: Provision the users of the search group and rewrite the managed group
	- remove: Remove users flagged for removal, lock users out of the environment
	- apply: Run remove then create
	- daemon: Apply on an interval
	- import: Load data bag items into the local record database
	- query: Print the records matching a search expression
	- hash-password: Hash a password for the password field of a record`
)

var (
	// Used for flags.
	ConfigPath string
	LogLevel   string
)

// setup configures logging and loads the config file.
func setup() (*domain.Config, error) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level, err := zerolog.ParseLevel(LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	return domain.LoadConfig(ConfigPath)
}

// newProvisioner wires the host adapters. The returned func releases the
// record source.
func newProvisioner(cfg *domain.Config, dryRun bool) (*reconcile.Provisioner, func(), error) {
	source, err := adapter.NewRecordSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("record source: %w", err)
	}
	release := func() {
		if c, ok := source.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("record source close")
			}
		}
	}

	files, err := adapter.NewLocalFiles(cfg.TemplateDir)
	if err != nil {
		release()
		return nil, nil, err
	}

	cmds := cfg.Accounts
	if dryRun {
		cmds.DryRun = true
	}
	files.DryRun = cmds.DryRun

	return reconcile.New(
		source,
		adapter.NewShadowAccounts(cmds, adapter.NewExecRunner()),
		files,
		adapter.NewMounts(),
		adapter.StaticTags(cfg.Tags),
		adapter.NewPlatform(),
	), release, nil
}

// finish turns the non fatal failures of a pass into an exit error.
func finish(rep *reconcile.Report) error {
	if rep == nil || len(rep.Failures) == 0 {
		return nil
	}
	for _, f := range rep.Failures {
		log.Error().Err(f).Msg("step failed")
	}
	return fmt.Errorf("%d steps failed", len(rep.Failures))
}
