package apps

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/h2hsecure/usermanage/internal/reconcile"
)

var interval time.Duration

var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Apply the user records on an interval",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		// Listen for termination signal for gracefully shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

		if err := NewDaemon(c, interval); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	DaemonCmd.Flags().DurationVar(&interval, "interval", 0, "time between passes, overrides daemon.interval")
}

func NewDaemon(c chan os.Signal, every time.Duration) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if every <= 0 {
		every = cfg.Daemon.Interval
	}
	if every <= 0 {
		return fmt.Errorf("daemon interval must be positive")
	}

	p, release, err := newProvisioner(cfg, false)
	if err != nil {
		return err
	}
	defer release()

	opts := reconcile.OptionsFromConfig(cfg)
	log.Info().Dur("interval", every).Str("search_group", opts.SearchGroup).Msg("usermanage daemon started")

	grp, ctx := errgroup.WithContext(context.Background())

	grp.Go(func() error {
		return schedule(ctx, every, func(ctx context.Context) error {
			rep, err := p.Apply(ctx, opts)
			if err != nil {
				return err
			}
			log.Info().Int("changes", rep.Changes()).Int("failures", len(rep.Failures)).Msg("pass finished")
			return finish(rep)
		})
	})

	grp.Go(func() error {
		select {
		case s := <-c:
			return fmt.Errorf("signal recieved: %v", s)
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := grp.Wait(); err != nil {
		log.Info().Err(err).Msg("closing the app")
	}

	return nil
}

// schedule runs pass now and then on every tick until ctx is done. A pass
// gets a context that is never cancelled, so a pass started before a signal
// runs to completion and shadow-utils commands are not killed halfway
// through a record.
func schedule(ctx context.Context, every time.Duration, pass func(context.Context) error) error {
	passCtx := context.WithoutCancel(ctx)
	run := func() {
		// a failed pass is retried on the next tick
		if err := pass(passCtx); err != nil {
			log.Error().Err(err).Msg("apply")
		}
	}

	run()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run()
		}
	}
}
