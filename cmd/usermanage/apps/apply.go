package apps

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/h2hsecure/usermanage/internal/reconcile"
)

var dryRun bool

var ApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Remove then create, like a full converge",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := Apply(cmd.Context(), dryRun); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	ApplyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the changes instead of applying them")
}

func Apply(ctx context.Context, dryRun bool) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	p, release, err := newProvisioner(cfg, dryRun)
	if err != nil {
		return err
	}
	defer release()

	rep, err := p.Apply(ctx, reconcile.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	log.Info().Int("changes", rep.Changes()).Bool("dry_run", dryRun).Msg("apply finished")
	return finish(rep)
}
