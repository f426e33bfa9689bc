package apps

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/h2hsecure/usermanage/internal/reconcile"
)

var RemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove users flagged for removal and lock users out of scope",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := Remove(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func Remove(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	p, release, err := newProvisioner(cfg, false)
	if err != nil {
		return err
	}
	defer release()

	rep, err := p.Remove(ctx, reconcile.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return finish(rep)
}
