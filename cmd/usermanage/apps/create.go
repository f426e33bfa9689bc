package apps

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/h2hsecure/usermanage/internal/reconcile"
)

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision the users of the search group",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := Create(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func Create(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	p, release, err := newProvisioner(cfg, false)
	if err != nil {
		return err
	}
	defer release()

	rep, err := p.Create(ctx, reconcile.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	return finish(rep)
}
