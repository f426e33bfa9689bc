package apps

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/h2hsecure/usermanage/internal/adapter"
)

var ImportCmd = &cobra.Command{
	Use:   "import [item files]",
	Short: "Load data bag items into the local record database",
	Long:  AppDescription,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Import(cmd.Context(), args); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func Import(ctx context.Context, paths []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	db, err := adapter.NewBoltStore(cfg.Source.DBPath, cfg.DataBag, false)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	for _, p := range paths {
		rec, ok, err := adapter.ReadRecordFile(p)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn().Str("path", p).Msg("not a data bag item, skipped")
			continue
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if err := db.PutRecord(ctx, rec); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		log.Info().Str("id", rec.ID).Str("bag", cfg.DataBag).Msg("record imported")
	}

	return nil
}
