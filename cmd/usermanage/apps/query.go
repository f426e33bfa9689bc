package apps

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/h2hsecure/usermanage/internal/adapter"
	"github.com/h2hsecure/usermanage/internal/domain"
)

var QueryCmd = &cobra.Command{
	Use:   "query [expression]",
	Short: "Print the records matching a search expression",
	Long:  AppDescription,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Query(cmd.Context(), os.Stdout, strings.Join(args, " ")); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

// Query prints the records matching expr as YAML. Password hashes are never
// printed.
func Query(ctx context.Context, w io.Writer, expr string) error {
	filter, err := domain.ParseFilter(expr)
	if err != nil {
		return err
	}

	cfg, err := setup()
	if err != nil {
		return err
	}

	source, err := adapter.NewRecordSource(cfg)
	if err != nil {
		return err
	}
	if c, ok := source.(io.Closer); ok {
		defer func() {
			_ = c.Close()
		}()
	}

	records, err := source.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query %q: %w", filter.String(), err)
	}

	for i := range records {
		records[i].Password = nil
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return err
	}
	return enc.Close()
}
