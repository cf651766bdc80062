package cli

import (
	"fmt"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var list bool
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations (DATABASE_URL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				files, err := migrations.Files()
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(out, f)
				}
				return nil
			}

			ctx := cmd.Context()
			pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := migrations.Up(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, f := range applied {
				fmt.Fprintf(out, "applied %s\n", f)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&list, "list", false, "list embedded migrations without connecting")
	return c
}
