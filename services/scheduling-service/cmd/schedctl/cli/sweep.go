package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/completion"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var batch int
	c := &cobra.Command{
		Use:   "sweep",
		Short: "Complete every Confirmed booking whose window has ended, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			svc := booking.NewService(storage.NewPostgresStore(pool), logger, nil)
			n, err := completion.NewWorker(svc, logger, completion.WorkerConfig{BatchSize: batch}).Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed %d bookings\n", n)
			return nil
		},
	}
	c.Flags().IntVar(&batch, "batch", 100, "bookings per transaction")
	return c
}
