package cli

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subscription-billing/internal/jobs"
)

var enqueueOnly bool

var expireCmd = &cobra.Command{
	Use:   "expire-orders",
	Short: "Expire every pending order past its deadline",
	Long: `Run one expiry sweep now.

With --enqueue the sweep is queued for the worker instead of running in
this process.`,
	RunE: runExpire,
}

func init() {
	expireCmd.Flags().BoolVar(&enqueueOnly, "enqueue", false, "queue the sweep for the worker")
}

func runExpire(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if enqueueOnly {
		client := asynq.NewClient(asynqRedis())
		defer client.Close()
		id, err := jobs.Enqueue(ctx, client)
		if err != nil {
			return err
		}
		if id == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "a sweep is already queued")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued sweep %s\n", id)
		return nil
	}

	a, err := newApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.ledger.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	log.Info("expire sweep finished", zap.Int("expired", n))
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d orders\n", n)
	return nil
}
