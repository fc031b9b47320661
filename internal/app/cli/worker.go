package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subscription-billing/config"
	"subscription-billing/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background worker and the expiry scheduler",
	RunE:  runWorker,
}

// runWorker blocks until SIGINT or SIGTERM; asynq's Run installs its own
// signal handling.
func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), log)
	if err != nil {
		return err
	}
	defer a.Close()

	opt := asynqRedis()
	scheduler, err := jobs.NewScheduler(opt, config.EXPIRE_SCHEDULE, log)
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Shutdown()

	log.Info("worker started", zap.String("expire_schedule", config.EXPIRE_SCHEDULE))
	srv := jobs.NewServer(opt, log)
	return srv.Run(jobs.NewMux(jobs.NewExpireHandler(a.ledger, log)))
}
