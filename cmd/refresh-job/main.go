// Command refresh-job runs one refresh job and exits, for external
// schedulers. It exits non-zero when the job cannot read its forms.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trainee-forms/forms-backend/internal/app"
	"trainee-forms/forms-backend/internal/config"
	"trainee-forms/forms-backend/pkg/lock"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the JSON config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] <formr-parta|formr-partb|ltft>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(run(*configPath, flag.Arg(0)))
}

func run(configPath, job string) int {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialise application", zap.Error(err))
		return 1
	}
	defer application.Close()

	result, err := application.Scheduler.RunNow(ctx, job)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		logger.Info("Refresh job already running elsewhere", zap.String("job", job))
		return 0
	case err != nil:
		logger.Error("Refresh job failed", zap.String("job", job), zap.Error(err))
		return 1
	}

	logger.Info("Refresh job finished",
		zap.String("job", job),
		zap.Int("published", result.Published),
		zap.Int("total", result.Total))
	return 0
}
