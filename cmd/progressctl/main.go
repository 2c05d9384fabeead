// Command progressctl administers the progress analytics servers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/setup"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := setup.NewRootCommand(logger).ExecuteContext(ctx); err != nil {
		logger.WithError(err).Error("progressctl failed")
		stop()
		os.Exit(1)
	}
}
