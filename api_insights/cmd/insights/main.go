package main

import (
	"context"

	insightsconfig "kolinsights/api_insights/internal/config"
	"kolinsights/pkg/config"
	"kolinsights/pkg/logging"
	"kolinsights/pkg/server"
	"kolinsights/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("insights")
	config.LoadEnv(logger)

	logger.WithField("version", version.String()).Info("Starting KOL insights API")

	cfg := insightsconfig.LoadConfig()

	app, err := assemble(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to assemble service")
	}
	defer app.Close()

	serverConfig := server.DefaultConfig("insights", cfg.Port)
	if err := server.Start(serverConfig, app.router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
