package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolbridge/internal/app"
	"toolbridge/internal/container"
	"toolbridge/internal/types"
	"toolbridge/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	c, err := container.BuildContainer()
	if err != nil {
		logrus.Fatalf("Failed to build dependency container: %v", err)
	}

	if err := c.Invoke(func(configManager types.ConfigManager) {
		utils.SetupLogger(configManager)
	}); err != nil {
		logrus.Fatalf("Failed to setup logger: %v", err)
	}
	defer utils.CloseLogger()

	if err := c.Invoke(runApp); err != nil {
		logrus.Fatalf("Application run failed: %v", err)
	}
}

func runApp(application *app.App, configManager types.ConfigManager) {
	if err := application.Start(); err != nil {
		logrus.Fatalf("Failed to start application: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// A second signal aborts the graceful shutdown immediately.
	go func() {
		<-quit
		logrus.Warn("Forced shutdown")
		os.Exit(1)
	}()

	timeout := time.Duration(configManager.GetEffectiveServerConfig().GracefulShutdownTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	application.Stop(ctx)
}
