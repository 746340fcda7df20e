// Package app assembles and runs the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"toolbridge/internal/httpclient"
	"toolbridge/internal/types"
	"toolbridge/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
)

// App encapsulates the application's lifecycle.
type App struct {
	engine            *gin.Engine
	configManager     types.ConfigManager
	httpClientManager *httpclient.HTTPClientManager
	httpServer        *http.Server
}

// AppParams defines the dependencies for creating an App.
type AppParams struct {
	dig.In

	Engine            *gin.Engine
	ConfigManager     types.ConfigManager
	HTTPClientManager *httpclient.HTTPClientManager
}

// NewApp creates a new App instance.
func NewApp(params AppParams) *App {
	return &App{
		engine:            params.Engine,
		configManager:     params.ConfigManager,
		httpClientManager: params.HTTPClientManager,
	}
}

// Start runs the application's startup sequence and begins serving.
func (a *App) Start() error {
	serverConfig := a.configManager.GetEffectiveServerConfig()
	a.configManager.DisplayServerConfig()

	a.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:        a.engine,
		ReadTimeout:    time.Duration(serverConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(serverConfig.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(serverConfig.IdleTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.Infof("Server starting on %s (version %s)", a.httpServer.Addr, version.Version)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application.
func (a *App) Stop(ctx context.Context) {
	logrus.Info("Shutting down server...")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logrus.Errorf("Server forced to shutdown: %v", err)
		}
	}

	a.httpClientManager.CloseIdleConnections()
	logrus.Info("Server exited gracefully")
}
