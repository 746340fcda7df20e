// Package container wires the application's dependencies together.
package container

import (
	"toolbridge/internal/app"
	"toolbridge/internal/config"
	"toolbridge/internal/diag"
	"toolbridge/internal/httpclient"
	"toolbridge/internal/proxy"
	"toolbridge/internal/router"
	"toolbridge/internal/rules"
	"toolbridge/internal/types"

	"go.uber.org/dig"
)

// BuildContainer creates the dependency injection container and registers
// all application components.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		config.NewManager,
		httpclient.NewHTTPClientManager,
		newRuleSet,
		newSink,
		proxy.NewProxyServer,
		router.NewRouter,
		app.NewApp,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

func newRuleSet(configManager types.ConfigManager) (*rules.Set, error) {
	return rules.Load(configManager.GetTranslationConfig().RulesFile)
}

func newSink(configManager types.ConfigManager) diag.Sink {
	return diag.New(configManager.GetTranslationConfig().DumpDir)
}
