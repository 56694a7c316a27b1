package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	meliconnect "github.com/goliatone/go-meli-connect"
	"github.com/goliatone/go-meli-connect/core"
)

func newRootCommand(lookup lookupFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "meli-connect",
		Short: "MercadoLibre store connection service",
		Long: `meli-connect registers MercadoLibre seller apps, runs the OAuth
authorization code flow for them and keeps their access tokens fresh.

Configuration is read from MELI_* environment variables and an optional .env file.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(lookup))
	root.AddCommand(newMigrateCommand(lookup))
	return root
}

// loadServiceConfig resolves core.Config from the environment through the
// same cfgx provider the service uses.
func loadServiceConfig(ctx context.Context, lookup lookupFunc) (meliconnect.Config, *core.CfgxConfigProvider, error) {
	raw, err := serviceConfigRaw(lookup)
	if err != nil {
		return meliconnect.Config{}, nil, err
	}
	provider := core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: raw})
	cfg, err := provider.Load(ctx, meliconnect.DefaultConfig())
	if err != nil {
		return meliconnect.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, provider, nil
}
