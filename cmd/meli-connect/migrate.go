package main

import (
	"github.com/spf13/cobra"

	"github.com/goliatone/go-meli-connect/adapters/gologger"
)

func newMigrateCommand(lookup lookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the connection schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(lookup)
			if err != nil {
				return err
			}
			logger := gologger.NewJSONLogger(s.LogLevel)

			client, dialect, err := openDatabase(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("migrations applied", "dialect", dialect)
			return nil
		},
	}
}
