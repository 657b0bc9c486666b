package main

import "github.com/spf13/cobra"

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		pg, err := a.postgres()
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		a.logger.Info("schema applied")
		return nil
	},
}
