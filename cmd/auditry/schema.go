package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mickamy/auditry"
)

func init() {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the audit table",
	}

	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the audit table and its indexes if they are missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := auditry.EnsureSchema(cmd.Context(), db, cfg); err != nil {
				return err
			}
			log.WithField("table", cfg.Table).Info("Audit schema is in place")
			return nil
		},
	}

	schemaCmd.AddCommand(ensureCmd)
	rootCmd.AddCommand(schemaCmd)
}
