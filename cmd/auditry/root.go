package main

import (
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mickamy/auditry"
)

var (
	flagDSN      string
	flagDriver   string
	flagTable    string
	flagLogLevel string
	flagJSON     bool

	cfg auditry.Config
)

var rootCmd = &cobra.Command{
	Use:           "auditry",
	Short:         "Inspect and provision the audit log",
	Long:          "Command line interface for querying the append-only audit log written by auditry.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)

		cfg, err = auditry.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagDSN != "" {
			cfg.DatabaseURL = flagDSN
		}
		if flagDriver != "" {
			cfg.Driver = flagDriver
		}
		if flagTable != "" {
			cfg.Table = flagTable
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDSN, "dsn", "", "audit storage connection string (default $AUDIT_DATABASE_URL)")
	pf.StringVar(&flagDriver, "driver", "", "database/sql driver: postgres or sqlite3 (default $AUDIT_DB_DRIVER)")
	pf.StringVar(&flagTable, "table", "", "audit table name (default $AUDIT_TABLE)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level")
	pf.BoolVar(&flagJSON, "json", false, "print JSON instead of tables")
}

// openDB opens the audit storage. Unlike the writer, the CLI treats a missing
// connection string as fatal.
func openDB() (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, auditry.ErrNoStorage
	}
	db, err := sql.Open(cfg.Driver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit storage: %w", err)
	}
	return db, nil
}
