package main

import (
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stderr)

	if err := godotenv.Load(); err != nil {
		log.Debug("Could not load .env file.")
	}

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("auditry failed")
		os.Exit(1)
	}
}
