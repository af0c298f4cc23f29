package main

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/logger"
)

func main() {
	_ = godotenv.Load()

	var dsn string
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the clinic database schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres DSN (defaults to POSTGRES_DSN)")

	actions := []struct {
		action string
		short  string
	}{
		{db.ActionUp, "Apply all pending migrations"},
		{db.ActionDown, "Roll back the most recent migration"},
		{db.ActionStepUp, "Apply the next pending migration"},
		{db.ActionDrop, "Roll back every migration"},
	}
	for _, a := range actions {
		rootCmd.AddCommand(&cobra.Command{
			Use:   a.action,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(dsn, a.action)
			},
		})
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMigrate(dsn, action string) error {
	if dsn == "" {
		return errors.New("POSTGRES_DSN or --dsn is required")
	}

	log, err := logger.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := db.Migrate(dsn, action, log); err != nil {
		log.Error("migration failed", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}
