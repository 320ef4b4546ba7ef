package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukerupert/mealsync/internal/auth"
	"github.com/dukerupert/mealsync/internal/backup"
	"github.com/dukerupert/mealsync/internal/config"
	"github.com/dukerupert/mealsync/internal/database"
	"github.com/dukerupert/mealsync/internal/diarysync"
	"github.com/dukerupert/mealsync/internal/gateway"
	"github.com/dukerupert/mealsync/internal/logging"
	"github.com/dukerupert/mealsync/internal/server"
	"github.com/dukerupert/mealsync/internal/store"
	"github.com/spf13/cobra"
)

var (
	configFile string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "mealsync",
	Short: "Food diary store with background sync",
	Long: `mealsync keeps a local food diary in SQLite and syncs analyzed entries
to a remote backend every few minutes.

Configuration comes from MEALSYNC_* environment variables, an optional .env
file in the working directory and an optional config file (--config).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a config file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "diary", Title: "Diary:"},
		&cobra.Group{ID: "sync", Title: "Sync and backup:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the set of components a command works with.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	srv    *server.Server
	logger *slog.Logger
}

func openApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFile)

	userID, err := auth.ResolveUserID(cfg.UserID, cfg.RemoteToken, store.OfflineUserID)
	if err != nil {
		logger.Warn("could not read user id from access token, using fallback", "user", userID, "error", err)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	srv := server.New(db, server.Options{
		UserID: userID,
		Gateway: gateway.Config{
			BaseURL: cfg.RemoteURL,
			APIKey:  cfg.RemoteAPIKey,
			Token:   cfg.RemoteToken,
		},
		Sync: diarysync.SchedulerConfig{
			Interval:    cfg.SyncInterval,
			PullOnStart: cfg.PullOnStart,
		},
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  cfg.Backup.Endpoint,
				Bucket:    cfg.Backup.Bucket,
				Region:    cfg.Backup.Region,
				AccessKey: cfg.Backup.AccessKey,
				SecretKey: cfg.Backup.SecretKey,
			},
			Passphrase: cfg.Backup.Passphrase,
			Interval:   cfg.Backup.Interval,
			Retention:  cfg.Backup.Retention,
		},
		APIToken:    cfg.APIToken,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)

	return &app{cfg: cfg, db: db, srv: srv, logger: logger}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
