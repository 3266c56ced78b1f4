package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/MessagePipe/internal/lockfile"
	"github.com/BTreeMap/MessagePipe/internal/service"
	"github.com/BTreeMap/MessagePipe/internal/store"
	"github.com/BTreeMap/MessagePipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MessagePipe state data
	DefaultStateDir = "/var/lib/messagepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "messages.db"
	// shutdownGrace bounds how long graceful shutdown may take
	shutdownGrace = 15 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One engine per store. A second instance would double-deliver events.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	engine, err := service.NewEngine(buildEngineOptions(flags)...)
	if err != nil {
		slog.Error("Failed to assemble engine", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}
	slog.Info("MessagePipe running", "state_dir", *flags.stateDir, "api_addr", *flags.apiAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	engine.Stop(shutdownCtx)
	slog.Info("MessagePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DSN         string
	DatabaseURL string
	StateDir    string
	APIAddr     string
	HelperAddr  string
	SendCommand string
	PrivateURL  string
	SMSTo       string
	RefreshCron string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	apiAddr     *string
	helperAddr  *string
	sendCommand *string
	privateURL  *string
	smsTo       *string
	refreshCron *string
	watchStore  *bool
}

// initializeLogger sets up structured logging, honoring MESSAGEPIPE_DEBUG
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("MESSAGEPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DSN:         os.Getenv("MESSAGE_DB_DSN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("MESSAGEPIPE_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		HelperAddr:  os.Getenv("HELPER_ADDR"),
		SendCommand: os.Getenv("SEND_COMMAND"),
		PrivateURL:  os.Getenv("PRIVATE_SEND_URL"),
		SMSTo:       os.Getenv("SMS_FORWARD_TO"),
		RefreshCron: os.Getenv("SNAPSHOT_REFRESH_CRON"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MESSAGEPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DSN == "" {
		config.DSN = config.DatabaseURL
	}
	if config.DSN == "" {
		config.DSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DSN)
	}

	slog.Debug("environment variables loaded",
		"MESSAGE_DB_DSN_SET", config.DSN != "",
		"MESSAGEPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"HELPER_ADDR", config.HelperAddr,
		"SEND_COMMAND_SET", config.SendCommand != "",
		"PRIVATE_SEND_URL_SET", config.PrivateURL != "",
		"SMS_FORWARD_TO_SET", config.SMSTo != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for MessagePipe data (overrides $MESSAGEPIPE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DSN, "message store DSN, SQLite path or PostgreSQL URL (overrides $MESSAGE_DB_DSN or $DATABASE_URL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		helperAddr:  flag.String("helper-addr", config.HelperAddr, "helper channel listen address (overrides $HELPER_ADDR)"),
		sendCommand: flag.String("send-command", config.SendCommand, "external command driving the primary send channel (overrides $SEND_COMMAND)"),
		privateURL:  flag.String("private-url", config.PrivateURL, "private send channel endpoint URL (overrides $PRIVATE_SEND_URL)"),
		smsTo:       flag.String("sms-to", config.SMSTo, "forward message events via SMS to this number (overrides $SMS_FORWARD_TO)"),
		refreshCron: flag.String("refresh-cron", config.RefreshCron, "cron expression for the full snapshot refresh (overrides $SNAPSHOT_REFRESH_CRON)"),
		watchStore:  flag.Bool("watch-store", true, "watch the SQLite store file and poll immediately on changes"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"helperAddr", *flags.helperAddr,
		"sendCommand_set", *flags.sendCommand != "",
		"privateURL_set", *flags.privateURL != "",
		"smsTo_set", *flags.smsTo != "",
		"refreshCron", *flags.refreshCron,
		"watchStore", *flags.watchStore)

	// Follow a relocated state directory when the DSN was derived from it
	if *flags.dbDSN == config.DSN && config.DSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return err
		}
	}
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	return nil
}

// buildEngineOptions constructs engine configuration options from flags
func buildEngineOptions(flags Flags) []service.Option {
	opts := []service.Option{
		service.WithDSN(*flags.dbDSN),
		service.WithStoreWatcher(*flags.watchStore),
	}
	if *flags.apiAddr != "" {
		opts = append(opts, service.WithAPIAddr(*flags.apiAddr))
	}
	if *flags.helperAddr != "" {
		opts = append(opts, service.WithHelperAddr(*flags.helperAddr))
	}
	if *flags.sendCommand != "" {
		opts = append(opts, service.WithSendCommand(*flags.sendCommand))
	}
	if *flags.privateURL != "" {
		opts = append(opts, service.WithPrivateURL(*flags.privateURL))
	}
	if *flags.smsTo != "" {
		opts = append(opts, service.WithSMSTo(*flags.smsTo))
	}
	if *flags.refreshCron != "" {
		opts = append(opts, service.WithRefreshSpec(*flags.refreshCron))
	}
	if d := util.ParseDurationEnv("POLL_INTERVAL", 0); d > 0 {
		opts = append(opts, service.WithPollInterval(d))
	}
	if d := util.ParseDurationEnv("GROUP_POLL_INTERVAL", 0); d > 0 {
		opts = append(opts, service.WithGroupPollInterval(d))
	}
	if d := util.ParseDurationEnv("MATCH_DEADLINE", 0); d > 0 {
		opts = append(opts, service.WithMatchDeadline(d))
	}
	if n := util.ParseIntEnv("DEDUP_CAPACITY", 0); n > 0 {
		opts = append(opts, service.WithDedupCapacity(n))
	}
	return opts
}
