package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/authguard/internal/api"
	"github.com/org/authguard/internal/config"
	"github.com/org/authguard/internal/crypto"
	"github.com/org/authguard/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type daemonConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	TLSCertFile    string `yaml:"tls_cert"`
	TLSKeyFile     string `yaml:"tls_key"`
	Storage        string `yaml:"storage"` // "postgres" or "memory"
	DBUrl          string `yaml:"db_url"`
	MigrationsDir  string `yaml:"migrations_dir"`
	LogLevel       string `yaml:"log_level"`
	DeviceID       string `yaml:"device_id"`
	PolicyFile     string `yaml:"policy_file"`
	RootSecret     string `yaml:"root_secret"` // hex; prefer GUARD_ROOT_SECRET env
	BootstrapOwner string `yaml:"bootstrap_owner"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("GUARD_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := daemonConfig{
		ListenAddr:    ":8700",
		Storage:       "postgres",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("GUARD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("GUARD_ROOT_SECRET"); v != "" {
		cfg.RootSecret = v
	}
	if v := os.Getenv("GUARD_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DeviceID == "" {
		log.Fatal().Msg("device_id must be configured (or GUARD_DEVICE_ID env var)")
	}

	rootSecret, err := loadRootSecret(cfg.RootSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load root secret")
	}

	ctx := context.Background()

	var store storage.Backend
	switch cfg.Storage {
	case "memory":
		log.Warn().Msg("using in-memory storage - state is lost on restart")
		store = storage.NewMemoryBackend()
	default:
		if cfg.DBUrl == "" {
			log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
		}
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg
		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	}
	defer store.Close()

	// Guard policy: hot-reloaded from file when configured, defaults otherwise.
	var policy config.PolicySource = config.StaticPolicy{P: config.DefaultGuardPolicy()}
	if cfg.PolicyFile != "" {
		watcher, err := config.WatchPolicy(cfg.PolicyFile, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("failed to load guard policy")
		}
		defer watcher.Close()
		policy = watcher
		log.Info().Str("file", cfg.PolicyFile).Msg("guard policy loaded, watching for changes")
	}

	srv, err := api.NewServer(store, rootSecret, policy, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		DeviceID:    cfg.DeviceID,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	if err := bootstrap(ctx, srv, cfg); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("device_id", cfg.DeviceID).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// loadRootSecret parses the configured root secret, or generates an
// ephemeral one for dev runs (sessions and sealed values do not survive a
// restart without a stable secret).
func loadRootSecret(hexSecret string) ([]byte, error) {
	if hexSecret != "" {
		return crypto.ParseRootSecret(hexSecret)
	}
	secret, err := crypto.GenerateRootSecret()
	if err != nil {
		return nil, err
	}
	log.Warn().Str("root_secret", hex.EncodeToString(secret)).
		Msg("no root secret configured - generated ephemeral secret (dev only)")
	return secret, nil
}

// bootstrap enrolls the guarded device and, when configured, the initial
// owner. First startup only; both are no-ops once records exist.
func bootstrap(ctx context.Context, srv *api.Server, cfg daemonConfig) error {
	if _, err := srv.Trust().Get(ctx, cfg.DeviceID); err != nil {
		if _, err := srv.Trust().EnrollDevice(ctx, cfg.DeviceID); err != nil {
			return err
		}
		log.Info().Str("device_id", cfg.DeviceID).Msg("device enrolled")
	}

	if cfg.BootstrapOwner != "" {
		code := os.Getenv("GUARD_OWNER_CODE")
		if code == "" {
			log.Warn().Msg("bootstrap_owner configured but GUARD_OWNER_CODE not set, skipping owner enrollment")
			return nil
		}
		if err := srv.Owners().Enroll(ctx, cfg.BootstrapOwner, code); err != nil {
			return err
		}
		log.Info().Str("owner_id", cfg.BootstrapOwner).Msg("bootstrap owner enrolled")
	}
	return nil
}
