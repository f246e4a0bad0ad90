package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/casegate/internal/application"
	"github.com/bryanwahyu/casegate/internal/application/worker"
	"github.com/bryanwahyu/casegate/internal/config"
	"github.com/bryanwahyu/casegate/internal/domain/archive"
	"github.com/bryanwahyu/casegate/internal/infra/ai/openai"
	"github.com/bryanwahyu/casegate/internal/infra/ai/static"
	mysqlp "github.com/bryanwahyu/casegate/internal/infra/db/mysql"
	"github.com/bryanwahyu/casegate/internal/infra/db/postgres"
	"github.com/bryanwahyu/casegate/internal/infra/db/sqlite"
	"github.com/bryanwahyu/casegate/internal/infra/gatewayclient"
	minioStore "github.com/bryanwahyu/casegate/internal/infra/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "casegate-worker",
		Short: "Trusted worker for the casegate intake gateway",
		Long: `Claims cases from the gateway, archives the personal data into the
archive database, confirms the purge and reports an AI assessment back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.Path(), "path to config.yaml")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewOnceCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	return cmd
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}
	return cfg, nil
}

// openArchive connects the configured driver and applies its schema.
func openArchive(ctx context.Context, cfg *config.Config) (*sql.DB, archive.Repository, error) {
	var (
		db      *sql.DB
		err     error
		migrate func(context.Context, *sql.DB) error
		repo    func(*sql.DB) archive.Repository
	)
	switch cfg.Database.Driver {
	case "sqlite":
		db, err = sqlite.Open(ctx, cfg.Database.Path)
		migrate = func(context.Context, *sql.DB) error { return nil } // Open migrates
		repo = func(db *sql.DB) archive.Repository { return sqlite.NewCaseRepository(db) }
	case "mysql":
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		migrate = mysqlp.Migrate
		repo = func(db *sql.DB) archive.Repository { return mysqlp.NewCaseRepository(db) }
	case "postgres":
		db, err = postgres.Connect(ctx, cfg.PostgresDSN())
		migrate = postgres.Migrate
		repo = func(db *sql.DB) archive.Repository { return postgres.NewCaseRepository(db) }
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s connect: %w", cfg.Database.Driver, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%s migrate: %w", cfg.Database.Driver, err)
	}
	return db, repo(db), nil
}

func newAnalyzer(cfg *config.Config) (archive.Analyzer, error) {
	switch cfg.AI.Provider {
	case "static":
		return static.Analyzer{}, nil
	case "openai":
		if cfg.AI.BaseURL != "" {
			return openai.NewClientWithBaseURL(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL), nil
		}
		return openai.NewClient(cfg.AI.APIKey, cfg.AI.Model), nil
	}
	return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
}

// buildWorker wires a worker.Service from config. The returned closer
// releases the archive pool.
func buildWorker(ctx context.Context, cfg *config.Config) (*worker.Service, func() error, error) {
	db, repo, err := openArchive(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var images archive.ImageStore
	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("minio init: %w", err)
		}
		images = store
	} else {
		log.Printf("worker: minio endpoint empty, images will not be archived")
	}

	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	svc := &worker.Service{
		Gateway:  gatewayclient.New(cfg.Worker.GatewayURL, cfg.Auth.APIKey, cfg.Worker.Timeout),
		Repo:     repo,
		Images:   images,
		Analyzer: analyzer,
		Clock:    application.SystemClock{},
	}
	return svc, db.Close, nil
}

var errNothingToDo = errors.New("queue empty")
