package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"epireport/internal/api"
	"epireport/internal/config"
	"epireport/internal/engine"
	"epireport/internal/ingest"
	"epireport/internal/logging"
	"epireport/internal/metrics"
	"epireport/internal/notify"
	"epireport/internal/pipeline"
	"epireport/internal/review"
	"epireport/internal/scheduler"
	"epireport/internal/storage"
)

var version = "dev"

const usage = `usage: epireport [-config path] <command> [flags]

commands:
  serve                 run the ingest endpoint, api and background jobs (default)
  migrate               create the database schema
  seed -file path       load reference data from a YAML or JSON file
  init-config -out path write the default configuration
`

func main() {
	configPath := flag.String("config", os.Getenv("EPIREPORT_CONFIG"), "config file (yaml or json)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(config.ResolvePath(*configPath))
	case "migrate":
		err = migrate(config.ResolvePath(*configPath))
	case "seed":
		err = seed(config.ResolvePath(*configPath), args)
	case "init-config":
		err = initConfig(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "epireport %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func serve(path string) error {
	cfgManager, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLoggerFromConfig(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	metricsStore := metrics.NewStore()
	templates, err := notify.LoadTemplates(cfg.Notify.DefaultLanguage, cfg.Notify.LocalesDir)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	recent := notify.NewRecent(cfg.Notify.RecentLimit)
	dispatcher := notify.NewDispatcher(notify.NewPublisher(cfg.Notify, logger), store, logger, metricsStore, recent, cfg.Notify.Timeout)
	defer dispatcher.Close()

	eng := engine.NewEngine(cfg, logger, metricsStore)
	p := pipeline.New(cfg, store, eng, templates, dispatcher, metricsStore, logger)

	allow, err := ingest.NewAllowList(cfg.Ingest.APIKeys, cfg.Ingest.APIKeysFile)
	if err != nil {
		return err
	}
	if allow.Len() == 0 {
		logger.Error("api key allow list is empty, every gateway request will be rejected")
	}

	var queue ingest.Enqueuer
	if cfg.Ingest.Queue.Enabled {
		q, err := ingest.NewQueue(cfg.Ingest.Queue, logger)
		if err != nil {
			return err
		}
		defer q.Close()
		queue = q
		ingest.StartConsumer(ctx, cfg.Ingest.Queue, p, logger)
	}

	var middleware []func(http.Handler) http.Handler
	limit, err := ingest.RateLimit(cfg.Ingest.RateLimit, metricsStore)
	if err != nil {
		return err
	}
	if limit != nil {
		middleware = append(middleware, limit)
	}
	ingest.StartREST(ctx, ingest.NewRESTServer(cfgManager, p, queue, allow, metricsStore, logger), middleware...)

	reviewSvc := review.NewService(store, dispatcher, metricsStore, logger)
	api.Start(ctx, api.New(cfgManager, store, reviewSvc, recent, metricsStore, allow, logger, version))

	sched := scheduler.New(logger)
	if err := sched.Add("api-keys-reload", cfg.Scheduler.APIKeysReload, allow.Reload); err != nil {
		return err
	}
	if err := sched.Add("config-reload", cfg.Scheduler.ConfigReload, scheduler.ConfigReload(cfgManager, p.UpdateConfig, logger)); err != nil {
		return err
	}
	sched.Start()

	logger.Info("epireport started", "version", version, "storage", store.Driver(), "config", cfgManager.Path())
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	return nil
}

func migrate(path string) error {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLoggerFromConfig(cfg)
	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("schema ready", "storage", store.Driver())
	return nil
}

func seed(path string, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "", "fixtures file (yaml or json)")
	_ = fs.Parse(args)
	if *file == "" {
		return errors.New("-file is required")
	}
	fixtures, err := loadFixtures(*file)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLoggerFromConfig(cfg)
	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Seed(ctx, fixtures); err != nil {
		return err
	}
	logger.Info("reference data loaded",
		"national_societies", len(fixtures.NationalSocieties),
		"gateways", len(fixtures.Gateways),
		"data_collectors", len(fixtures.DataCollectors),
		"project_health_risks", len(fixtures.ProjectHealthRisks),
	)
	return nil
}

func initConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	out := fs.String("out", "epireport.yaml", "destination file")
	_ = fs.Parse(args)
	if _, err := os.Stat(*out); err == nil {
		return fmt.Errorf("%s already exists", *out)
	}
	return config.Save(*out, config.DefaultConfig())
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	store, err := storage.NewStore(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// loadFixtures reads YAML through a generic document so the model's json
// tags name the fields in both formats.
func loadFixtures(path string) (storage.Fixtures, error) {
	var f storage.Fixtures
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return f, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return f, fmt.Errorf("convert %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}
