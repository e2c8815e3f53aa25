package main

import (
	"context"
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

	"p2pmarket/config"
	"p2pmarket/core/events"
	"p2pmarket/core/identity"
	"p2pmarket/core/state"
	"p2pmarket/crypto"
	"p2pmarket/integrations/exports"
	"p2pmarket/integrations/journal"
	"p2pmarket/integrations/webhooks"
	"p2pmarket/native/bank"
	"p2pmarket/native/market"
	"p2pmarket/observability"
	"p2pmarket/observability/logging"
	telemetry "p2pmarket/observability/otel"
	"p2pmarket/rpc"
	"p2pmarket/storage"
)

const serviceName = "p2pmarketd"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	issueToken := flag.String("issue-token", "", "Print an RPC bearer token for the given account and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	exportPath := flag.String("export-records", "", "Write the journal to a .csv or .jsonl file and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		account, err := crypto.ParseAccount(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid account: %v\n", err)
			os.Exit(1)
		}
		token, err := rpc.IssueToken(authConfig(cfg), account, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if *exportPath != "" {
		checksum, count, err := exportRecords(context.Background(), cfg.Journal.DSN, *exportPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to export records: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("exported %d records to %s (sha256 %s)\n", count, *exportPath, checksum)
		return
	}

	if err := run(cfg); err != nil {
		slog.Error("p2pmarketd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func authConfig(cfg *config.Config) rpc.AuthConfig {
	return rpc.AuthConfig{
		HMACSecret: cfg.RPC.JWTSecret,
		Issuer:     cfg.RPC.JWTIssuer,
		Audience:   cfg.RPC.JWTAudience,
	}
}

func run(cfg *config.Config) error {
	logger, closer := logging.SetupWithOptions(logging.Options{
		Service:    serviceName,
		Env:        cfg.Logging.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Market: telemetry.MarketResource{
			StorageBackend: cfg.Market.Backend,
			Vault:          cfg.Market.Vault,
			Journal:        cfg.Journal.DSN != "",
			Webhook:        cfg.Webhook.URL != "",
		},
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	marketCfg, err := cfg.MarketRuntime()
	if err != nil {
		return err
	}
	bankCfg, err := cfg.BankRuntime()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.Market.Backend, cfg.Market.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	bankCfg.Exempt = append(bankCfg.Exempt, marketCfg.Vault)
	custody := bank.New(state.NewManager(storage.NewTable(db, "bank/")), bankCfg)

	directory := identity.NewDirectory(state.NewManager(storage.NewTable(db, "identity/")))
	for alias, addr := range marketCfg.Aliases {
		if _, err := directory.Register(alias, addr); err != nil {
			return fmt.Errorf("register alias %q: %w", alias, err)
		}
	}

	engine, err := market.NewEngine(state.NewManager(storage.NewTable(db, "market/")), market.Config{
		Vault:          marketCfg.Vault,
		Custody:        custody,
		Directory:      directory,
		Pairs:          marketCfg.Pairs,
		Authorizer:     marketCfg.Roles,
		CommissionRate: marketCfg.CommissionRate,
	})
	if err != nil {
		return fmt.Errorf("create market engine: %w", err)
	}
	engine.SetLogger(logger)

	broadcaster := events.NewBroadcaster()
	sinks := events.Fanout{broadcaster, observability.Events()}
	var sink *journal.Sink
	if cfg.Journal.DSN != "" {
		sink, err = journal.Open(cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer sink.Close()
		sink.SetLogger(logger)
		sinks = append(sinks, sink)
		logger.Info("Journal enabled", logging.MaskField("dsn", cfg.Journal.DSN))
	}
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithTypes(cfg.Webhook.Types),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
			webhooks.WithQueueSize(cfg.Webhook.QueueSize),
			webhooks.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("start webhook dispatcher: %w", err)
		}
		defer dispatcher.Close()
		sinks = append(sinks, dispatcher)
		logger.Info("Webhook delivery enabled",
			logging.MaskField("endpoint", cfg.Webhook.URL),
			slog.Int("types", len(cfg.Webhook.Types)))
	}
	engine.SetEmitter(sinks)

	server, err := rpc.NewServer(rpc.Config{
		Engine:             engine,
		Bank:               custody,
		Journal:            sink,
		Events:             broadcaster,
		Auth:               authConfig(cfg),
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		EnableFaucet:       cfg.RPC.EnableFaucet,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.RPC.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting JSON-RPC server",
			slog.String("address", cfg.RPC.ListenAddress),
			slog.String("backend", cfg.Market.Backend))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openDatabase(backend, dataDir string) (storage.Database, error) {
	switch backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(dataDir, "market.db"))
	case config.BackendLevelDB, "":
		return storage.NewLevelDB(dataDir)
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
}

// exportRecords pages through the journal and writes every record to path.
func exportRecords(ctx context.Context, dsn, path string) (string, int, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", 0, errors.New("journal DSN is not configured")
	}
	sink, err := journal.Open(dsn)
	if err != nil {
		return "", 0, err
	}
	defer sink.Close()

	var all []journal.Record
	var after uint64
	for {
		page, err := sink.List(ctx, journal.Filter{AfterSeq: after, Limit: 1000})
		if err != nil {
			return "", 0, err
		}
		all = append(all, page...)
		if len(page) < 1000 {
			break
		}
		after = page[len(page)-1].Seq
	}

	var (
		data     []byte
		checksum string
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		data, checksum, err = exports.RecordsCSV(all)
	case ".jsonl":
		data, checksum, err = exports.RecordsJSONL(all)
	default:
		return "", 0, fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
	if err != nil {
		return "", 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", 0, err
	}
	return checksum, len(all), nil
}
