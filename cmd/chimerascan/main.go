// Command chimerascan runs the fraud detection engine: HTTP API, optional
// Kafka ingestion and optional chain polling over one shared detector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/alerts"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/api"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection/structuring"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection/washtrading"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/graph"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/ingest"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/metrics"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/providers"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/storage"
	"github.com/Dragonit3/ChimeraScan-sub000/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chimerascan:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zlog.Sync()
	log := zlog.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Database, log)
	if err != nil {
		return err
	}

	ruleSet, err := config.LoadRuleSet(cfg.RulesPath)
	if err != nil {
		log.Warnw("rule set unavailable, using built-in defaults", "path", cfg.RulesPath, "error", err)
	}
	washCfg, err := config.LoadWashTradingConfig(cfg.WashTradingPath)
	if err != nil {
		return err
	}

	var chain *ethclient.Client
	if cfg.Ethereum.Enabled {
		chain, err = ethclient.DialContext(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			return fmt.Errorf("connect ethereum node: %w", err)
		}
		defer chain.Close()
	}

	denylist := providers.NewDenylist(cfg.Redis, store, log)
	ageOracle := providers.NewWalletAgeOracle(cfg.Oracle, log)
	var gasSource providers.GasBaselineSource
	if chain != nil {
		gasSource = chain
	}
	gasOracle := providers.NewGasOracle(cfg.Oracle, gasSource, log)
	var market detection.MarketDataProvider
	if cfg.Oracle.BaseURL != "" {
		market = providers.NewMarketData(cfg.Oracle.BaseURL, cfg.Oracle.Timeout, cfg.Oracle.PriceCacheTTL, log)
	}

	graphProvider := graph.NewProvider(store, log)
	washDetector := washtrading.NewDetector(washCfg, store, graphProvider, log)
	washDetector.StartSweeper(ctx)
	structuringSvc := structuring.NewService(structuring.DefaultConfig(), store, log)

	alertManager := alerts.NewManager(cfg.Alerting, cfg.Kafka, log)
	defer alertManager.Close()

	engine := detection.NewRuleEngine(ruleSet, detection.Providers{
		Denylist:    denylist,
		WalletAge:   ageOracle,
		Gas:         gasOracle,
		History:     store,
		Market:      market,
		WashTrading: washAdapter{washDetector},
		Structuring: structuringAdapter{structuringSvc},
	}, log)
	scorer := detection.NewRiskScorer(cfg.Detection, ageOracle, store, denylist, log)
	detector := detection.NewFraudDetector(cfg.Detection, engine, scorer, alertManager, store, log)

	server := api.New(cfg.Server, detector, store, denylist, metrics.New(),
		func() (*config.RuleSet, error) { return config.LoadRuleSet(cfg.RulesPath) }, zlog)

	watchRules(cfg.RulesPath, detector, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if cfg.Kafka.Enabled {
		consumer := ingest.NewConsumer(cfg.Kafka, detector, log)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if chain != nil {
		poller := ingest.NewPoller(chain, detector, cfg.Ethereum.PollInterval, log)
		g.Go(func() error { return poller.Run(gctx) })
	}

	log.Infow("chimerascan started",
		"addr", cfg.Server.Addr,
		"rules", detector.ActiveRules(),
		"kafka", cfg.Kafka.Enabled,
		"chain", cfg.Ethereum.Enabled)
	return g.Wait()
}

// watchRules hot-reloads the rule set when its file changes on disk. The
// reload endpoint stays authoritative for callers that edit rules remotely.
func watchRules(path string, detector *detection.FraudDetector, log *zap.SugaredLogger) {
	if path == "" {
		return
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		log.Warnw("rules file not watchable", "path", path, "error", err)
		return
	}
	v.OnConfigChange(func(fsnotify.Event) {
		reloadRules(path, detector, log)
	})
	v.WatchConfig()
}

// reloadRules applies a changed rules file. An unreadable file keeps the
// active rule set, a half-written edit must not blank detection.
func reloadRules(path string, detector *detection.FraudDetector, log *zap.SugaredLogger) {
	set, err := config.LoadRuleSet(path)
	if err != nil {
		log.Warnw("rules file changed but unreadable, keeping active set", "path", path, "error", err)
		return
	}
	detector.Reload(set)
}
