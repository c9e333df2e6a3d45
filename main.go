package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tradedesk/api"
	"tradedesk/config"
	"tradedesk/crypto"
	"tradedesk/logger"
	"tradedesk/reconcile"
	"tradedesk/store"
	"tradedesk/trader"

	"github.com/joho/godotenv"
)

// serviceConfig maps env configuration onto the reconciliation service
func serviceConfig(cfg *config.Config) reconcile.ServiceConfig {
	sc := reconcile.DefaultServiceConfig()
	sc.Retry.MaxAttempts = cfg.ReconcileMaxAttempts
	sc.Lookback = cfg.ReconcileLookback
	sc.Limit = cfg.ReconcileLimit
	sc.PerpSuffixes = cfg.PerpSuffixes
	sc.SideMappings = make(map[string]reconcile.SideMapping, len(config.Exchanges))
	for _, exchange := range config.Exchanges {
		sc.SideMappings[exchange] = reconcile.ParseSideMapping(cfg.SideMapping(exchange))
	}
	return sc
}

func main() {
	_ = godotenv.Load()

	config.Init()
	cfg := config.Get()

	if err := logger.Init(&logger.Config{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		logger.Warnf("⚠️  Logger init failed, using stdout: %v", err)
	}
	defer logger.Shutdown()

	logger.Info("╔════════════════════════════════════════════╗")
	logger.Info("║    📒 Trade journal - closed PnL reconcile   ║")
	logger.Info("╚════════════════════════════════════════════╝")

	dbPath := cfg.DBPath
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	logger.Infof("📋 Opening database: %s", dbPath)
	st, err := store.New(dbPath)
	if err != nil {
		logger.Fatalf("❌ Failed to open database: %v", err)
	}
	defer st.Close()

	logger.Info("🔐 Initializing crypto service...")
	cryptoService, err := crypto.NewCryptoService()
	if err != nil {
		logger.Fatalf("❌ Failed to initialize crypto service: %v", err)
	}
	st.SetCryptoFuncs(cryptoService.StorageFuncs())
	logger.Info("✅ Crypto service ready")

	policy, err := trader.ParseMalformedPolicy(cfg.MalformedPolicy)
	if err != nil {
		logger.Fatalf("❌ %v", err)
	}

	sc := serviceConfig(cfg)
	logger.Infof("⚙️  Reconcile: %d attempts, %s lookback, limit %d, suffixes [%s], malformed=%s",
		sc.Retry.MaxAttempts, sc.Lookback, sc.Limit, strings.Join(sc.PerpSuffixes, " "), policy)
	for exchange, mapping := range sc.SideMappings {
		logger.Infof("  • %s side mapping: %s", exchange, mapping)
	}

	service := reconcile.NewService(st.Trade(), st.Exchange(), st.Event(), trader.SourceFactory(policy), sc)

	var sweeper *reconcile.Sweeper
	if cfg.SweepInterval > 0 {
		sweeper = reconcile.NewSweeper(service, st.Trade(), cfg.SweepInterval, cfg.SweepMaxAge, cfg.SweepMaxTries)
		sweeper.Start()
	} else {
		logger.Info("🧹 Reconcile sweeper disabled (SWEEP_INTERVAL=0)")
	}

	apiServer := api.NewServer(st, service, cfg.APIServerPort)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Errorf("❌ API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("📛 Shutdown signal received, stopping...")

	if sweeper != nil {
		sweeper.Stop()
	}

	if err := apiServer.Shutdown(); err != nil {
		logger.Warnf("⚠️  Error shutting down API server: %v", err)
	} else {
		logger.Info("✅ API server stopped")
	}

	logger.Info("👋 Bye")
}
