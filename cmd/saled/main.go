package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/config"
	"tokensale/core/events"
	"tokensale/explorer"
	"tokensale/native/sale"
	"tokensale/observability/logging"
	"tokensale/rpc"
	"tokensale/storage"
)

// custodyVault is the book-entry account all sale funds sit on.
var custodyVault = func() [20]byte {
	var addr [20]byte
	copy(addr[:], "__sale_vault__")
	return addr
}()

func main() {
	configPath := flag.String("config", "./saled.toml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("saled", cfg.Environment, cfg.LogFile)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open storage", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	state := sale.NewState(db)
	custody := sale.NewBookCustody(state, custodyVault)
	oracle := sale.NewFixedRateOracle()
	engine, adminCap := sale.NewEngine(cfg.SaleTokenSymbol)
	engine.SetState(state)
	engine.SetCustody(custody)
	engine.SetOracle(oracle)

	indexer, err := explorer.Open(filepath.Join(cfg.DataDir, "explorer.db"), logger)
	if err != nil {
		logger.Error("open explorer index", "err", err)
		os.Exit(1)
	}
	engine.SetEmitter(events.NewMultiEmitter(indexer))

	if err := applySeeds(cfg, engine, adminCap, oracle); err != nil {
		logger.Error("apply genesis seeds", "err", err)
		os.Exit(1)
	}
	if err := fundVault(cfg, state, custody); err != nil {
		logger.Error("fund custody vault", "err", err)
		os.Exit(1)
	}

	server := rpc.NewServer(rpc.ServerConfig{
		Engine:         engine,
		AdminCap:       adminCap,
		AdminJWTSecret: cfg.AdminJWTSecret,
		Logger:         logger,
		Custody:        custody,
		MutationRate:   50,
		MutationBurst:  100,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("saled listening", "addr", cfg.ListenAddress, "backend", cfg.StorageBackend)
	if err := server.Serve(ctx, cfg.ListenAddress); err != nil {
		logger.Error("http server", "err", err)
		os.Exit(1)
	}
	logger.Info("saled shut down")
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "sale.bolt"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "sale.ldb"))
	}
}

// applySeeds replays the configured genesis terms through the admin
// capability. Seeds are idempotent overwrites, so re-running them at every
// boot matches a fresh SetPlan/SetAsset from the administrator.
func applySeeds(cfg *config.Config, engine *sale.Engine, admin *sale.AdminCap, oracle *sale.FixedRateOracle) error {
	for _, seed := range cfg.OracleRates {
		rate, ok := new(big.Rat).SetString(seed.Rate)
		if !ok {
			return fmt.Errorf("oracle rate %s/%s: bad rate %q", seed.Base, seed.Quote, seed.Rate)
		}
		oracle.SetRate(seed.Base, seed.Quote, rate)
	}
	for _, seed := range cfg.Plans {
		if err := engine.SetPlan(admin, &sale.Plan{
			ID:           seed.ID,
			DiscountBps:  seed.DiscountBps,
			BonusBps:     seed.BonusBps,
			StartTime:    seed.StartTime,
			EndTime:      seed.EndTime,
			LockDuration: seed.LockDuration,
		}); err != nil {
			return fmt.Errorf("seed plan %d: %w", seed.ID, err)
		}
	}
	for _, seed := range cfg.Assets {
		if !common.IsHexAddress(seed.Address) {
			return fmt.Errorf("seed asset: bad address %q", seed.Address)
		}
		minPerUser, ok := new(big.Int).SetString(defaultAmount(seed.MinPerUser), 10)
		if !ok {
			return fmt.Errorf("seed asset %s: bad MinPerUser", seed.Symbol)
		}
		maxPerUser, ok := new(big.Int).SetString(defaultAmount(seed.MaxPerUser), 10)
		if !ok {
			return fmt.Errorf("seed asset %s: bad MaxPerUser", seed.Symbol)
		}
		hardCap, ok := new(big.Int).SetString(defaultAmount(seed.HardCap), 10)
		if !ok {
			return fmt.Errorf("seed asset %s: bad HardCap", seed.Symbol)
		}
		if err := engine.SetAsset(admin, &sale.PaymentAsset{
			Asset:      common.HexToAddress(seed.Address),
			Symbol:     seed.Symbol,
			Supported:  seed.Supported,
			MinPerUser: minPerUser,
			MaxPerUser: maxPerUser,
			HardCap:    hardCap,
		}); err != nil {
			return fmt.Errorf("seed asset %s: %w", seed.Symbol, err)
		}
	}
	return nil
}

// fundVault mints the configured sale-token supply into the custody vault on
// first boot. A non-zero vault balance means the mint already happened.
func fundVault(cfg *config.Config, state *sale.State, custody *sale.BookCustody) error {
	raw := strings.TrimSpace(cfg.SaleTokenSupply)
	if raw == "" {
		return nil
	}
	supply, ok := new(big.Int).SetString(raw, 10)
	if !ok || supply.Sign() <= 0 {
		return fmt.Errorf("bad SaleTokenSupply %q", cfg.SaleTokenSupply)
	}
	balance, err := state.BalanceGet(custody.Vault(), sale.SaleTokenAsset())
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		return nil
	}
	return custody.Mint(custody.Vault(), sale.SaleTokenAsset(), supply)
}

func defaultAmount(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "0"
	}
	return raw
}
