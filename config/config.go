package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config drives the saled node: listen surface, storage, authorization, and
// the genesis sale terms applied at startup.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	StorageBackend  string `toml:"StorageBackend"`
	Environment     string `toml:"Environment"`
	LogFile         string `toml:"LogFile"`
	AdminJWTSecret  string `toml:"AdminJWTSecret"`
	SaleTokenSymbol string `toml:"SaleTokenSymbol"`
	// SaleTokenSupply is minted into the custody vault on first boot so
	// claims have tokens to release. Decimal string, empty disables.
	SaleTokenSupply string `toml:"SaleTokenSupply"`

	OracleRates []OracleRate `toml:"OracleRate"`
	Plans       []PlanSeed   `toml:"Plan"`
	Assets      []AssetSeed  `toml:"Asset"`
}

// OracleRate seeds one pair into the fixed-rate oracle. Rate is a decimal or
// rational string (e.g. "12.5" or "25/2").
type OracleRate struct {
	Base  string `toml:"Base"`
	Quote string `toml:"Quote"`
	Rate  string `toml:"Rate"`
}

// PlanSeed declares a sale plan applied through the admin capability at boot.
type PlanSeed struct {
	ID           uint32 `toml:"ID"`
	DiscountBps  uint32 `toml:"DiscountBps"`
	BonusBps     uint32 `toml:"BonusBps"`
	StartTime    int64  `toml:"StartTime"`
	EndTime      int64  `toml:"EndTime"`
	LockDuration int64  `toml:"LockDuration"`
}

// AssetSeed declares a payment asset applied through the admin capability at
// boot. Address is 0x-prefixed hex; the zero address denotes the base
// currency. Amounts are decimal strings in asset-native units.
type AssetSeed struct {
	Address    string `toml:"Address"`
	Symbol     string `toml:"Symbol"`
	Supported  bool   `toml:"Supported"`
	MinPerUser string `toml:"MinPerUser"`
	MaxPerUser string `toml:"MaxPerUser"`
	HardCap    string `toml:"HardCap"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./saled-data"
	}
	if strings.TrimSpace(cfg.StorageBackend) == "" {
		cfg.StorageBackend = "leveldb"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.SaleTokenSymbol) == "" {
		cfg.SaleTokenSymbol = "SALE"
	}
}

// Validate rejects configurations the node cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("config: unknown storage backend %q", cfg.StorageBackend)
	}
	if strings.TrimSpace(cfg.AdminJWTSecret) == "" {
		return fmt.Errorf("config: AdminJWTSecret must be set")
	}
	for _, rate := range cfg.OracleRates {
		if strings.TrimSpace(rate.Base) == "" || strings.TrimSpace(rate.Quote) == "" {
			return fmt.Errorf("config: oracle rate needs both Base and Quote")
		}
		if strings.TrimSpace(rate.Rate) == "" {
			return fmt.Errorf("config: oracle rate %s/%s needs a Rate", rate.Base, rate.Quote)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		AdminJWTSecret: "change-me",
	}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
