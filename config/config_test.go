package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saled.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.StorageBackend)
	require.Equal(t, "SALE", cfg.SaleTokenSymbol)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config file should be written")
}

func TestLoadParsesSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saled.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ListenAddress = ":9000"
StorageBackend = "memory"
AdminJWTSecret = "s3cret"
SaleTokenSymbol = "GEM"

[[OracleRate]]
Base = "USDT"
Quote = "GEM"
Rate = "12.5"

[[Plan]]
ID = 1
DiscountBps = 500
BonusBps = 1000
StartTime = 100
EndTime = 200
LockDuration = 3600

[[Asset]]
Address = "0x00000000000000000000000000000000000000aa"
Symbol = "USDT"
Supported = true
MinPerUser = "1"
MaxPerUser = "100"
HardCap = "1000"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Len(t, cfg.OracleRates, 1)
	require.Equal(t, "12.5", cfg.OracleRates[0].Rate)
	require.Len(t, cfg.Plans, 1)
	require.EqualValues(t, 3600, cfg.Plans[0].LockDuration)
	require.Len(t, cfg.Assets, 1)
	require.Equal(t, "USDT", cfg.Assets[0].Symbol)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	err := Validate(&Config{StorageBackend: "cassandra", AdminJWTSecret: "x"})
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestValidateRequiresSecret(t *testing.T) {
	err := Validate(&Config{StorageBackend: "memory"})
	require.ErrorContains(t, err, "AdminJWTSecret")
}

func TestValidateRejectsIncompleteOracleRate(t *testing.T) {
	err := Validate(&Config{
		StorageBackend: "memory",
		AdminJWTSecret: "x",
		OracleRates:    []OracleRate{{Base: "USDT"}},
	})
	require.Error(t, err)
}
