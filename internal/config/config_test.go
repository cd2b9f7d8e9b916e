package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
service:
  name: bridge-test
  http_port: ${BRIDGE_TEST_HTTP_PORT:9000}
postgres:
  host: ${BRIDGE_TEST_PG_HOST:localhost}
bridge:
  treasury_address: ${BRIDGE_TEST_TREASURY}
  deposit_fee_bps: 20
chains:
  - chain_id: SIGNET
    network_type: BITCOIN
    validators_threshold: 2
  - chain_id: "421614"
    network_type: EVM
    evm_chain_id: 421614
    asset_address: "0x0000000000000000000000000000000000000abc"
  - chain_id: NEAR_TESTNET
    network_type: NEAR
signing:
  timeout: 30s
`

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("BRIDGE_TEST_SET", "value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "a=${BRIDGE_TEST_SET}", "a=value"},
		{"default", "a=${BRIDGE_TEST_UNSET:fallback}", "a=fallback"},
		{"default with colon", "u=${BRIDGE_TEST_UNSET:http://h:1}", "u=http://h:1"},
		{"empty", "a=${BRIDGE_TEST_UNSET}", "a="},
		{"multiple", "${BRIDGE_TEST_SET}-${BRIDGE_TEST_SET}", "value-value"},
		{"unterminated", "a=${BRIDGE", "a=${BRIDGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.input))
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("BRIDGE_TEST_TREASURY", "tb1qtreasury")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bridge-test", cfg.Service.Name)
	assert.Equal(t, 9000, cfg.Service.HTTPPort)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, "tb1qtreasury", cfg.Bridge.TreasuryAddress)
	assert.Equal(t, uint32(20), cfg.Bridge.DepositFeeBps)
	assert.Equal(t, 30*time.Second, cfg.Signing.Timeout)

	require.Len(t, cfg.Chains, 3)
	assert.Equal(t, uint32(2), cfg.Chains[0].ValidatorsThreshold)
	assert.Equal(t, uint32(1), cfg.Chains[1].ValidatorsThreshold)
	assert.Equal(t, uint64(200000), cfg.Chains[1].GasLimit)
	assert.Zero(t, cfg.Chains[2].GasLimit)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "eidos-bridge", cfg.Service.Name)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, uint32(3), cfg.Bridge.MaxRetryCount)
	assert.Equal(t, ",", cfg.Bridge.KeyDelimiter)
	assert.Equal(t, "signet", cfg.Bridge.BtcNetwork)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "@every 1m", cfg.Signing.SweepCron)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fee bps too high", func(c *Config) { c.Bridge.BridgingFeeBps = 10001 }},
		{"missing chain id", func(c *Config) { c.Chains = []ChainConfig{{NetworkType: NetworkTypeNEAR}} }},
		{"duplicate chain", func(c *Config) {
			c.Chains = []ChainConfig{
				{ChainID: "A", NetworkType: NetworkTypeNEAR},
				{ChainID: "A", NetworkType: NetworkTypeNEAR},
			}
		}},
		{"evm without chain id", func(c *Config) { c.Chains = []ChainConfig{{ChainID: "E", NetworkType: NetworkTypeEVM}} }},
		{"unknown network", func(c *Config) { c.Chains = []ChainConfig{{ChainID: "X", NetworkType: "SOLANA"}} }},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "etcd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
