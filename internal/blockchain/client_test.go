package blockchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_StaticDefaults(t *testing.T) {
	c := NewClient([]config.ChainConfig{
		{ChainID: "421614", NetworkType: config.NetworkTypeEVM, EVMChainID: 421614, GasLimit: 150000},
		{ChainID: "NEAR_TESTNET", NetworkType: config.NetworkTypeNEAR},
	}, config.EVMConfig{DefaultGasLimit: 200000, MaxFeePerGasGwei: 50, TipCapGwei: 2})
	defer c.Close()
	ctx := context.Background()

	d, err := c.TxDefaults(ctx, "421614")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(421614), d.ChainID)
	assert.Equal(t, uint64(150000), d.GasLimit)
	assert.Equal(t, uint64(0), d.Nonce)
	assert.Equal(t, big.NewInt(2_000_000_000), d.GasTipCap)
	assert.Equal(t, big.NewInt(50_000_000_000), d.GasFeeCap)

	d, err = c.TxDefaults(ctx, "421614")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Nonce)

	_, err = c.TxDefaults(ctx, "NEAR_TESTNET")
	assert.ErrorIs(t, err, ErrUnknownChain)
}
