// Package blockchain 目标 EVM 链的 nonce 与 gas 查询
package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	ErrUnknownChain = errors.New("unknown evm chain")
)

var gwei = big.NewInt(1_000_000_000)

// TxDefaults 构造 EIP-1559 交易所需的链上参数
type TxDefaults struct {
	ChainID   *big.Int
	Nonce     uint64
	GasLimit  uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// Client 按链懒加载的 ethclient 集合
// 未配置 rpc_url 的链使用静态 gas 参数, nonce 从本地计数
type Client struct {
	evm    config.EVMConfig
	chains map[string]config.ChainConfig

	mu      sync.Mutex
	clients map[string]*ethclient.Client
	nonces  map[string]uint64
}

// NewClient 创建客户端
func NewClient(chains []config.ChainConfig, evm config.EVMConfig) *Client {
	c := &Client{
		evm:     evm,
		chains:  make(map[string]config.ChainConfig),
		clients: make(map[string]*ethclient.Client),
		nonces:  make(map[string]uint64),
	}
	for _, ch := range chains {
		if ch.NetworkType == config.NetworkTypeEVM {
			c.chains[ch.ChainID] = ch
		}
	}
	return c
}

func (c *Client) dial(ctx context.Context, ch config.ChainConfig) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[ch.ChainID]; ok {
		return cl, nil
	}
	cl, err := ethclient.DialContext(ctx, ch.RPCURL)
	if err != nil {
		return nil, err
	}
	c.clients[ch.ChainID] = cl
	logger.Info("evm rpc connected", zap.String("chain_id", ch.ChainID))
	return cl, nil
}

// TxDefaults 查询链上 nonce 与费用上限
func (c *Client) TxDefaults(ctx context.Context, chainID string) (*TxDefaults, error) {
	ch, ok := c.chains[chainID]
	if !ok {
		return nil, ErrUnknownChain
	}

	d := &TxDefaults{
		ChainID:   big.NewInt(ch.EVMChainID),
		GasLimit:  ch.GasLimit,
		GasTipCap: new(big.Int).Mul(new(big.Int).SetUint64(c.evm.TipCapGwei), gwei),
		GasFeeCap: new(big.Int).Mul(new(big.Int).SetUint64(c.evm.MaxFeePerGasGwei), gwei),
	}
	if d.GasLimit == 0 {
		d.GasLimit = c.evm.DefaultGasLimit
	}

	if ch.RPCURL == "" {
		c.mu.Lock()
		d.Nonce = c.nonces[chainID]
		c.nonces[chainID]++
		c.mu.Unlock()
		return d, nil
	}

	timeout := c.evm.RPCTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cl, err := c.dial(ctx, ch)
	if err != nil {
		return nil, err
	}

	nonce, err := cl.PendingNonceAt(ctx, common.HexToAddress(ch.SignerAddress))
	if err != nil {
		return nil, err
	}
	d.Nonce = nonce

	tip, err := cl.SuggestGasTipCap(ctx)
	if err == nil && tip.Cmp(d.GasTipCap) < 0 {
		d.GasTipCap = tip
	}

	head, err := cl.HeaderByNumber(ctx, nil)
	if err == nil && head.BaseFee != nil {
		// 2 × baseFee + tip, 不超过配置上限
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), d.GasTipCap)
		if feeCap.Cmp(d.GasFeeCap) < 0 {
			d.GasFeeCap = feeCap
		}
	}
	return d, nil
}

// Close 关闭所有连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cl := range c.clients {
		cl.Close()
		delete(c.clients, id)
	}
}
