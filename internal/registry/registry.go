// Package registry 链参数与全局参数注册表的配置实现
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrChainNotFound 链未配置 (二级错误)
var ErrChainNotFound = bizerrors.Precondition("chain config not found")

var bpsDenominator = decimal.NewFromInt(10000)

// ChainRegistry 以配置文件为数据源的链注册表
type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[string]config.ChainConfig
}

// NewChainRegistry 创建链注册表
func NewChainRegistry(chains []config.ChainConfig) *ChainRegistry {
	r := &ChainRegistry{chains: make(map[string]config.ChainConfig, len(chains))}
	for _, c := range chains {
		r.chains[c.ChainID] = c
	}
	return r
}

// GetChainConfig 返回链参数副本
func (r *ChainRegistry) GetChainConfig(_ context.Context, chainID string) (*config.ChainConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return nil, ErrChainNotFound.WithDetail("chain_id", chainID)
	}
	return &c, nil
}

// Upsert 新增或替换链参数
func (r *ChainRegistry) Upsert(c config.ChainConfig) error {
	if c.ChainID == "" {
		return errors.New("chain_id is required")
	}
	r.mu.Lock()
	r.chains[c.ChainID] = c
	r.mu.Unlock()
	return nil
}

// List 所有链参数
func (r *ChainRegistry) List() []config.ChainConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.ChainConfig, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	return out
}

// ParamRegistry 全局费用/参数注册表
type ParamRegistry struct {
	mu  sync.RWMutex
	cfg config.BridgeConfig
}

// NewParamRegistry 创建参数注册表
func NewParamRegistry(cfg config.BridgeConfig) *ParamRegistry {
	return &ParamRegistry{cfg: cfg}
}

func (p *ParamRegistry) snapshot() config.BridgeConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Update 原子更新参数
func (p *ParamRegistry) Update(fn func(cfg *config.BridgeConfig)) {
	p.mu.Lock()
	fn(&p.cfg)
	p.mu.Unlock()
}

func (p *ParamRegistry) GetMPCContract() string { return p.snapshot().MPCContract }

func (p *ParamRegistry) GetTreasuryAddress() string { return p.snapshot().TreasuryAddress }

func (p *ParamRegistry) GetMaxRetryCount() uint32 { return p.snapshot().MaxRetryCount }

func (p *ParamRegistry) GetKeyVersion() uint32 { return p.snapshot().KeyVersion }

func (p *ParamRegistry) GetBtcChainID() string { return p.snapshot().BtcChainID }

func (p *ParamRegistry) GetKeyDelimiter() string { return p.snapshot().KeyDelimiter }

// DepositProtocolFee 充值协议费
func (p *ParamRegistry) DepositProtocolFee(amount uint64) uint64 {
	return FeeFromBps(amount, p.snapshot().DepositFeeBps)
}

// RedemptionProtocolFee 赎回协议费
func (p *ParamRegistry) RedemptionProtocolFee(amount uint64) uint64 {
	return FeeFromBps(amount, p.snapshot().RedemptionFeeBps)
}

// BridgingProtocolFee 跨链协议费
func (p *ParamRegistry) BridgingProtocolFee(amount uint64) uint64 {
	return FeeFromBps(amount, p.snapshot().BridgingFeeBps)
}

// FeeFromBps amount × bps / 10000, 向下取整
func FeeFromBps(amount uint64, bps uint32) uint64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	fee := decimal.NewFromUint64(amount).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(bpsDenominator).
		Floor()
	return fee.BigInt().Uint64()
}
