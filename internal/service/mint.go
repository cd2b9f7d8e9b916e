package service

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
)

// MintRequest 目标链铸造载荷及挂起的签名请求
type MintRequest struct {
	EventID          string            `json:"event_id"`
	ChainID          string            `json:"chain_id"`
	Kind             model.PayloadKind `json:"payload_kind"`
	Payload          string            `json:"payload"`
	PayloadHash      string            `json:"payload_hash"`
	SigningRequestID string            `json:"signing_request_id"`
	NetAmount        uint64            `json:"net_amount"`
}

// mintOrder 铸造参数
type mintOrder struct {
	eventType     model.EventType
	eventID       string
	chain         *config.ChainConfig
	receiver      string
	amount        uint64
	originChainID string
	originTxnHash string
	// method 账户模型链合约的铸造方法
	method string
	// pack EVM 合约调用数据
	pack func(to string, amount uint64) ([]byte, error)
}

// minter 构造铸造载荷并发起签名
type minter struct {
	signing *SigningService
	oracle  TxOracle
}

func (m *minter) mint(ctx context.Context, o *mintOrder) (*MintRequest, error) {
	begin := &BeginRequest{
		EventType: o.eventType,
		EventID:   o.eventID,
		ChainID:   o.chain.ChainID,
		Path:      o.chain.MPCPath,
	}

	switch o.chain.NetworkType {
	case config.NetworkTypeEVM:
		data, err := o.pack(o.receiver, o.amount)
		if err != nil {
			return nil, bizerrors.Invalidf("receiver %q: %v", o.receiver, err)
		}
		asset, err := contract.ParseAddress(o.chain.AssetAddress)
		if err != nil {
			return nil, bizerrors.Invalidf("asset address of chain %s: %v", o.chain.ChainID, err)
		}
		d, err := m.oracle.TxDefaults(ctx, o.chain.ChainID)
		if err != nil {
			return nil, bizerrors.Wrap(bizerrors.ErrInternal, err)
		}
		tx := contract.NewUnsignedTx(contract.TxParams{
			ChainID:   d.ChainID,
			Nonce:     d.Nonce,
			To:        asset,
			GasLimit:  d.GasLimit,
			GasTipCap: d.GasTipCap,
			GasFeeCap: d.GasFeeCap,
			Data:      data,
		})
		encoded, err := contract.EncodeTx(tx)
		if err != nil {
			return nil, bizerrors.Wrap(bizerrors.ErrInternal, err)
		}
		begin.Kind = model.PayloadKindEVMTx
		begin.Payload = encoded
		begin.PayloadHash = contract.SigningHash(tx).Hex()

	case config.NetworkTypeNEAR:
		// 账本铸造在签名完成后由 Resume 执行
		instr := contract.NewMintInstruction(o.chain.AssetAddress, o.method, o.receiver, o.amount, o.originChainID, o.originTxnHash)
		payload, hash, err := instr.Encode()
		if err != nil {
			return nil, bizerrors.Wrap(bizerrors.ErrInternal, err)
		}
		begin.Kind = model.PayloadKindJSONMint
		begin.Payload = payload
		begin.PayloadHash = hash

	default:
		return nil, ErrUnsupportedNetwork.WithDetail("network_type", o.chain.NetworkType)
	}

	req, err := m.signing.Begin(ctx, begin)
	if err != nil {
		return nil, err
	}
	return &MintRequest{
		EventID:          o.eventID,
		ChainID:          o.chain.ChainID,
		Kind:             begin.Kind,
		Payload:          begin.Payload,
		PayloadHash:      begin.PayloadHash,
		SigningRequestID: req.RequestID,
		NetAmount:        o.amount,
	}, nil
}

// invalidEVMDestination 目标为 EVM 链且地址不合法
func invalidEVMDestination(chain *config.ChainConfig, address string) bool {
	return chain.NetworkType == config.NetworkTypeEVM && !contract.IsValidAddress(address)
}
