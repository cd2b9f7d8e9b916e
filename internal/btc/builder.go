package btc

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/merkle"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
)

// 二级错误: 本次不构造交易, 记录不变
var (
	ErrInsufficientHeadroom = bizerrors.Precondition("estimated fee exceeds bridging gas headroom")
	ErrNothingToSettle      = bizerrors.Precondition("no treasury fees to settle")
)

// Payload 未签名交易及其资金明细
type Payload struct {
	Psbt       string `json:"psbt"`
	TxID       string `json:"txid"`
	UTXOs      []UTXO `json:"utxos"`
	InputTotal uint64 `json:"input_total"`
	Amount     uint64 `json:"amount"` // 国库或退款收款金额
	Fee        uint64 `json:"fee"`
	Change     uint64 `json:"change"`
}

// SettlementItem 参与国库结算的一条跨链记录
type SettlementItem struct {
	EventID      string
	TreasuryFees uint64 // 协议费 + 铸造费 + 预留桥接 gas
	YieldGasFee  uint64 // 已由收益提供方扣除的 gas
	GasHeadroom  uint64 // 预留桥接 gas - 实际 gas
}

// SettlementPayload 国库结算交易
type SettlementPayload struct {
	Payload
	MerkleRoot string   `json:"merkle_root"`
	EventIDs   []string `json:"event_ids"`
	FeeShares  []uint64 `json:"fee_shares"` // 与 EventIDs 一一对应
}

// BuilderConfig 交易构造配置
type BuilderConfig struct {
	Network       string
	ChangeAddress string // 找零地址 (桥接热钱包)
}

// Builder 比特币交易构造器
type Builder struct {
	params *chaincfg.Params
	change btcutil.Address
}

// NewBuilder 创建交易构造器
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	params, err := NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	change, err := DecodeAddress(cfg.ChangeAddress, params)
	if err != nil {
		return nil, err
	}
	return &Builder{params: params, change: change}, nil
}

// Params 当前网络参数
func (b *Builder) Params() *chaincfg.Params {
	return b.params
}

// BuildTreasurySettlement 为一批记录构造国库结算交易
//
// 输出: 国库 (required - fee), OP_RETURN(Merkle 根), 找零 (input - required, 大于 0 时)
func (b *Builder) BuildTreasurySettlement(items []SettlementItem, utxos []UTXO, feeRate uint64, treasuryAddress string) (*SettlementPayload, error) {
	if len(items) == 0 {
		return nil, ErrNothingToSettle
	}
	treasury, err := DecodeAddress(treasuryAddress, b.params)
	if err != nil {
		return nil, err
	}

	var fees, yieldGas, headroom uint64
	eventIDs := make([]string, 0, len(items))
	for _, it := range items {
		fees = model.SatAdd(fees, it.TreasuryFees)
		yieldGas = model.SatAdd(yieldGas, it.YieldGasFee)
		headroom = model.SatAdd(headroom, it.GasHeadroom)
		eventIDs = append(eventIDs, it.EventID)
	}
	required := model.SatSub(fees, yieldGas)
	if required == 0 {
		return nil, ErrNothingToSettle
	}

	selected, total, err := SelectUTXOs(utxos, required)
	if err != nil {
		return nil, err
	}
	change := total - required

	outputs := 1
	if change > 0 {
		outputs++
	}
	fee := EstimateFee(len(selected), outputs, feeRate)
	if fee > headroom || fee >= required {
		return nil, ErrInsufficientHeadroom.
			WithDetail("fee", uintStr(fee)).
			WithDetail("headroom", uintStr(headroom))
	}

	root, err := merkle.Root(eventIDs)
	if err != nil {
		return nil, err
	}
	rootScript, err := txscript.NullDataScript(root)
	if err != nil {
		return nil, err
	}

	amount := required - fee
	tx, err := b.unsignedTx(selected, []payment{
		{addr: treasury, value: amount},
		{script: rootScript},
		{addr: b.change, value: change},
	})
	if err != nil {
		return nil, err
	}

	encoded, err := b.encodePsbt(tx, selected)
	if err != nil {
		return nil, err
	}

	return &SettlementPayload{
		Payload: Payload{
			Psbt:       encoded,
			TxID:       tx.TxHash().String(),
			UTXOs:      selected,
			InputTotal: total,
			Amount:     amount,
			Fee:        fee,
			Change:     change,
		},
		MerkleRoot: hexStr(root),
		EventIDs:   eventIDs,
		FeeShares:  SplitFee(fee, len(items)),
	}, nil
}

// BuildRefund 为重试耗尽的充值构造退款交易
//
// 逐个加入 UTXO 并重新估算手续费, 直到覆盖 amount + fee;
// 输出: 原发送方 amount, OP_RETURN(事件 ID), 找零
func (b *Builder) BuildRefund(eventID string, amount uint64, recipient string, utxos []UTXO, feeRate uint64) (*Payload, error) {
	if eventID == "" {
		return nil, bizerrors.Invalid("refund event id is empty")
	}
	if amount == 0 {
		return nil, bizerrors.Invalid("refund amount is zero")
	}
	to, err := DecodeAddress(recipient, b.params)
	if err != nil {
		return nil, err
	}

	var (
		selected []UTXO
		total    uint64
		fee      uint64
		need     uint64
	)
	for _, u := range sortAscending(utxos) {
		selected = append(selected, u)
		total = model.SatAdd(total, u.Value)
		fee = EstimateFee(len(selected), 2, feeRate)
		need = model.SatAdd(amount, fee)
		if total >= need {
			break
		}
	}
	if len(selected) == 0 {
		need = model.SatAdd(amount, EstimateFee(1, 2, feeRate))
	}
	if total < need {
		return nil, &InsufficientFundsError{Required: need, Available: total}
	}
	change := total - need

	memo := []byte(eventID)
	if len(memo) > txscript.MaxDataCarrierSize {
		memo = memo[:txscript.MaxDataCarrierSize]
	}
	memoScript, err := txscript.NullDataScript(memo)
	if err != nil {
		return nil, err
	}

	tx, err := b.unsignedTx(selected, []payment{
		{addr: to, value: amount},
		{script: memoScript},
		{addr: b.change, value: change},
	})
	if err != nil {
		return nil, err
	}
	encoded, err := b.encodePsbt(tx, selected)
	if err != nil {
		return nil, err
	}

	return &Payload{
		Psbt:       encoded,
		TxID:       tx.TxHash().String(),
		UTXOs:      selected,
		InputTotal: total,
		Amount:     amount,
		Fee:        fee,
		Change:     change,
	}, nil
}

// SplitFee 平均分摊手续费, 余数计入最后一条
func SplitFee(fee uint64, n int) []uint64 {
	if n <= 0 {
		return nil
	}
	shares := make([]uint64, n)
	each := fee / uint64(n)
	for i := range shares {
		shares[i] = each
	}
	shares[n-1] += fee - each*uint64(n)
	return shares
}

type payment struct {
	addr   btcutil.Address
	script []byte
	value  uint64
}

// unsignedTx 零值的地址输出 (找零) 被省略, 脚本输出 (OP_RETURN) 始终保留
func (b *Builder) unsignedTx(inputs []UTXO, payments []payment) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range inputs {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, bizerrors.Invalidf("invalid utxo txid %q", u.TxID)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}
	for _, p := range payments {
		if p.script != nil {
			tx.AddTxOut(wire.NewTxOut(int64(p.value), p.script))
			continue
		}
		if p.value == 0 {
			continue
		}
		script, err := txscript.PayToAddrScript(p.addr)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(p.value), script))
	}
	return tx, nil
}

func (b *Builder) encodePsbt(tx *wire.MsgTx, inputs []UTXO) (string, error) {
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return "", err
	}
	for i, u := range inputs {
		script, err := u.pkScript(b.params)
		if err != nil {
			return "", err
		}
		if script != nil {
			packet.Inputs[i].WitnessUtxo = wire.NewTxOut(int64(u.Value), script)
		}
	}
	return packet.B64Encode()
}

// IsInsufficientFunds 判断是否为 UTXO 不足
func IsInsufficientFunds(err error) (*InsufficientFundsError, bool) {
	var e *InsufficientFundsError
	ok := errors.As(err, &e)
	return e, ok
}
