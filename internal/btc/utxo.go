// Package btc 构造未签名的比特币结算/退款交易 (PSBT)
package btc

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
)

// 交易尺寸估算常量 (P2PKH 等价, OP_RETURN 约 44 字节)
const (
	txOverheadBytes = 10
	inputBytes      = 148
	outputBytes     = 34
	opReturnBytes   = 44
)

// UTXO 调用方提供的候选未花费输出
type UTXO struct {
	TxID         string `json:"txid"`
	Vout         uint32 `json:"vout"`
	Value        uint64 `json:"value"`
	Address      string `json:"address,omitempty"`
	ScriptPubKey string `json:"script_pubkey,omitempty"` // hex, 优先于 Address
}

// InsufficientFundsError 候选 UTXO 总额不足, 携带缺口
type InsufficientFundsError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d sats, available %d sats, shortfall %d sats",
		e.Required, e.Available, e.Shortfall())
}

// Shortfall 缺口
func (e *InsufficientFundsError) Shortfall() uint64 {
	return model.SatSub(e.Required, e.Available)
}

// Unwrap 映射为一级业务错误
func (e *InsufficientFundsError) Unwrap() error {
	return bizerrors.ErrInsufficientFunds.
		WithDetail("required", fmt.Sprint(e.Required)).
		WithDetail("available", fmt.Sprint(e.Available)).
		WithDetail("shortfall", fmt.Sprint(e.Shortfall()))
}

// EstimateSize 估算交易字节数: 10 + 148·inputs + 34·outputs + 44
func EstimateSize(inputs, outputs int) uint64 {
	size := model.SatAdd(txOverheadBytes, model.SatMul(inputBytes, uint64(inputs)))
	size = model.SatAdd(size, model.SatMul(outputBytes, uint64(outputs)))
	return model.SatAdd(size, opReturnBytes)
}

// EstimateFee 按 sat/byte 费率估算手续费
func EstimateFee(inputs, outputs int, feeRate uint64) uint64 {
	return model.SatMul(EstimateSize(inputs, outputs), feeRate)
}

// sortAscending 按金额升序, 同额按 txid:vout 保证确定性
func sortAscending(utxos []UTXO) []UTXO {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value < sorted[j].Value
		}
		if sorted[i].TxID != sorted[j].TxID {
			return sorted[i].TxID < sorted[j].TxID
		}
		return sorted[i].Vout < sorted[j].Vout
	})
	return sorted
}

// SelectUTXOs 升序累加直到总额 >= required
func SelectUTXOs(utxos []UTXO, required uint64) ([]UTXO, uint64, error) {
	var (
		selected []UTXO
		total    uint64
	)
	for _, u := range sortAscending(utxos) {
		if total >= required && len(selected) > 0 {
			break
		}
		selected = append(selected, u)
		total = model.SatAdd(total, u.Value)
	}
	if total < required || len(selected) == 0 {
		return nil, 0, &InsufficientFundsError{Required: required, Available: total}
	}
	return selected, total, nil
}

// NetworkParams 网络名映射为链参数
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown btc network %q", network)
}

// DecodeAddress 解析并校验地址属于当前网络
func DecodeAddress(addr string, params *chaincfg.Params) (btcutil.Address, error) {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, bizerrors.Invalidf("invalid btc address %q: %v", addr, err)
	}
	if !decoded.IsForNet(params) {
		return nil, bizerrors.Invalidf("btc address %q is not for %s", addr, params.Name)
	}
	return decoded, nil
}

// pkScript UTXO 的锁定脚本, 未知时返回 nil
func (u UTXO) pkScript(params *chaincfg.Params) ([]byte, error) {
	if u.ScriptPubKey != "" {
		script, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, bizerrors.Invalidf("invalid script_pubkey for %s:%d", u.TxID, u.Vout)
		}
		return script, nil
	}
	if u.Address == "" {
		return nil, nil
	}
	addr, err := DecodeAddress(u.Address, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
