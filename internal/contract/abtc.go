// Package contract 目标链 aBTC 合约调用载荷
package contract

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidAddress   = errors.New("invalid evm address")
	ErrInvalidSignature = errors.New("invalid signature length")
)

// ABTCABI aBTC 代币合约中桥接使用的方法
//
//	function mintDeposit(address to, uint256 amount, string btcTxnHash) external;
//	function mintBridge(address to, uint256 amount, string originChainId, string originTxnHash) external;
const ABTCABI = `[
	{
		"type": "function",
		"name": "mintDeposit",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "btcTxnHash", "type": "string"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "mintBridge",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "originChainId", "type": "string"},
			{"name": "originTxnHash", "type": "string"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	}
]`

var abtcABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(ABTCABI))
	if err != nil {
		panic(fmt.Sprintf("parse aBTC abi: %v", err))
	}
	abtcABI = parsed
}

// ABTC 返回解析后的 ABI
func ABTC() abi.ABI {
	return abtcABI
}

// PackMintDeposit 编码充值铸造调用
func PackMintDeposit(to string, amount uint64, btcTxnHash string) ([]byte, error) {
	addr, err := ParseAddress(to)
	if err != nil {
		return nil, err
	}
	return abtcABI.Pack("mintDeposit", addr, new(big.Int).SetUint64(amount), btcTxnHash)
}

// PackMintBridge 编码跨链铸造调用
func PackMintBridge(to string, amount uint64, originChainID, originTxnHash string) ([]byte, error) {
	addr, err := ParseAddress(to)
	if err != nil {
		return nil, err
	}
	return abtcABI.Pack("mintBridge", addr, new(big.Int).SetUint64(amount), originChainID, originTxnHash)
}

// ParseAddress 校验格式、非零地址与 EIP-55 校验和
func ParseAddress(address string) (common.Address, error) {
	if len(address) != 42 || !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	// 含大写字母时必须是正确的 checksum
	if address != strings.ToLower(address) && address != addr.Hex() {
		return common.Address{}, fmt.Errorf("%w: bad checksum, expected %s", ErrInvalidAddress, addr.Hex())
	}
	return addr, nil
}

// IsValidAddress 地址是否可用
func IsValidAddress(address string) bool {
	_, err := ParseAddress(address)
	return err == nil
}

// TxParams EIP-1559 交易参数
type TxParams struct {
	ChainID   *big.Int
	Nonce     uint64
	To        common.Address
	GasLimit  uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	Data      []byte
}

// NewUnsignedTx 构造未签名的 DynamicFeeTx
func NewUnsignedTx(p TxParams) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.ChainID,
		Nonce:     p.Nonce,
		GasTipCap: p.GasTipCap,
		GasFeeCap: p.GasFeeCap,
		Gas:       p.GasLimit,
		To:        &p.To,
		Value:     big.NewInt(0),
		Data:      p.Data,
	})
}

// SigningHash 交给门限签名服务的待签哈希
func SigningHash(tx *types.Transaction) common.Hash {
	return types.LatestSignerForChainID(tx.ChainId()).Hash(tx)
}

// EncodeTx 交易的二进制编码 (0x 前缀十六进制)
func EncodeTx(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}

// DecodeTx 解析 EncodeTx 的输出
func DecodeTx(encoded string) (*types.Transaction, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return tx, nil
}

// ApplySignature 附加 65 字节 [R || S || V] 签名, V 为 0/1
func ApplySignature(tx *types.Transaction, sig []byte) (*types.Transaction, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSignature, len(sig))
	}
	return tx.WithSignature(types.LatestSignerForChainID(tx.ChainId()), sig)
}

// Sender 恢复已签名交易的发送方
func Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}
