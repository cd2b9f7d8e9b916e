package contract

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrIncompleteMint 铸造指令缺少接收方或方法
var ErrIncompleteMint = errors.New("mint instruction missing receiver or method")

// 账户模型链 aBTC 合约的铸造方法
const (
	MethodMintDeposit = "mint_deposit"
	MethodMintBridge  = "mint_bridge"
)

// MintInstruction 账户模型链 (NEAR) 的 JSON 铸造指令
type MintInstruction struct {
	ReceiverID    string `json:"receiver_id"`
	Amount        string `json:"amount"` // u128 以字符串表示
	OriginChainID string `json:"origin_chain_id"`
	OriginTxnHash string `json:"origin_txn_hash"`
	ContractID    string `json:"contract_id"`
	Method        string `json:"method"`
}

// NewMintInstruction 构造铸造指令
func NewMintInstruction(contractID, method, receiverID string, amount uint64, originChainID, originTxnHash string) *MintInstruction {
	return &MintInstruction{
		ReceiverID:    receiverID,
		Amount:        strconv.FormatUint(amount, 10),
		OriginChainID: originChainID,
		OriginTxnHash: originTxnHash,
		ContractID:    contractID,
		Method:        method,
	}
}

// DecodeMintInstruction 解析 Encode 产出的载荷
func DecodeMintInstruction(payload string) (*MintInstruction, error) {
	var m MintInstruction
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("decode mint instruction: %w", err)
	}
	if m.ReceiverID == "" || m.Method == "" {
		return nil, ErrIncompleteMint
	}
	return &m, nil
}

// AmountValue 铸造数量
func (m *MintInstruction) AmountValue() (uint64, error) {
	v, err := strconv.ParseUint(m.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("mint amount %q: %w", m.Amount, err)
	}
	return v, nil
}

// Encode JSON 编码与其单轮 SHA-256 哈希 (0x 前缀)
func (m *MintInstruction) Encode() (payload string, hash string, err error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", "", err
	}
	return string(raw), "0x" + hex.EncodeToString(chainhash.HashB(raw)), nil
}
