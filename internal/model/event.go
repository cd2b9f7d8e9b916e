package model

import (
	"math"
	"math/bits"
	"strings"
)

// EventType 跨链事件类型
type EventType string

const (
	EventTypeDeposit    EventType = "deposit"
	EventTypeRedemption EventType = "redemption"
	EventTypeBridging   EventType = "bridging"
)

// DefaultKeyDelimiter 复合键分隔符
const DefaultKeyDelimiter = ","

// CompoundKey 组合事件 ID 与目标链交易哈希, 用于二次 (铸造/桥接完成) 验证
func CompoundKey(eventID, destTxnHash, delimiter string) string {
	if delimiter == "" {
		delimiter = DefaultKeyDelimiter
	}
	return eventID + delimiter + destTxnHash
}

// SplitCompoundKey 拆分复合键
func SplitCompoundKey(key, delimiter string) (eventID, destTxnHash string, ok bool) {
	if delimiter == "" {
		delimiter = DefaultKeyDelimiter
	}
	eventID, destTxnHash, ok = strings.Cut(key, delimiter)
	return
}

// SatSub 饱和减法, 下限为 0
func SatSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// SatAdd 饱和加法, 上限为 MaxUint64
func SatAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// SatMul 饱和乘法
func SatMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// CheckedAdd 溢出时返回 false
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// NetAmount 从 amount 依次扣除各项费用, 不会下溢
func NetAmount(amount uint64, fees ...uint64) uint64 {
	for _, f := range fees {
		amount = SatSub(amount, f)
	}
	return amount
}

// BridgeEvent 对外广播的桥事件
type BridgeEvent struct {
	EventType EventType `json:"event_type"`
	EventID   string    `json:"event_id"`
	Action    string    `json:"action"`
	TxnHash   string    `json:"txn_hash,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp int64     `json:"timestamp"`
}
