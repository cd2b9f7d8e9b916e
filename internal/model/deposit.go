package model

// DepositStatus BTC 充值状态
//
// 正向: 0 → 10 → 11 → 20 → 21 → 30
// 回滚: 11 → 10, 21 → 20
// 退款: 10/11 (重试耗尽) → 40 → 50; 目标地址不合法时 10/11/20 → 40
type DepositStatus int8

const (
	DepositStatusPendingMempool DepositStatus = 0  // BTC 交易在内存池
	DepositStatusDeposited      DepositStatus = 10 // 已存入账本
	DepositStatusPendingYield   DepositStatus = 11 // 等待存入收益提供方
	DepositStatusYieldDeposited DepositStatus = 20 // 已存入收益提供方
	DepositStatusPendingMint    DepositStatus = 21 // 等待铸造 aBTC
	DepositStatusMinted         DepositStatus = 30 // 已铸造
	DepositStatusRefunding      DepositStatus = 40 // 退款中
	DepositStatusRefunded       DepositStatus = 50 // 已退款
)

func (s DepositStatus) String() string {
	switch s {
	case DepositStatusPendingMempool:
		return "PENDING_MEMPOOL"
	case DepositStatusDeposited:
		return "DEPOSITED"
	case DepositStatusPendingYield:
		return "PENDING_YIELD_DEPOSIT"
	case DepositStatusYieldDeposited:
		return "YIELD_DEPOSITED"
	case DepositStatusPendingMint:
		return "PENDING_MINT"
	case DepositStatusMinted:
		return "MINTED"
	case DepositStatusRefunding:
		return "REFUNDING"
	case DepositStatusRefunded:
		return "REFUNDED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusMinted || s == DepositStatusRefunded
}

// IsRefundable 重试耗尽后可以进入退款的状态
func (s DepositStatus) IsRefundable() bool {
	return s == DepositStatusDeposited || s == DepositStatusPendingYield
}

var depositForward = map[DepositStatus]DepositStatus{
	DepositStatusPendingMempool: DepositStatusDeposited,
	DepositStatusDeposited:      DepositStatusPendingYield,
	DepositStatusPendingYield:   DepositStatusYieldDeposited,
	DepositStatusYieldDeposited: DepositStatusPendingMint,
	DepositStatusPendingMint:    DepositStatusMinted,
	DepositStatusRefunding:      DepositStatusRefunded,
}

var depositRollback = map[DepositStatus]DepositStatus{
	DepositStatusPendingYield: DepositStatusDeposited,
	DepositStatusPendingMint:  DepositStatusYieldDeposited,
}

// Next 返回正向下一状态
func (s DepositStatus) Next() (DepositStatus, bool) {
	n, ok := depositForward[s]
	return n, ok
}

// Previous 返回回滚目标状态, 不是所有状态都能回滚
func (s DepositStatus) Previous() (DepositStatus, bool) {
	p, ok := depositRollback[s]
	return p, ok
}

// CanTransitionTo 判断状态迁移是否合法 (含退款)
func (s DepositStatus) CanTransitionTo(to DepositStatus) bool {
	if n, ok := s.Next(); ok && n == to {
		return true
	}
	if p, ok := s.Previous(); ok && p == to {
		return true
	}
	return to == DepositStatusRefunding && (s.IsRefundable() || s == DepositStatusYieldDeposited)
}

// DepositRecord BTC 充值记录, 以 BTC 交易哈希为事件 ID
type DepositRecord struct {
	ID                         int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	BtcTxnHash                 string        `gorm:"column:btc_txn_hash;type:varchar(128);uniqueIndex;not null" json:"btc_txn_hash"`
	BtcSenderAddress           string        `gorm:"column:btc_sender_address;type:varchar(128);not null" json:"btc_sender_address"`
	ReceivingChainID           string        `gorm:"column:receiving_chain_id;type:varchar(64);not null" json:"receiving_chain_id"`
	ReceivingAddress           string        `gorm:"column:receiving_address;type:varchar(128);not null" json:"receiving_address"`
	BtcAmount                  uint64        `gorm:"column:btc_amount;type:bigint;not null" json:"btc_amount"`
	ProtocolFee                uint64        `gorm:"column:protocol_fee;type:bigint;not null;default:0" json:"protocol_fee"`
	MintingFee                 uint64        `gorm:"column:minting_fee;type:bigint;not null;default:0" json:"minting_fee"`
	YieldProviderGasFee        uint64        `gorm:"column:yield_provider_gas_fee;type:bigint;not null;default:0" json:"yield_provider_gas_fee"`
	MintedTxnHash              string        `gorm:"column:minted_txn_hash;type:varchar(128)" json:"minted_txn_hash"`
	YieldProviderTxnHash       string        `gorm:"column:yield_provider_txn_hash;type:varchar(128)" json:"yield_provider_txn_hash"`
	RefundTxnID                string        `gorm:"column:refund_txn_id;type:varchar(128)" json:"refund_txn_id"`
	Status                     DepositStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	Remarks                    string        `gorm:"column:remarks;type:varchar(512)" json:"remarks"`
	VerifiedCount              uint32        `gorm:"column:verified_count;type:int;not null;default:0" json:"verified_count"`
	MintedTxnHashVerifiedCount uint32        `gorm:"column:minted_txn_hash_verified_count;type:int;not null;default:0" json:"minted_txn_hash_verified_count"`
	RetryCount                 uint32        `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	Timestamp                  int64         `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	CreatedAt                  int64         `gorm:"column:created_at;type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt                  int64         `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (DepositRecord) TableName() string {
	return "bridge_deposits"
}

// EventID 事件 ID
func (r *DepositRecord) EventID() string {
	return r.BtcTxnHash
}

// NetAmount 铸造给用户的净额
func (r *DepositRecord) NetAmount() uint64 {
	return NetAmount(r.BtcAmount, r.ProtocolFee, r.MintingFee, r.YieldProviderGasFee)
}

// MismatchField 返回与 other 第一个内容不一致的字段名, 一致时返回空串
// 计数器、重试次数与时间戳不参与比较
func (r *DepositRecord) MismatchField(other *DepositRecord) string {
	switch {
	case r.BtcTxnHash != other.BtcTxnHash:
		return "btc_txn_hash"
	case r.BtcSenderAddress != other.BtcSenderAddress:
		return "btc_sender_address"
	case r.ReceivingChainID != other.ReceivingChainID:
		return "receiving_chain_id"
	case r.ReceivingAddress != other.ReceivingAddress:
		return "receiving_address"
	case r.BtcAmount != other.BtcAmount:
		return "btc_amount"
	case r.ProtocolFee != other.ProtocolFee:
		return "protocol_fee"
	case r.MintingFee != other.MintingFee:
		return "minting_fee"
	case r.YieldProviderGasFee != other.YieldProviderGasFee:
		return "yield_provider_gas_fee"
	case r.MintedTxnHash != other.MintedTxnHash:
		return "minted_txn_hash"
	case r.YieldProviderTxnHash != other.YieldProviderTxnHash:
		return "yield_provider_txn_hash"
	case r.Status != other.Status:
		return "status"
	case r.Remarks != other.Remarks:
		return "remarks"
	}
	return ""
}
