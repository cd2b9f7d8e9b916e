package model

// RedemptionStatus aBTC 赎回状态
//
// 正向: 10 → 21 → 22 → 30
// 11 为旧版本遗留状态 (托管方回转账本), 仅可能出现在历史数据中, 正向迁移到 21, 回滚到 10
type RedemptionStatus int8

const (
	RedemptionStatusBurnt                    RedemptionStatus = 10 // aBTC 已销毁
	RedemptionStatusPendingCustodianToLedger RedemptionStatus = 11 // 旧版本: 托管方转回账本
	RedemptionStatusPendingRedemption        RedemptionStatus = 21 // 等待向用户支付 BTC
	RedemptionStatusPendingMempoolConfirm    RedemptionStatus = 22 // 等待内存池确认
	RedemptionStatusRedeemed                 RedemptionStatus = 30 // 已赎回
)

func (s RedemptionStatus) String() string {
	switch s {
	case RedemptionStatusBurnt:
		return "ABTC_BURNT"
	case RedemptionStatusPendingCustodianToLedger:
		return "PENDING_CUSTODIAN_TO_LEDGER"
	case RedemptionStatusPendingRedemption:
		return "PENDING_REDEMPTION"
	case RedemptionStatusPendingMempoolConfirm:
		return "PENDING_MEMPOOL_CONFIRM"
	case RedemptionStatusRedeemed:
		return "REDEEMED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s RedemptionStatus) IsTerminal() bool {
	return s == RedemptionStatusRedeemed
}

var redemptionForward = map[RedemptionStatus]RedemptionStatus{
	RedemptionStatusBurnt:                    RedemptionStatusPendingRedemption,
	RedemptionStatusPendingCustodianToLedger: RedemptionStatusPendingRedemption,
	RedemptionStatusPendingRedemption:        RedemptionStatusPendingMempoolConfirm,
	RedemptionStatusPendingMempoolConfirm:    RedemptionStatusRedeemed,
}

var redemptionRollback = map[RedemptionStatus]RedemptionStatus{
	RedemptionStatusPendingCustodianToLedger: RedemptionStatusBurnt,
	RedemptionStatusPendingRedemption:        RedemptionStatusBurnt,
	RedemptionStatusPendingMempoolConfirm:    RedemptionStatusPendingRedemption,
}

// Next 返回正向下一状态
func (s RedemptionStatus) Next() (RedemptionStatus, bool) {
	n, ok := redemptionForward[s]
	return n, ok
}

// Previous 返回回滚目标状态
func (s RedemptionStatus) Previous() (RedemptionStatus, bool) {
	p, ok := redemptionRollback[s]
	return p, ok
}

// AwaitsAttestation 处于等待验证者确认销毁的阶段
func (s RedemptionStatus) AwaitsAttestation() bool {
	return s == RedemptionStatusBurnt || s == RedemptionStatusPendingCustodianToLedger
}

// RedemptionRecord aBTC 赎回记录, 以销毁交易哈希为事件 ID
type RedemptionRecord struct {
	ID                    int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	TxnHash               string           `gorm:"column:txn_hash;type:varchar(160);uniqueIndex;not null" json:"txn_hash"`
	AbtcRedemptionAddress string           `gorm:"column:abtc_redemption_address;type:varchar(128);not null" json:"abtc_redemption_address"`
	AbtcRedemptionChainID string           `gorm:"column:abtc_redemption_chain_id;type:varchar(64);not null" json:"abtc_redemption_chain_id"`
	BtcReceivingAddress   string           `gorm:"column:btc_receiving_address;type:varchar(128);not null" json:"btc_receiving_address"`
	AbtcAmount            uint64           `gorm:"column:abtc_amount;type:bigint;not null" json:"abtc_amount"`
	ProtocolFee           uint64           `gorm:"column:protocol_fee;type:bigint;not null;default:0" json:"protocol_fee"`
	BtcTxnHash            string           `gorm:"column:btc_txn_hash;type:varchar(128)" json:"btc_txn_hash"` // 托管方支付交易 ID, 只能写一次
	Status                RedemptionStatus `gorm:"column:status;type:smallint;index;not null;default:10" json:"status"`
	Remarks               string           `gorm:"column:remarks;type:varchar(512)" json:"remarks"`
	VerifiedCount         uint32           `gorm:"column:verified_count;type:int;not null;default:0" json:"verified_count"`
	RetryCount            uint32           `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	Timestamp             int64            `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	CreatedAt             int64            `gorm:"column:created_at;type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt             int64            `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (RedemptionRecord) TableName() string {
	return "bridge_redemptions"
}

// EventID 事件 ID
func (r *RedemptionRecord) EventID() string {
	return r.TxnHash
}

// NetAmount 支付给用户的 BTC 净额
func (r *RedemptionRecord) NetAmount() uint64 {
	return NetAmount(r.AbtcAmount, r.ProtocolFee)
}

// MismatchField 返回与 other 第一个内容不一致的字段名
func (r *RedemptionRecord) MismatchField(other *RedemptionRecord) string {
	switch {
	case r.TxnHash != other.TxnHash:
		return "txn_hash"
	case r.AbtcRedemptionAddress != other.AbtcRedemptionAddress:
		return "abtc_redemption_address"
	case r.AbtcRedemptionChainID != other.AbtcRedemptionChainID:
		return "abtc_redemption_chain_id"
	case r.BtcReceivingAddress != other.BtcReceivingAddress:
		return "btc_receiving_address"
	case r.AbtcAmount != other.AbtcAmount:
		return "abtc_amount"
	case r.ProtocolFee != other.ProtocolFee:
		return "protocol_fee"
	case r.BtcTxnHash != other.BtcTxnHash:
		return "btc_txn_hash"
	case r.Status != other.Status:
		return "status"
	case r.Remarks != other.Remarks:
		return "remarks"
	}
	return ""
}
