package model

// BridgingStatus aBTC 跨链转移状态
//
// 正向: 0 → 10 → 11 → 20
// 回滚: 11 → 10 (目标链交易哈希为空时)
type BridgingStatus int8

const (
	BridgingStatusPendingBurn  BridgingStatus = 0  // 等待源链销毁
	BridgingStatusBurnt        BridgingStatus = 10 // 源链已销毁
	BridgingStatusPendingMint  BridgingStatus = 11 // 等待目标链铸造
	BridgingStatusMintedToDest BridgingStatus = 20 // 已在目标链铸造
)

func (s BridgingStatus) String() string {
	switch s {
	case BridgingStatusPendingBurn:
		return "PENDING_BURN"
	case BridgingStatusBurnt:
		return "ABTC_BURNT"
	case BridgingStatusPendingMint:
		return "PENDING_BRIDGE"
	case BridgingStatusMintedToDest:
		return "MINTED_TO_DEST"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s BridgingStatus) IsTerminal() bool {
	return s == BridgingStatusMintedToDest
}

// Next 返回正向下一状态
func (s BridgingStatus) Next() (BridgingStatus, bool) {
	switch s {
	case BridgingStatusPendingBurn:
		return BridgingStatusBurnt, true
	case BridgingStatusBurnt:
		return BridgingStatusPendingMint, true
	case BridgingStatusPendingMint:
		return BridgingStatusMintedToDest, true
	}
	return s, false
}

// Previous 返回回滚目标状态
func (s BridgingStatus) Previous() (BridgingStatus, bool) {
	if s == BridgingStatusPendingMint {
		return BridgingStatusBurnt, true
	}
	return s, false
}

// YieldProviderStatus 收益提供方结算子状态, 独立于转移状态推进
//
// 0 → 10 → 11 → 12 → 13 → 14 → 20 → 30
// 20/30 由国库结算批处理推进
type YieldProviderStatus int8

const (
	YieldStatusNone                 YieldProviderStatus = 0
	YieldStatusBurnt                YieldProviderStatus = 10
	YieldStatusUnstakeProcessing    YieldProviderStatus = 11
	YieldStatusUnstaked             YieldProviderStatus = 12
	YieldStatusWithdrawing          YieldProviderStatus = 13
	YieldStatusWithdrawn            YieldProviderStatus = 14
	YieldStatusFeeSendingToTreasury YieldProviderStatus = 20
	YieldStatusFeeSentToTreasury    YieldProviderStatus = 30
)

func (s YieldProviderStatus) String() string {
	switch s {
	case YieldStatusNone:
		return "NONE"
	case YieldStatusBurnt:
		return "ABTC_BURNT"
	case YieldStatusUnstakeProcessing:
		return "UNSTAKE_PROCESSING"
	case YieldStatusUnstaked:
		return "UNSTAKED"
	case YieldStatusWithdrawing:
		return "WITHDRAWING"
	case YieldStatusWithdrawn:
		return "WITHDRAWN"
	case YieldStatusFeeSendingToTreasury:
		return "FEE_SENDING_TO_TREASURY"
	case YieldStatusFeeSentToTreasury:
		return "FEE_SENT_TO_TREASURY"
	default:
		return "UNKNOWN"
	}
}

// Next 返回收益轨道下一状态
func (s YieldProviderStatus) Next() (YieldProviderStatus, bool) {
	switch s {
	case YieldStatusNone:
		return YieldStatusBurnt, true
	case YieldStatusBurnt:
		return YieldStatusUnstakeProcessing, true
	case YieldStatusUnstakeProcessing:
		return YieldStatusUnstaked, true
	case YieldStatusUnstaked:
		return YieldStatusWithdrawing, true
	case YieldStatusWithdrawing:
		return YieldStatusWithdrawn, true
	case YieldStatusWithdrawn:
		return YieldStatusFeeSendingToTreasury, true
	case YieldStatusFeeSendingToTreasury:
		return YieldStatusFeeSentToTreasury, true
	}
	return s, false
}

// OwnedBySettlement 由国库结算批处理推进的状态
func (s YieldProviderStatus) OwnedBySettlement() bool {
	return s >= YieldStatusWithdrawn
}

// BridgingRecord aBTC 跨链转移记录, 以源链销毁交易哈希为事件 ID
type BridgingRecord struct {
	ID                         int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	TxnHash                    string              `gorm:"column:txn_hash;type:varchar(160);uniqueIndex;not null" json:"txn_hash"`
	OriginChainID              string              `gorm:"column:origin_chain_id;type:varchar(64);not null" json:"origin_chain_id"`
	OriginChainAddress         string              `gorm:"column:origin_chain_address;type:varchar(128);not null" json:"origin_chain_address"`
	DestChainID                string              `gorm:"column:dest_chain_id;type:varchar(64);not null" json:"dest_chain_id"`
	DestChainAddress           string              `gorm:"column:dest_chain_address;type:varchar(128);not null" json:"dest_chain_address"`
	DestTxnHash                string              `gorm:"column:dest_txn_hash;type:varchar(128)" json:"dest_txn_hash"`
	AbtcAmount                 uint64              `gorm:"column:abtc_amount;type:bigint;not null" json:"abtc_amount"`
	ProtocolFee                uint64              `gorm:"column:protocol_fee;type:bigint;not null;default:0" json:"protocol_fee"`
	MintingFee                 uint64              `gorm:"column:minting_fee;type:bigint;not null;default:0" json:"minting_fee"`
	BridgingGasFee             uint64              `gorm:"column:bridging_gas_fee;type:bigint;not null;default:0" json:"bridging_gas_fee"`
	ActualGasFee               uint64              `gorm:"column:actual_gas_fee;type:bigint;not null;default:0" json:"actual_gas_fee"`
	YieldProviderGasFee        uint64              `gorm:"column:yield_provider_gas_fee;type:bigint;not null;default:0" json:"yield_provider_gas_fee"`
	YieldProviderTxnHash       string              `gorm:"column:yield_provider_txn_hash;type:varchar(128)" json:"yield_provider_txn_hash"`
	YieldProviderStatus        YieldProviderStatus `gorm:"column:yield_provider_status;type:smallint;index;not null;default:0" json:"yield_provider_status"`
	TreasuryBtcTxnHash         string              `gorm:"column:treasury_btc_txn_hash;type:varchar(128);index" json:"treasury_btc_txn_hash"`
	TreasuryFeeShare           uint64              `gorm:"column:treasury_fee_share;type:bigint;not null;default:0" json:"treasury_fee_share"`
	Status                     BridgingStatus      `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	Remarks                    string              `gorm:"column:remarks;type:varchar(512)" json:"remarks"`
	VerifiedCount              uint32              `gorm:"column:verified_count;type:int;not null;default:0" json:"verified_count"`
	MintedTxnHashVerifiedCount uint32              `gorm:"column:minted_txn_hash_verified_count;type:int;not null;default:0" json:"minted_txn_hash_verified_count"`
	RetryCount                 uint32              `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	Timestamp                  int64               `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	CreatedAt                  int64               `gorm:"column:created_at;type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt                  int64               `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (BridgingRecord) TableName() string {
	return "bridge_bridgings"
}

// EventID 事件 ID
func (r *BridgingRecord) EventID() string {
	return r.TxnHash
}

// NetAmount 目标链铸造净额
func (r *BridgingRecord) NetAmount() uint64 {
	return NetAmount(r.AbtcAmount, r.ProtocolFee, r.MintingFee, r.BridgingGasFee)
}

// TreasuryFees 应划入国库的费用 (协议费 + 铸造费 + 桥接 gas 预留)
func (r *BridgingRecord) TreasuryFees() uint64 {
	return SatAdd(SatAdd(r.ProtocolFee, r.MintingFee), r.BridgingGasFee)
}

// GasHeadroom 预留桥接 gas 与实际花费的差额
func (r *BridgingRecord) GasHeadroom() uint64 {
	return SatSub(r.BridgingGasFee, r.ActualGasFee)
}

// IsSettlementEligible 满足国库结算条件
func (r *BridgingRecord) IsSettlementEligible() bool {
	return r.YieldProviderStatus == YieldStatusWithdrawn &&
		r.Status == BridgingStatusMintedToDest &&
		r.Remarks == ""
}

// MismatchField 返回与 other 第一个内容不一致的字段名
func (r *BridgingRecord) MismatchField(other *BridgingRecord) string {
	switch {
	case r.TxnHash != other.TxnHash:
		return "txn_hash"
	case r.OriginChainID != other.OriginChainID:
		return "origin_chain_id"
	case r.OriginChainAddress != other.OriginChainAddress:
		return "origin_chain_address"
	case r.DestChainID != other.DestChainID:
		return "dest_chain_id"
	case r.DestChainAddress != other.DestChainAddress:
		return "dest_chain_address"
	case r.DestTxnHash != other.DestTxnHash:
		return "dest_txn_hash"
	case r.AbtcAmount != other.AbtcAmount:
		return "abtc_amount"
	case r.ProtocolFee != other.ProtocolFee:
		return "protocol_fee"
	case r.MintingFee != other.MintingFee:
		return "minting_fee"
	case r.BridgingGasFee != other.BridgingGasFee:
		return "bridging_gas_fee"
	case r.Status != other.Status:
		return "status"
	case r.Remarks != other.Remarks:
		return "remarks"
	}
	return ""
}
