package model

// SettlementBatchStatus 国库结算批次状态
type SettlementBatchStatus int8

const (
	SettlementBatchStatusBuilt     SettlementBatchStatus = 0 // 已构造未签名交易
	SettlementBatchStatusConfirmed SettlementBatchStatus = 1 // 链上已确认
)

func (s SettlementBatchStatus) String() string {
	switch s {
	case SettlementBatchStatusBuilt:
		return "BUILT"
	case SettlementBatchStatusConfirmed:
		return "CONFIRMED"
	default:
		return "UNKNOWN"
	}
}

// SettlementBatch 一次国库结算打包的记录集合
type SettlementBatch struct {
	ID             int64                 `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchID        string                `gorm:"column:batch_id;type:varchar(64);uniqueIndex;not null" json:"batch_id"`
	BtcTxnHash     string                `gorm:"column:btc_txn_hash;type:varchar(64);uniqueIndex;not null" json:"btc_txn_hash"`
	MerkleRoot     string                `gorm:"column:merkle_root;type:varchar(64);not null" json:"merkle_root"`
	RecordCount    int                   `gorm:"column:record_count;type:int;not null" json:"record_count"`
	InputTotal     uint64                `gorm:"column:input_total;type:bigint;not null" json:"input_total"`
	TreasuryAmount uint64                `gorm:"column:treasury_amount;type:bigint;not null" json:"treasury_amount"`
	Fee            uint64                `gorm:"column:fee;type:bigint;not null" json:"fee"`
	Change         uint64                `gorm:"column:change;type:bigint;not null" json:"change"`
	Psbt           string                `gorm:"column:psbt;type:text;not null" json:"psbt"`
	Status         SettlementBatchStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	ConfirmedAt    int64                 `gorm:"column:confirmed_at;type:bigint" json:"confirmed_at"`
	CreatedAt      int64                 `gorm:"column:created_at;type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt      int64                 `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (SettlementBatch) TableName() string {
	return "bridge_settlement_batches"
}
