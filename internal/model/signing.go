package model

// SigningStatus 外部门限签名请求状态
type SigningStatus int8

const (
	SigningStatusPending SigningStatus = 0
	SigningStatusSigned  SigningStatus = 1
	SigningStatusFailed  SigningStatus = 2
)

func (s SigningStatus) String() string {
	switch s {
	case SigningStatusPending:
		return "PENDING"
	case SigningStatusSigned:
		return "SIGNED"
	case SigningStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PayloadKind 目标链载荷类型
type PayloadKind string

const (
	PayloadKindEVMTx    PayloadKind = "evm_tx"    // RLP 编码的未签名 EIP-1559 交易
	PayloadKindJSONMint PayloadKind = "json_mint" // 账户模型链的 JSON 铸造指令
)

// SigningRequest 两阶段签名中挂起的请求
// Begin 时落库, 由签名服务回调 Resume 结束
type SigningRequest struct {
	ID            int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID     string        `gorm:"column:request_id;type:varchar(64);uniqueIndex;not null" json:"request_id"`
	EventType     EventType     `gorm:"column:event_type;type:varchar(16);index:idx_signing_event;not null" json:"event_type"`
	EventID       string        `gorm:"column:event_id;type:varchar(160);index:idx_signing_event;not null" json:"event_id"`
	ChainID       string        `gorm:"column:chain_id;type:varchar(64);not null" json:"chain_id"`
	PayloadKind   PayloadKind   `gorm:"column:payload_kind;type:varchar(16);not null" json:"payload_kind"`
	Payload       string        `gorm:"column:payload;type:text;not null" json:"payload"`
	PayloadHash   string        `gorm:"column:payload_hash;type:varchar(66);not null" json:"payload_hash"`
	Path          string        `gorm:"column:path;type:varchar(128);not null" json:"path"`
	KeyVersion    uint32        `gorm:"column:key_version;type:int;not null" json:"key_version"`
	Status        SigningStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	Signature     string        `gorm:"column:signature;type:varchar(132)" json:"signature"`
	SignedPayload string        `gorm:"column:signed_payload;type:text" json:"signed_payload"`
	FailureReason string        `gorm:"column:failure_reason;type:varchar(512)" json:"failure_reason"`
	ResolvedAt    int64         `gorm:"column:resolved_at;type:bigint" json:"resolved_at"`
	CreatedAt     int64         `gorm:"column:created_at;type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt     int64         `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (SigningRequest) TableName() string {
	return "bridge_signing_requests"
}
