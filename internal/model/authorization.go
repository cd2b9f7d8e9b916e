package model

// ValidatorChain 验证者可验证的链 (由 owner 授权)
type ValidatorChain struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ValidatorID string `gorm:"column:validator_id;type:varchar(128);uniqueIndex:uk_validator_chain;not null" json:"validator_id"`
	ChainID     string `gorm:"column:chain_id;type:varchar(64);uniqueIndex:uk_validator_chain;not null" json:"chain_id"`
	GrantedBy   string `gorm:"column:granted_by;type:varchar(128)" json:"granted_by"`
	CreatedAt   int64  `gorm:"column:created_at;type:bigint;not null;autoCreateTime:milli" json:"created_at"`
}

// TableName 返回表名
func (ValidatorChain) TableName() string {
	return "bridge_validator_chains"
}

// Attestation 验证记录, 同一 attestation_key 下每个验证者至多一条
type Attestation struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AttestationKey string    `gorm:"column:attestation_key;type:varchar(320);uniqueIndex:uk_attestation;not null" json:"attestation_key"`
	ValidatorID    string    `gorm:"column:validator_id;type:varchar(128);uniqueIndex:uk_attestation;not null" json:"validator_id"`
	EventType      EventType `gorm:"column:event_type;type:varchar(16);not null" json:"event_type"`
	Phase          string    `gorm:"column:phase;type:varchar(32);not null" json:"phase"`
	CreatedAt      int64     `gorm:"column:created_at;type:bigint;not null;autoCreateTime:milli" json:"created_at"`
}

// TableName 返回表名
func (Attestation) TableName() string {
	return "bridge_attestations"
}
