// Package kafka 桥服务的 Kafka 生产者和消费者
package kafka

import "github.com/eidos-exchange/eidos/eidos-bridge/internal/model"

// Kafka topic 名称 (无前缀, 短横线分隔)
const (
	TopicSignatureRequests = "signature-requests" // 待签名载荷 (bridge → mpc-signer)
	TopicSignatureResults  = "signature-results"  // 签名结果 (mpc-signer → bridge)
	TopicTokenMints        = "token-mints"        // 账户链铸造指令 (bridge → near-relayer)
	TopicBridgeEvents      = "bridge-events"      // 签名/结算事件广播 (bridge → indexer)
	TopicDeadLetter        = "dead-letter"        // 无法解析的消息
)

// SignatureRequestMessage 签名请求
// Partition Key: event_id
type SignatureRequestMessage struct {
	RequestID   string            `json:"request_id"`
	EventType   model.EventType   `json:"event_type"`
	EventID     string            `json:"event_id"`
	ChainID     string            `json:"chain_id"`
	PayloadKind model.PayloadKind `json:"payload_kind"`
	Payload     string            `json:"payload"`
	PayloadHash string            `json:"payload_hash"`
	Path        string            `json:"path"`
	KeyVersion  uint32            `json:"key_version"`
	CreatedAt   int64             `json:"created_at"`
}

// SignatureResultMessage 签名结果, signature 为 65 字节 [R || S || V] 的 hex
// Partition Key: request_id
type SignatureResultMessage struct {
	RequestID     string `json:"request_id"`
	Signature     string `json:"signature,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// TokenMintMessage 账户链铸造指令
// Partition Key: provenance
type TokenMintMessage struct {
	Receiver   string `json:"receiver"`
	Amount     uint64 `json:"amount"`
	Provenance string `json:"provenance"`
	CreatedAt  int64  `json:"created_at"`
}

// DeadLetterMessage 死信消息
type DeadLetterMessage struct {
	OriginalTopic string `json:"original_topic"`
	Key           []byte `json:"key"`
	Value         []byte `json:"value"`
	Partition     int32  `json:"partition"`
	Offset        int64  `json:"offset"`
	LastError     string `json:"last_error"`
	FailedAt      int64  `json:"failed_at"`
}
