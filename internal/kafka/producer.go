package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// Producer Kafka 生产者
// 同时实现签名投递、账户链铸造和桥事件广播
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerWithClient(producer), nil
}

// NewProducerWithClient 使用已有的 SyncProducer
func NewProducerWithClient(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *Producer) send(topic, key string, v interface{}) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		metrics.KafkaMessagesTotal.WithLabelValues(topic, "out", "error").Inc()
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	metrics.KafkaMessagesTotal.WithLabelValues(topic, "out", "ok").Inc()
	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// RequestSignature 投递签名请求
func (p *Producer) RequestSignature(ctx context.Context, req *model.SigningRequest) error {
	createdAt := req.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	return p.send(TopicSignatureRequests, req.EventID, &SignatureRequestMessage{
		RequestID:   req.RequestID,
		EventType:   req.EventType,
		EventID:     req.EventID,
		ChainID:     req.ChainID,
		PayloadKind: req.PayloadKind,
		Payload:     req.Payload,
		PayloadHash: req.PayloadHash,
		Path:        req.Path,
		KeyVersion:  req.KeyVersion,
		CreatedAt:   createdAt,
	})
}

// Mint 投递账户链铸造指令, provenance 为 "源链,源交易哈希"
func (p *Producer) Mint(ctx context.Context, receiver string, amount uint64, provenance string) error {
	return p.send(TopicTokenMints, provenance, &TokenMintMessage{
		Receiver:   receiver,
		Amount:     amount,
		Provenance: provenance,
		CreatedAt:  time.Now().UnixMilli(),
	})
}

// PublishBridgeEvent 广播桥事件
func (p *Producer) PublishBridgeEvent(ctx context.Context, evt *model.BridgeEvent) error {
	return p.send(TopicBridgeEvents, evt.EventID, evt)
}

// SendDeadLetter 投递死信
func (p *Producer) SendDeadLetter(ctx context.Context, msg *DeadLetterMessage) error {
	return p.send(TopicDeadLetter, msg.OriginalTopic, msg)
}
