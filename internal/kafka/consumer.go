package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// SignatureResumer 签名结果的处理方
type SignatureResumer interface {
	Resume(ctx context.Context, requestID string, signature []byte, failure string) (*service.SignedPayload, error)
}

// DeadLetterSender 死信投递
type DeadLetterSender interface {
	SendDeadLetter(ctx context.Context, msg *DeadLetterMessage) error
}

// Consumer 订阅 signature-results 并恢复挂起的签名请求
type Consumer struct {
	client  sarama.ConsumerGroup
	handler *consumerGroupHandler
	topics  []string
	groupID string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Resumer    SignatureResumer
	DeadLetter DeadLetterSender
}

// NewConsumer 创建消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		client:  client,
		handler: &consumerGroupHandler{resumer: cfg.Resumer, deadLetter: cfg.DeadLetter},
		topics:  []string{TopicSignatureResults},
		groupID: cfg.GroupID,
	}, nil
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.doneCh)
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := c.client.Consume(ctx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.Error("kafka consume error", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	close(c.stopCh)
	c.running = false

	err := c.client.Close()
	<-c.doneCh
	return err
}

const (
	minRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff = 10 * time.Second
)

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	resumer      SignatureResumer
	deadLetter   DeadLetterSender
	retryBackoff time.Duration
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(session.Context(), msg) {
			// 会话结束, 未提交的消息在下个会话重新投递
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// process 基础设施错误原地退避重试, 不越过失败的 offset; 会话结束返回 false
func (h *consumerGroupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	backoff := h.retryBackoff
	if backoff <= 0 {
		backoff = minRetryBackoff
	}
	for {
		err := h.handleMessage(ctx, msg)
		if err == nil {
			return true
		}
		logger.Error("failed to handle kafka message, retrying",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

// handleMessage 返回 nil 表示消息已消费完毕 (包括被判定为无效的消息)
func (h *consumerGroupHandler) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg.Topic != TopicSignatureResults {
		logger.Warn("unknown topic", zap.String("topic", msg.Topic))
		return nil
	}

	var result SignatureResultMessage
	if err := json.Unmarshal(msg.Value, &result); err != nil || result.RequestID == "" {
		if err == nil {
			err = errors.New("request_id is required")
		}
		h.toDeadLetter(ctx, msg, err)
		return nil
	}

	out, err := h.resumer.Resume(ctx, result.RequestID, common.FromHex(result.Signature), result.FailureReason)
	switch {
	case err == nil:
		metrics.KafkaMessagesTotal.WithLabelValues(msg.Topic, "in", "ok").Inc()
		return nil
	case retryable(out, err):
		metrics.KafkaMessagesTotal.WithLabelValues(msg.Topic, "in", "error").Inc()
		return err
	default:
		// 重复结果、未知请求或签名无法应用: 结论已确定, 不再重试
		metrics.KafkaMessagesTotal.WithLabelValues(msg.Topic, "in", "rejected").Inc()
		logger.Warn("signature result rejected",
			zap.String("request_id", result.RequestID),
			zap.Error(err))
		return nil
	}
}

// retryable 结果未落库: 基础设施错误或账本等下游暂不可用
func retryable(out *service.SignedPayload, err error) bool {
	if out != nil {
		return false
	}
	switch bizerrors.TierOf(err) {
	case bizerrors.TierInternal, bizerrors.TierExternal:
		return true
	}
	return false
}

func (h *consumerGroupHandler) toDeadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error) {
	metrics.KafkaMessagesTotal.WithLabelValues(msg.Topic, "in", "dead_letter").Inc()
	logger.Warn("invalid kafka message",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))
	if h.deadLetter == nil {
		return
	}
	if err := h.deadLetter.SendDeadLetter(ctx, &DeadLetterMessage{
		OriginalTopic: msg.Topic,
		Key:           msg.Key,
		Value:         msg.Value,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		LastError:     cause.Error(),
		FailedAt:      time.Now().UnixMilli(),
	}); err != nil {
		logger.Error("send dead letter failed", zap.Error(err))
	}
}
