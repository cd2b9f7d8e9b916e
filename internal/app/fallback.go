package app

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// logSigner kafka 关闭时使用: 请求保持 pending, 结果经 HTTP 回调提交
type logSigner struct{}

func (logSigner) RequestSignature(_ context.Context, req *model.SigningRequest) error {
	logger.Info("signature requested",
		zap.String("request_id", req.RequestID),
		zap.String("event_id", req.EventID),
		zap.String("payload_hash", req.PayloadHash),
		zap.String("path", req.Path),
		zap.Uint32("key_version", req.KeyVersion))
	return nil
}

// logLedger kafka 关闭时记录铸造指令, 由运维手工提交
type logLedger struct{}

func (logLedger) Mint(_ context.Context, receiver string, amount uint64, provenance string) error {
	logger.Info("token mint requested",
		zap.String("receiver", receiver),
		zap.Uint64("amount", amount),
		zap.String("provenance", provenance))
	return nil
}
