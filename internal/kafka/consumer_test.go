package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockResumer struct {
	mock.Mock
}

func (m *mockResumer) Resume(ctx context.Context, requestID string, signature []byte, failure string) (*service.SignedPayload, error) {
	args := m.Called(ctx, requestID, signature, failure)
	out, _ := args.Get(0).(*service.SignedPayload)
	return out, args.Error(1)
}

type mockDeadLetter struct {
	sent []*DeadLetterMessage
}

func (m *mockDeadLetter) SendDeadLetter(_ context.Context, msg *DeadLetterMessage) error {
	m.sent = append(m.sent, msg)
	return nil
}

func resultMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicSignatureResults, Value: []byte(value), Offset: 7}
}

func TestHandleMessage_Signature(t *testing.T) {
	resumer := &mockResumer{}
	h := &consumerGroupHandler{resumer: resumer}

	resumer.On("Resume", mock.Anything, "req-1", []byte{0xde, 0xad}, "").
		Return(&service.SignedPayload{RequestID: "req-1"}, nil).Once()

	require.NoError(t, h.handleMessage(context.Background(), resultMessage(`{"request_id":"req-1","signature":"0xdead"}`)))
	resumer.AssertExpectations(t)
}

func TestHandleMessage_Failure(t *testing.T) {
	resumer := &mockResumer{}
	h := &consumerGroupHandler{resumer: resumer}

	resumer.On("Resume", mock.Anything, "req-2", []byte{}, "mpc timeout").
		Return(&service.SignedPayload{RequestID: "req-2"}, nil).Once()

	require.NoError(t, h.handleMessage(context.Background(), resultMessage(`{"request_id":"req-2","failure_reason":"mpc timeout"}`)))
	resumer.AssertExpectations(t)
}

func TestHandleMessage_Errors(t *testing.T) {
	failed := &service.SignedPayload{RequestID: "req-3", Status: model.SigningStatusFailed}
	tests := []struct {
		name    string
		out     *service.SignedPayload
		err     error
		wantErr bool
	}{
		{"already resolved", nil, service.ErrSigningResolved, false},
		{"unknown request", nil, bizerrors.ErrNotFound, false},
		{"signature not applicable", failed, bizerrors.ErrSigningFailed, false},
		{"ledger unavailable", nil, bizerrors.Wrap(bizerrors.ErrSigningFailed, errors.New("rpc unavailable")), true},
		{"database down", nil, bizerrors.Wrap(bizerrors.ErrInternal, errors.New("conn refused")), true},
		{"lock timeout", nil, bizerrors.ErrLockFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resumer := &mockResumer{}
			h := &consumerGroupHandler{resumer: resumer}
			resumer.On("Resume", mock.Anything, "req-3", mock.Anything, "").Return(tt.out, tt.err)

			err := h.handleMessage(context.Background(), resultMessage(`{"request_id":"req-3","signature":"01"}`))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandleMessage_DeadLetter(t *testing.T) {
	resumer := &mockResumer{}
	dl := &mockDeadLetter{}
	h := &consumerGroupHandler{resumer: resumer, deadLetter: dl}

	require.NoError(t, h.handleMessage(context.Background(), resultMessage(`not json`)))
	require.NoError(t, h.handleMessage(context.Background(), resultMessage(`{"signature":"01"}`)))

	require.Len(t, dl.sent, 2)
	assert.Equal(t, TopicSignatureResults, dl.sent[0].OriginalTopic)
	assert.Equal(t, int64(7), dl.sent[0].Offset)
	assert.Equal(t, "request_id is required", dl.sent[1].LastError)
	resumer.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleMessage_UnknownTopic(t *testing.T) {
	h := &consumerGroupHandler{resumer: &mockResumer{}}
	assert.NoError(t, h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: "other"}))
}

// fakeSession 记录已提交的 offset
type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {
}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {
}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return TopicSignatureResults }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 10 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(values ...string) *fakeClaim {
	c := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.messages <- &sarama.ConsumerMessage{Topic: TopicSignatureResults, Value: []byte(v), Offset: int64(7 + i)}
	}
	close(c.messages)
	return c
}

func TestConsumeClaim_RetriesBeforeCommit(t *testing.T) {
	resumer := &mockResumer{}
	h := &consumerGroupHandler{resumer: resumer, retryBackoff: time.Millisecond}
	resumer.On("Resume", mock.Anything, "req-a", mock.Anything, "").
		Return(nil, bizerrors.Wrap(bizerrors.ErrInternal, errors.New("conn refused"))).Twice()
	resumer.On("Resume", mock.Anything, "req-a", mock.Anything, "").
		Return(&service.SignedPayload{RequestID: "req-a"}, nil).Once()
	resumer.On("Resume", mock.Anything, "req-b", mock.Anything, "").
		Return(&service.SignedPayload{RequestID: "req-b"}, nil).Once()

	session := &fakeSession{ctx: context.Background()}
	claim := newClaim(`{"request_id":"req-a","signature":"01"}`, `{"request_id":"req-b","signature":"02"}`)
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []int64{7, 8}, session.marked)
	resumer.AssertExpectations(t)
}

func TestConsumeClaim_NoCommitPastFailure(t *testing.T) {
	resumer := &mockResumer{}
	h := &consumerGroupHandler{resumer: resumer, retryBackoff: time.Millisecond}
	resumer.On("Resume", mock.Anything, "req-a", mock.Anything, "").
		Return(nil, bizerrors.ErrLockFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	session := &fakeSession{ctx: ctx}
	claim := newClaim(`{"request_id":"req-a","signature":"01"}`, `{"request_id":"req-b","signature":"02"}`)
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Empty(t, session.marked)
	resumer.AssertNotCalled(t, "Resume", mock.Anything, "req-b", mock.Anything, mock.Anything)
}
