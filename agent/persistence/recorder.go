package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/llm/retry"
	"go.uber.org/zap"
)

// Recorder persists every turn a conversation publishes.
type Recorder struct {
	store   TranscriptStore
	retryer retry.Retryer
	timeout time.Duration
	onWrite func(err error)
	logger  *zap.Logger

	written atomic.Int64
	failed  atomic.Int64
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithRecorderRetry retries failed appends
func WithRecorderRetry(r retry.Retryer) RecorderOption {
	return func(rec *Recorder) { rec.retryer = r }
}

// WithRecorderTimeout bounds each append; default 5s
func WithRecorderTimeout(d time.Duration) RecorderOption {
	return func(rec *Recorder) { rec.timeout = d }
}

// WithRecorderObserver reports the outcome of every append to fn
func WithRecorderObserver(fn func(err error)) RecorderOption {
	return func(rec *Recorder) { rec.onWrite = fn }
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store TranscriptStore, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger.With(zap.String("component", "transcript_recorder")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes to c's message events and returns the unsubscribe func.
func (r *Recorder) Attach(c *conversation.Conversation) func() {
	return c.On(conversation.EventMessage, func(ctx context.Context, ev conversation.Event) {
		r.record(ctx, ev.ConversationID, ev.Turn)
	})
}

// Hook is an OnCreate hook for conversation.Manager
func (r *Recorder) Hook() func(*conversation.Conversation) {
	return func(c *conversation.Conversation) { r.Attach(c) }
}

// Written reports successfully persisted turns
func (r *Recorder) Written() int64 { return r.written.Load() }

// Failed reports turns that could not be persisted
func (r *Recorder) Failed() int64 { return r.failed.Load() }

func (r *Recorder) record(ctx context.Context, conversationID string, turn transcript.Turn) {
	// The run may be cancelled right after publishing; the write still completes.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	write := func() error {
		err := r.store.Append(ctx, conversationID, turn)
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrStoreClosed) {
			return retry.Permanent(err)
		}
		return err
	}

	var err error
	if r.retryer != nil {
		err = r.retryer.Do(ctx, write)
	} else {
		err = write()
	}
	if r.onWrite != nil {
		r.onWrite(err)
	}
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("failed to persist turn",
			zap.String("conversation_id", conversationID),
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
		return
	}
	r.written.Add(1)
}

// Resume loads a stored transcript for conversation.WithTranscript.
func Resume(ctx context.Context, store TranscriptStore, conversationID string) (*transcript.Transcript, error) {
	turns, err := store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return transcript.New(turns...), nil
}
