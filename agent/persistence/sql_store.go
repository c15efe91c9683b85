package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// turnRecord is the relational row for one turn.
type turnRecord struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID string    `gorm:"size:128;not null;uniqueIndex:idx_chatflow_turns_conv_seq,priority:1"`
	Seq            int       `gorm:"not null;uniqueIndex:idx_chatflow_turns_conv_seq,priority:2"`
	TurnID         string    `gorm:"size:64;not null;uniqueIndex"`
	From           string    `gorm:"column:from_participant;size:128;not null"`
	To             string    `gorm:"column:to_participant;size:128;not null"`
	Content        string    `gorm:"type:text"`
	State          string    `gorm:"size:16;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (turnRecord) TableName() string { return "chatflow_turns" }

func toRecord(conversationID string, seq int, t transcript.Turn) turnRecord {
	return turnRecord{
		ConversationID: conversationID,
		Seq:            seq,
		TurnID:         t.ID,
		From:           t.From,
		To:             t.To,
		Content:        t.Content,
		State:          string(t.State),
		CreatedAt:      t.CreatedAt,
	}
}

func (r turnRecord) turn() transcript.Turn {
	return transcript.Turn{
		ID:        r.TurnID,
		From:      r.From,
		To:        r.To,
		Content:   r.Content,
		State:     transcript.State(r.State),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// SQLTranscriptStore stores turns in the chatflow_turns table via GORM.
type SQLTranscriptStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewSQLTranscriptStore wraps db with a pool manager and migrates the schema
// unless SkipMigrate is set.
func NewSQLTranscriptStore(db *gorm.DB, config SQLStoreConfig, logger *zap.Logger) (*SQLTranscriptStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPoolManager(db, config.Database.Pool, logger)
	if err != nil {
		return nil, err
	}
	if !config.SkipMigrate {
		if err := db.AutoMigrate(&turnRecord{}); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate transcript schema: %w", err)
		}
	}
	return &SQLTranscriptStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "sql_transcript_store")),
	}, nil
}

func (s *SQLTranscriptStore) Append(ctx context.Context, conversationID string, turns ...transcript.Turn) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&turnRecord{}).Where("conversation_id = ?", conversationID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to count turns: %w", err)
		}
		records := make([]turnRecord, len(turns))
		for i, t := range turns {
			records[i] = toRecord(conversationID, int(n)+i, t)
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to insert turns: %w", err)
		}
		return nil
	})
}

func (s *SQLTranscriptStore) Load(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	var records []turnRecord
	err := s.pool.DB().WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	turns := make([]transcript.Turn, len(records))
	for i, r := range records {
		turns[i] = r.turn()
	}
	return turns, nil
}

func (s *SQLTranscriptStore) Delete(ctx context.Context, conversationID string) error {
	res := s.pool.DB().WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&turnRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete transcript: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLTranscriptStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.pool.DB().WithContext(ctx).
		Model(&turnRecord{}).
		Distinct("conversation_id").
		Order("conversation_id").
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return ids, nil
}

func (s *SQLTranscriptStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *SQLTranscriptStore) Close() error {
	return s.pool.Close()
}
