package transcript

import (
	"time"

	"github.com/google/uuid"
)

// State marks whether a turn carries a real reply or a generation failure.
type State string

const (
	StateSuccess State = "success"
	StateError   State = "error"
)

// Turn is one entry of the transcript. Turns are values; once appended they
// are never changed.
type Turn struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn builds a successful turn with a fresh ID.
func NewTurn(from, to, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Content:   content,
		State:     StateSuccess,
		CreatedAt: time.Now().UTC(),
	}
}

// NewErrorTurn builds a turn recording a failed generation.
func NewErrorTurn(from, to, reason string) Turn {
	t := NewTurn(from, to, reason)
	t.State = StateError
	return t
}

// IsError reports whether the turn records a failure.
func (t Turn) IsError() bool {
	return t.State == StateError
}

// normalize fills the fields a caller may leave blank.
func (t Turn) normalize() Turn {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = StateSuccess
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return t
}
