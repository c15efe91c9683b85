// Package transcript holds the ordered, append-only record of a conversation.
package transcript

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Transcript is an append-only list of turns, safe for concurrent readers.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// New returns a transcript seeded with prior turns, in order.
func New(prior ...Turn) *Transcript {
	t := &Transcript{turns: make([]Turn, 0, len(prior))}
	for _, p := range prior {
		t.turns = append(t.turns, p.normalize())
	}
	return t
}

// Append adds a turn at the end and returns the stored value.
func (t *Transcript) Append(turn Turn) Turn {
	turn = turn.normalize()
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
	return turn
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Last returns the most recent turn.
func (t *Transcript) Last() (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Snapshot returns a copy of all turns. Mutating it does not affect t.
func (t *Transcript) Snapshot() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Since returns a copy of the turns from index i onward.
func (t *Transcript) Since(i int) []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 {
		i = 0
	}
	if i >= len(t.turns) {
		return nil
	}
	out := make([]Turn, len(t.turns)-i)
	copy(out, t.turns[i:])
	return out
}

// MarshalJSON encodes the transcript as a JSON array of turns.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// FromJSON decodes a transcript previously produced by MarshalJSON.
func FromJSON(data []byte) (*Transcript, error) {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	for i, turn := range turns {
		if turn.From == "" || turn.To == "" {
			return nil, fmt.Errorf("decode transcript: turn %d missing from/to", i)
		}
		if turn.State != "" && turn.State != StateSuccess && turn.State != StateError {
			return nil, fmt.Errorf("decode transcript: turn %d has unknown state %q", i, turn.State)
		}
	}
	return New(turns...), nil
}
