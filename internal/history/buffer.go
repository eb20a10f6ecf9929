// ABOUTME: Bounded FIFO of recent conversation turns, tagged by speaker.
// ABOUTME: Supplies short-term context to the AI layer; never persisted.

package history

import (
	"strings"
	"time"
)

// DefaultLimit is the number of turns kept when no limit is configured.
const DefaultLimit = 10

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "User"
	SpeakerAssistant Speaker = "Assistant"
)

// Turn is one line of conversation.
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

// String renders the turn as "User: text" or "Assistant: text".
func (t Turn) String() string {
	return string(t.Speaker) + ": " + t.Text
}

// Buffer holds at most limit turns, evicting the oldest first.
// A Buffer is owned by a single session and is not safe for concurrent use;
// callers serialize access through the session lease.
type Buffer struct {
	turns []Turn
	limit int
}

// New creates an empty buffer. A non-positive limit falls back to DefaultLimit.
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{
		turns: make([]Turn, 0, limit),
		limit: limit,
	}
}

// Append adds a turn, dropping the oldest when the buffer is full.
func (b *Buffer) Append(speaker Speaker, text string, at time.Time) {
	if len(b.turns) == b.limit {
		copy(b.turns, b.turns[1:])
		b.turns = b.turns[:b.limit-1]
	}
	b.turns = append(b.turns, Turn{Speaker: speaker, Text: text, At: at})
}

// AppendUser records an inbound message.
func (b *Buffer) AppendUser(text string, at time.Time) {
	b.Append(SpeakerUser, text, at)
}

// AppendAssistant records an outbound reply.
func (b *Buffer) AppendAssistant(text string, at time.Time) {
	b.Append(SpeakerAssistant, text, at)
}

// Turns returns a copy of the buffered turns, oldest first.
func (b *Buffer) Turns() []Turn {
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Lines returns the turns rendered as tagged strings, oldest first.
func (b *Buffer) Lines() []string {
	lines := make([]string, len(b.turns))
	for i, t := range b.turns {
		lines[i] = t.String()
	}
	return lines
}

// Transcript joins Lines with newlines.
func (b *Buffer) Transcript() string {
	return strings.Join(b.Lines(), "\n")
}

// Len reports the number of buffered turns.
func (b *Buffer) Len() int { return len(b.turns) }

// Limit reports the maximum number of turns kept.
func (b *Buffer) Limit() int { return b.limit }

// Reset drops all turns.
func (b *Buffer) Reset() {
	b.turns = b.turns[:0]
}

// Clone returns an independent copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	c := &Buffer{
		turns: make([]Turn, len(b.turns), b.limit),
		limit: b.limit,
	}
	copy(c.turns, b.turns)
	return c
}
