package turn

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/charactercall/pkg/provider/tts"
)

// Speaker identifies who produced a [Turn].
type Speaker int

const (
	SpeakerHuman Speaker = iota
	SpeakerCharacter
	SpeakerSystem
)

// String returns the display name of the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerHuman:
		return "Human"
	case SpeakerCharacter:
		return "Character"
	case SpeakerSystem:
		return "System"
	default:
		return "unknown"
	}
}

// Turn is one entry of the conversation log. Turns are never modified after
// they are appended.
type Turn struct {
	Index     int
	Speaker   Speaker
	Text      string
	Audio     *tts.Audio
	CreatedAt time.Time
}

// Log is the append-only, index-ordered conversation history of one session.
// Only the [Controller] appends to it. A Log is safe for concurrent use.
type Log struct {
	now func() time.Time

	mu    sync.RWMutex
	turns []Turn
}

// NewLog returns an empty log. A nil now means [time.Now].
func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// Append adds a turn and returns it with its index and timestamp filled in.
func (l *Log) Append(speaker Speaker, text string, audio *tts.Audio) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := Turn{
		Index:     len(l.turns),
		Speaker:   speaker,
		Text:      text,
		Audio:     audio,
		CreatedAt: l.now(),
	}
	l.turns = append(l.turns, t)
	return t
}

// Turns returns a snapshot of the log.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.turns)
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
