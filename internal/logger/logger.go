// Package logger keeps the node's user-visible event feed: a bounded,
// thread-safe ring of messages about redemptions, permits and rejects that
// the API and the event stream serve back to wallets and operators.
// Diagnostic logging goes through the subsystem loggers in subsystem.go.
package logger

import (
	"sync"
	"time"
)

// Message is one entry of the event feed.
type Message struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"` // info, warning, error
}

// Logger is a ring of the last maxSize messages.
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
	seq      uint64
	notify   chan struct{}
}

// New creates a ring holding at most maxSize messages.
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
		notify:   make(chan struct{}),
	}
}

// Log appends a message and wakes anyone waiting in Wait.
func (l *Logger) Log(level, text string) {
	l.mu.Lock()
	l.seq++
	l.messages = append(l.messages, Message{
		Seq:       l.seq,
		Timestamp: time.Now(),
		Text:      text,
		Level:     level,
	})
	if len(l.messages) > l.maxSize {
		l.messages = l.messages[len(l.messages)-l.maxSize:]
	}
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
}

func (l *Logger) Info(text string) {
	l.Log("info", text)
}

func (l *Logger) Warning(text string) {
	l.Log("warning", text)
}

func (l *Logger) Error(text string) {
	l.Log("error", text)
}

// GetRecent returns the most recent n messages, newest first.
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) {
		n = len(l.messages)
	}
	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}
	return result
}

// GetAll returns every buffered message, newest first.
func (l *Logger) GetAll() []Message {
	l.mu.RLock()
	n := len(l.messages)
	l.mu.RUnlock()
	return l.GetRecent(n)
}

// Since returns the buffered messages with a sequence number above seq,
// oldest first. Messages that already fell out of the ring are skipped.
func (l *Logger) Since(seq uint64) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Message
	for _, m := range l.messages {
		if m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}

// Wait returns a channel that is closed when the next message is logged.
func (l *Logger) Wait() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notify
}
