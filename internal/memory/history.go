// Package memory holds the per-user conversation history stores.
package memory

import (
	"context"
	"sync"

	"hyfa/internal/domain"
)

// DefaultHistorySize is the buffer capacity used when none is configured.
const DefaultHistorySize = 20

// MemoryHistory implements domain.HistoryStore with a map of slices.
// Stored slices are never handed out; reads and writes work on copies.
type MemoryHistory struct {
	mu      sync.RWMutex
	buffers map[string][]domain.ConversationMessage
	size    int
}

// NewMemoryHistory creates a store that keeps the last size messages per user.
func NewMemoryHistory(size int) *MemoryHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &MemoryHistory{
		buffers: make(map[string][]domain.ConversationMessage),
		size:    size,
	}
}

// Get returns a copy of the user's buffer. Unknown users get an empty, non-nil slice.
func (h *MemoryHistory) Get(_ context.Context, userID string) ([]domain.ConversationMessage, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.buffers[userID]
	out := make([]domain.ConversationMessage, len(buf))
	copy(out, buf)
	return out, nil
}

// Append concatenates messages to the user's buffer and keeps the newest entries.
// The stored slice is replaced, never modified in place.
func (h *MemoryHistory) Append(_ context.Context, userID string, messages ...domain.ConversationMessage) error {
	if len(messages) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.buffers[userID]
	total := len(prev) + len(messages)
	skip := 0
	if total > h.size {
		skip = total - h.size
	}

	next := make([]domain.ConversationMessage, 0, total-skip)
	for i, m := range prev {
		if i >= skip {
			next = append(next, m)
		}
	}
	for i, m := range messages {
		if len(prev)+i >= skip {
			next = append(next, m)
		}
	}
	h.buffers[userID] = next
	return nil
}
