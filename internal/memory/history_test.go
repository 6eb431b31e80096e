package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"hyfa/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func msg(role domain.Role, content string) domain.ConversationMessage {
	return domain.ConversationMessage{Role: role, Content: content}
}

// stores returns every HistoryStore implementation with the given capacity.
func stores(t *testing.T, size int) map[string]domain.HistoryStore {
	t.Helper()
	sq, err := NewSQLiteHistory(size, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteHistory: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]domain.HistoryStore{
		"memory": NewMemoryHistory(size),
		"sqlite": sq,
	}
}

func TestHistory_UnknownUserIsEmpty(t *testing.T) {
	for name, s := range stores(t, 4) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(context.Background(), "U404")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("expected empty non-nil slice, got %#v", got)
			}
		})
	}
}

func TestHistory_AppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, 4) {
		t.Run(name, func(t *testing.T) {
			if err := s.Append(ctx, "U1", msg(domain.RoleUser, "Hello"), msg(domain.RoleAssistant, "Hi!")); err != nil {
				t.Fatalf("Append: %v", err)
			}
			got, _ := s.Get(ctx, "U1")
			if len(got) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(got))
			}
			if got[0] != msg(domain.RoleUser, "Hello") || got[1] != msg(domain.RoleAssistant, "Hi!") {
				t.Fatalf("unexpected order: %#v", got)
			}
		})
	}
}

func TestHistory_BoundedToMostRecent(t *testing.T) {
	ctx := context.Background()
	const size = 5
	for name, s := range stores(t, size) {
		t.Run(name, func(t *testing.T) {
			pushed := 0
			for batch := 1; batch <= 6; batch++ {
				var msgs []domain.ConversationMessage
				for i := 0; i < batch; i++ {
					msgs = append(msgs, msg(domain.RoleUser, fmt.Sprintf("m%d", pushed)))
					pushed++
				}
				if err := s.Append(ctx, "U1", msgs...); err != nil {
					t.Fatalf("Append: %v", err)
				}

				got, _ := s.Get(ctx, "U1")
				if len(got) > size {
					t.Fatalf("buffer exceeded capacity: %d > %d", len(got), size)
				}
				want := pushed
				if want > size {
					want = size
				}
				if len(got) != want {
					t.Fatalf("expected %d entries, got %d", want, len(got))
				}
				for i, m := range got {
					expected := fmt.Sprintf("m%d", pushed-want+i)
					if m.Content != expected {
						t.Fatalf("entry %d: expected %q, got %q", i, expected, m.Content)
					}
				}
			}
		})
	}
}

func TestHistory_OversizedBatchKeepsTail(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, 2) {
		t.Run(name, func(t *testing.T) {
			_ = s.Append(ctx, "U1", msg(domain.RoleUser, "a"), msg(domain.RoleUser, "b"), msg(domain.RoleUser, "c"))
			got, _ := s.Get(ctx, "U1")
			if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
				t.Fatalf("expected [b c], got %#v", got)
			}
		})
	}
}

func TestHistory_UsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, 3) {
		t.Run(name, func(t *testing.T) {
			_ = s.Append(ctx, "U1", msg(domain.RoleUser, "from U1"))
			_ = s.Append(ctx, "U2", msg(domain.RoleUser, "from U2"), msg(domain.RoleAssistant, "to U2"))

			u1, _ := s.Get(ctx, "U1")
			u2, _ := s.Get(ctx, "U2")
			if len(u1) != 1 || u1[0].Content != "from U1" {
				t.Fatalf("U1 history polluted: %#v", u1)
			}
			if len(u2) != 2 {
				t.Fatalf("U2 expected 2 entries, got %d", len(u2))
			}
		})
	}
}

func TestHistory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, 3) {
		t.Run(name, func(t *testing.T) {
			_ = s.Append(ctx, "U1", msg(domain.RoleUser, "original"))

			got, _ := s.Get(ctx, "U1")
			got[0].Content = "mutated"
			_ = append(got, msg(domain.RoleUser, "extra"))

			again, _ := s.Get(ctx, "U1")
			if len(again) != 1 || again[0].Content != "original" {
				t.Fatalf("stored history was mutated through a read: %#v", again)
			}
		})
	}
}

func TestHistory_AppendNothing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, 3) {
		t.Run(name, func(t *testing.T) {
			if err := s.Append(ctx, "U1"); err != nil {
				t.Fatalf("empty append should be a no-op: %v", err)
			}
			got, _ := s.Get(ctx, "U1")
			if len(got) != 0 {
				t.Fatalf("expected empty history, got %d", len(got))
			}
		})
	}
}

func TestMemoryHistory_ConcurrentAppendsStayBounded(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.Append(ctx, "U1", msg(domain.RoleUser, fmt.Sprint(i)), msg(domain.RoleAssistant, fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	got, _ := h.Get(ctx, "U1")
	if len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(got))
	}
	// Pairs are appended atomically, so user/assistant alternate.
	for i := 0; i < len(got); i += 2 {
		if got[i].Role != domain.RoleUser || got[i+1].Role != domain.RoleAssistant || got[i].Content != got[i+1].Content {
			t.Fatalf("pair %d interleaved: %#v %#v", i/2, got[i], got[i+1])
		}
	}
}

func TestNewMemoryHistory_DefaultSize(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(0)
	for i := 0; i < DefaultHistorySize+7; i++ {
		if err := h.Append(ctx, "U1", msg(domain.RoleUser, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, _ := h.Get(ctx, "U1")
	if len(got) != DefaultHistorySize {
		t.Fatalf("expected default capacity %d, got %d", DefaultHistorySize, len(got))
	}
	if got[0].Content != "m7" {
		t.Fatalf("expected oldest kept message m7, got %s", got[0].Content)
	}
}
