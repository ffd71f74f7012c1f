package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ripple/internal/chat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func pageWithTexts(texts ...string) chat.Page {
	msgs := make([]chat.Message, 0, len(texts))
	for _, txt := range texts {
		msgs = append(msgs, chat.Message{Text: txt})
	}
	return chat.Page{
		Messages: msgs,
		Meta: chat.PageMeta{
			CurrentPage:   1,
			TotalPages:    1,
			TotalMessages: int64(len(texts)),
			Limit:         chat.DefaultPageLimit,
		},
	}
}

func TestPageCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewPageCache(WithClock(clock.Now))

	c.Set("u1", 1, 50, pageWithTexts("hello"))

	if _, ok := c.Get("u1", 1, 50); !ok {
		t.Fatalf("fresh entry must be served")
	}

	clock.Advance(DefaultCacheTTL - time.Second)
	if _, ok := c.Get("u1", 1, 50); !ok {
		t.Fatalf("entry within TTL must be served")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("u1", 1, 50); ok {
		t.Fatalf("entry at TTL must be treated as absent")
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("expired entry must be evicted on read, len = %d", got)
	}
}

func TestPageCache_SetRefreshesAge(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewPageCache(WithClock(clock.Now))

	c.Set("u1", 1, 50, pageWithTexts("v1"))
	clock.Advance(4 * time.Minute)
	c.Set("u1", 1, 50, pageWithTexts("v2"))
	clock.Advance(4 * time.Minute)

	page, ok := c.Get("u1", 1, 50)
	if !ok {
		t.Fatalf("overwrite must reset the entry age")
	}
	if page.Messages[0].Text != "v2" {
		t.Fatalf("got %q, want v2", page.Messages[0].Text)
	}
}

func TestPageCache_CapacityEvictsOldestInserted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewPageCache(WithClock(clock.Now), WithCapacity(3))

	for i := 1; i <= 3; i++ {
		c.Set(fmt.Sprintf("u%d", i), 1, 50, pageWithTexts("x"))
		clock.Advance(time.Second)
	}

	// Reading u1 must not protect it: eviction is insert-order, not LRU.
	if _, ok := c.Get("u1", 1, 50); !ok {
		t.Fatalf("u1 must be present")
	}

	c.Set("u4", 1, 50, pageWithTexts("x"))

	if _, ok := c.Get("u1", 1, 50); ok {
		t.Fatalf("oldest-inserted entry must be evicted")
	}
	for _, u := range []string{"u2", "u3", "u4"} {
		if _, ok := c.Get(u, 1, 50); !ok {
			t.Fatalf("%s must survive the eviction", u)
		}
	}
}

func TestPageCache_OverwriteKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewPageCache(WithClock(clock.Now), WithCapacity(2))

	c.Set("u1", 1, 50, pageWithTexts("a"))
	c.Set("u2", 1, 50, pageWithTexts("b"))

	// Overwriting u1 refreshes its content but not its eviction slot.
	c.Set("u1", 1, 50, pageWithTexts("a2"))

	c.Set("u3", 1, 50, pageWithTexts("c"))

	if _, ok := c.Get("u1", 1, 50); ok {
		t.Fatalf("u1 keeps its original insertion slot and is evicted first")
	}
	if _, ok := c.Get("u2", 1, 50); !ok {
		t.Fatalf("u2 must survive")
	}
}

func TestPageCache_AppendMessagePatchesWithoutResettingAge(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewPageCache(WithClock(clock.Now))

	c.Set("u1", 1, chat.DefaultPageLimit, pageWithTexts("hello"))
	clock.Advance(3 * time.Minute)

	c.AppendMessage("u1", chat.Message{Text: "world"})

	page, ok := c.Get("u1", 1, chat.DefaultPageLimit)
	if !ok {
		t.Fatalf("patched entry must be served")
	}
	if len(page.Messages) != 2 || page.Messages[1].Text != "world" {
		t.Fatalf("message not appended: %+v", page.Messages)
	}
	if page.Meta.TotalMessages != 2 {
		t.Fatalf("totalMessages = %d, want 2", page.Meta.TotalMessages)
	}

	// The patch must not have extended the entry's life.
	clock.Advance(2*time.Minute + time.Second)
	if _, ok := c.Get("u1", 1, chat.DefaultPageLimit); ok {
		t.Fatalf("patched entry must still expire on the original schedule")
	}
}

func TestPageCache_AppendMessageMissingEntryIsNoop(t *testing.T) {
	t.Parallel()

	c := NewPageCache()
	c.AppendMessage("u1", chat.Message{Text: "x"})
	if got := c.Len(); got != 0 {
		t.Fatalf("append to absent entry must not create one, len = %d", got)
	}
}

func TestPageCache_ClearConversation(t *testing.T) {
	t.Parallel()

	c := NewPageCache()
	c.Set("u1", 1, 50, pageWithTexts("a"))
	c.Set("u1", 2, 50, pageWithTexts("b"))
	c.Set("u2", 1, 50, pageWithTexts("c"))

	c.ClearConversation("u1")

	if _, ok := c.Get("u1", 1, 50); ok {
		t.Fatalf("u1 page 1 must be gone")
	}
	if _, ok := c.Get("u1", 2, 50); ok {
		t.Fatalf("u1 page 2 must be gone")
	}
	if _, ok := c.Get("u2", 1, 50); !ok {
		t.Fatalf("u2 must be untouched")
	}
}

func TestPageCache_PreloadNext(t *testing.T) {
	t.Parallel()

	c := NewPageCache()

	fetched := make(chan int64, 1)
	c.PreloadNext(context.Background(), "u1", 1, 50, func(_ context.Context, page int64) (chat.Page, error) {
		fetched <- page
		return pageWithTexts("older"), nil
	})

	select {
	case page := <-fetched:
		if page != 2 {
			t.Fatalf("preload fetched page %d, want 2", page)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("preload fetch never ran")
	}

	// The goroutine stores the result after fetching; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := c.Get("u1", 2, 50); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("preloaded page never cached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPageCache_PreloadNextSkipsExistingAndSwallowsErrors(t *testing.T) {
	t.Parallel()

	c := NewPageCache()
	c.Set("u1", 2, 50, pageWithTexts("already"))

	c.PreloadNext(context.Background(), "u1", 1, 50, func(_ context.Context, _ int64) (chat.Page, error) {
		t.Errorf("fetch must be skipped when the next page is cached")
		return chat.Page{}, nil
	})

	// Failures are logged and swallowed; the cache stays unchanged.
	done := make(chan struct{})
	c.PreloadNext(context.Background(), "u2", 1, 50, func(_ context.Context, _ int64) (chat.Page, error) {
		defer close(done)
		return chat.Page{}, errors.New("network down")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("preload fetch never ran")
	}
	if _, ok := c.Get("u2", 2, 50); ok {
		t.Fatalf("failed preload must not populate the cache")
	}
}
