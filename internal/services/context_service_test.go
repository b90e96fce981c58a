package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tgchat/internal/models"
)

// fakeListStore is an in-memory ListStore for testing the context service
// without a running Redis.
type fakeListStore struct {
	mu     sync.Mutex
	lists  map[string][]string
	values map[string]string
	err    error // when set, every operation fails with it
}

func newFakeListStore() *fakeListStore {
	return &fakeListStore{
		lists:  make(map[string][]string),
		values: make(map[string]string),
	}
}

func (f *fakeListStore) PushTrim(_ context.Context, key, value string, max int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	list := append(f.lists[key], value)
	if int64(len(list)) > max {
		list = list[int64(len(list))-max:]
	}
	f.lists[key] = list
	return nil
}

func (f *fakeListStore) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	list := f.lists[key]
	if start == 0 && stop == -1 {
		return append([]string(nil), list...), nil
	}
	return nil, fmt.Errorf("unsupported range %d..%d", start, stop)
}

func (f *fakeListStore) Length(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.lists[key])), nil
}

func (f *fakeListStore) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, key := range keys {
		delete(f.lists, key)
	}
	return nil
}

func (f *fakeListStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeListStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[key]
	if !ok {
		return "", errors.New("key not found")
	}
	return v, nil
}

func userMsg(userID int64, text string) models.ChatMessage {
	return models.ChatMessage{
		UserID:    userID,
		Username:  fmt.Sprintf("user%d", userID),
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestContextAppendAndRead(t *testing.T) {
	ctx := context.Background()
	svc := NewContextService(newFakeListStore(), 50, 20, time.Hour)

	texts := []string{"first", "second", "third"}
	for _, text := range texts {
		if err := svc.Append(ctx, 100, userMsg(1, text)); err != nil {
			t.Fatalf("Append(%q) failed: %v", text, err)
		}
	}

	got, err := svc.Read(ctx, 100)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("Read returned %d messages, want %d", len(got), len(texts))
	}
	for i, text := range texts {
		if got[i].Text != text {
			t.Errorf("message %d = %q, want %q (chronological order)", i, got[i].Text, text)
		}
	}
}

func TestContextWindowEviction(t *testing.T) {
	ctx := context.Background()
	const window = 5
	svc := NewContextService(newFakeListStore(), window, 20, time.Hour)

	// Append past the window bound
	for i := 0; i < window+5; i++ {
		if err := svc.Append(ctx, 200, userMsg(1, fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := svc.Read(ctx, 200)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != window {
		t.Fatalf("window holds %d messages, want %d", len(got), window)
	}
	// Oldest evicted first: window keeps msg-5..msg-9
	for i, msg := range got {
		want := fmt.Sprintf("msg-%d", i+5)
		if msg.Text != want {
			t.Errorf("message %d = %q, want %q", i, msg.Text, want)
		}
	}

	size, err := svc.Size(ctx, 200)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != window {
		t.Errorf("Size = %d, want %d", size, window)
	}
}

func TestContextChatIsolation(t *testing.T) {
	ctx := context.Background()
	svc := NewContextService(newFakeListStore(), 50, 20, time.Hour)

	if err := svc.Append(ctx, 1, userMsg(1, "chat one")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := svc.Append(ctx, 2, userMsg(2, "chat two")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got1, err := svc.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read chat 1 failed: %v", err)
	}
	got2, err := svc.Read(ctx, 2)
	if err != nil {
		t.Fatalf("Read chat 2 failed: %v", err)
	}

	if len(got1) != 1 || got1[0].Text != "chat one" {
		t.Errorf("chat 1 context = %v, want single %q", got1, "chat one")
	}
	if len(got2) != 1 || got2[0].Text != "chat two" {
		t.Errorf("chat 2 context = %v, want single %q", got2, "chat two")
	}
}

func TestContextConcurrentChatAppends(t *testing.T) {
	ctx := context.Background()
	const perChat = 50
	svc := NewContextService(newFakeListStore(), perChat*2, 20, time.Hour)

	chatIDs := []int64{10, 20}
	var wg sync.WaitGroup
	for _, chatID := range chatIDs {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			for i := 0; i < perChat; i++ {
				msg := userMsg(chatID, fmt.Sprintf("chat%d-%d", chatID, i))
				if err := svc.Append(ctx, chatID, msg); err != nil {
					t.Errorf("Append to chat %d failed: %v", chatID, err)
					return
				}
			}
		}(chatID)
	}
	wg.Wait()

	for _, chatID := range chatIDs {
		got, err := svc.Read(ctx, chatID)
		if err != nil {
			t.Fatalf("Read chat %d failed: %v", chatID, err)
		}
		if len(got) != perChat {
			t.Errorf("chat %d holds %d messages, want %d", chatID, len(got), perChat)
		}
		prefix := fmt.Sprintf("chat%d-", chatID)
		for i, msg := range got {
			if !strings.HasPrefix(msg.Text, prefix) {
				t.Fatalf("chat %d message %d = %q, leaked from another chat", chatID, i, msg.Text)
			}
		}
	}
}

func TestContextUnicodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewContextService(newFakeListStore(), 50, 20, time.Hour)

	text := "Привет, Вика! Как дела? 🎉"
	if err := svc.Append(ctx, 300, userMsg(7, text)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := svc.Read(ctx, 300)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != text {
		t.Errorf("round trip = %q, want %q", got[0].Text, text)
	}
}

func TestContextReadEmpty(t *testing.T) {
	ctx := context.Background()
	svc := NewContextService(newFakeListStore(), 50, 20, time.Hour)

	got, err := svc.Read(ctx, 999)
	if err != nil {
		t.Fatalf("Read of unseen chat failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Read of unseen chat = %d messages, want 0", len(got))
	}
}

func TestContextClear(t *testing.T) {
	ctx := context.Background()
	store := newFakeListStore()
	svc := NewContextService(store, 50, 20, time.Hour)

	if err := svc.Append(ctx, 400, userMsg(1, "hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := svc.Clear(ctx, 400); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	got, err := svc.Read(ctx, 400)
	if err != nil {
		t.Fatalf("Read after Clear failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("context after Clear = %d messages, want 0", len(got))
	}

	// Clearing an already-empty chat must also succeed
	if err := svc.Clear(ctx, 400); err != nil {
		t.Errorf("Clear of empty chat failed: %v", err)
	}
}

func TestContextClearRotatesConversationID(t *testing.T) {
	ctx := context.Background()
	svc := NewContextService(newFakeListStore(), 50, 20, time.Hour)

	first, err := svc.ConversationID(ctx, 500)
	if err != nil {
		t.Fatalf("ConversationID failed: %v", err)
	}
	if first == "" {
		t.Fatal("ConversationID returned empty ID")
	}

	// Stable until cleared
	again, err := svc.ConversationID(ctx, 500)
	if err != nil {
		t.Fatalf("ConversationID failed: %v", err)
	}
	if again != first {
		t.Errorf("ConversationID changed without Clear: %q -> %q", first, again)
	}

	if err := svc.Clear(ctx, 500); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	rotated, err := svc.ConversationID(ctx, 500)
	if err != nil {
		t.Fatalf("ConversationID after Clear failed: %v", err)
	}
	if rotated == first {
		t.Errorf("ConversationID not rotated by Clear: still %q", rotated)
	}
}

func TestContextCorruptEntrySkipped(t *testing.T) {
	ctx := context.Background()
	store := newFakeListStore()
	svc := NewContextService(store, 50, 20, time.Hour)

	if err := svc.Append(ctx, 600, userMsg(1, "good")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	store.mu.Lock()
	key := chatContextKey(600)
	store.lists[key] = append(store.lists[key], "{not json")
	store.mu.Unlock()
	if err := svc.Append(ctx, 600, userMsg(1, "also good")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := svc.Read(ctx, 600)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read returned %d messages, want 2 (corrupt entry skipped)", len(got))
	}
	if got[0].Text != "good" || got[1].Text != "also good" {
		t.Errorf("messages = %q, %q; want %q, %q", got[0].Text, got[1].Text, "good", "also good")
	}
}

func TestContextStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newFakeListStore()
	store.err = errors.New("connection refused")
	svc := NewContextService(store, 50, 20, time.Hour)

	if err := svc.Append(ctx, 700, userMsg(1, "hello")); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Append error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := svc.Read(ctx, 700); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Read error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := svc.Size(ctx, 700); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Size error = %v, want ErrStoreUnavailable", err)
	}
	if err := svc.Clear(ctx, 700); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Clear error = %v, want ErrStoreUnavailable", err)
	}
}

func TestUserContextLimit(t *testing.T) {
	ctx := context.Background()
	const limit = 3
	svc := NewContextService(newFakeListStore(), 50, limit, time.Hour)

	for i := 0; i < limit+2; i++ {
		if err := svc.AppendUser(ctx, 800, 42, userMsg(42, fmt.Sprintf("u-%d", i))); err != nil {
			t.Fatalf("AppendUser failed: %v", err)
		}
	}

	got, err := svc.ReadUser(ctx, 800, 42)
	if err != nil {
		t.Fatalf("ReadUser failed: %v", err)
	}
	if len(got) != limit {
		t.Fatalf("user context holds %d messages, want %d", len(got), limit)
	}
	if got[0].Text != "u-2" || got[limit-1].Text != "u-4" {
		t.Errorf("user context window = %q..%q, want u-2..u-4", got[0].Text, got[limit-1].Text)
	}
}
