package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tgchat/internal/models"
)

// ErrStoreUnavailable indicates the backing store could not serve the
// operation (connection, timeout, auth). Callers must not assume partial
// success.
var ErrStoreUnavailable = errors.New("context store unavailable")

const (
	chatContextKeyPrefix  = "chat_context"
	userContextKeyPrefix  = "user_context"
	conversationKeyPrefix = "chat_conversation"
)

// ListStore is the narrow set of list operations the context store needs
// from its backing key-value store. RedisService implements it; tests use
// an in-memory fake.
type ListStore interface {
	PushTrim(ctx context.Context, key, value string, max int64, ttl time.Duration) error
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	Length(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// ContextService maintains the bounded sliding window of recent messages
// for each chat. It is a stateless façade over the backing store: the store
// owns the durable state, and append-and-trim atomicity comes from the
// store's transactional list primitives rather than process-level locks.
type ContextService struct {
	store      ListStore
	windowSize int
	userLimit  int
	ttl        time.Duration
}

// NewContextService creates a context service with the given window bounds
func NewContextService(store ListStore, windowSize, userLimit int, ttl time.Duration) *ContextService {
	return &ContextService{
		store:      store,
		windowSize: windowSize,
		userLimit:  userLimit,
		ttl:        ttl,
	}
}

// WindowSize returns the configured maximum messages per chat
func (s *ContextService) WindowSize() int {
	return s.windowSize
}

func chatContextKey(chatID int64) string {
	return fmt.Sprintf("%s:%d", chatContextKeyPrefix, chatID)
}

func userContextKey(chatID, userID int64) string {
	return fmt.Sprintf("%s:%d:%d", userContextKeyPrefix, chatID, userID)
}

func conversationKey(chatID int64) string {
	return fmt.Sprintf("%s:%d", conversationKeyPrefix, chatID)
}

// Append adds a message to the end of the chat's context, evicting the
// oldest entries when the window bound would be exceeded.
func (s *ContextService) Append(ctx context.Context, chatID int64, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	if err := s.store.PushTrim(ctx, chatContextKey(chatID), string(data), int64(s.windowSize), s.ttl); err != nil {
		return fmt.Errorf("%w: append for chat %d: %v", ErrStoreUnavailable, chatID, err)
	}
	return nil
}

// AppendUser adds a message to the per-user context for a chat, kept at a
// smaller bound than the shared window.
func (s *ContextService) AppendUser(ctx context.Context, chatID, userID int64, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	if err := s.store.PushTrim(ctx, userContextKey(chatID, userID), string(data), int64(s.userLimit), s.ttl); err != nil {
		return fmt.Errorf("%w: user append for chat %d user %d: %v", ErrStoreUnavailable, chatID, userID, err)
	}
	return nil
}

// Read returns the chat's context in chronological order, oldest first.
// A chat with no stored context yields an empty slice.
func (s *ContextService) Read(ctx context.Context, chatID int64) ([]models.ChatMessage, error) {
	return s.readList(ctx, chatContextKey(chatID))
}

// ReadUser returns the per-user context for a chat in chronological order
func (s *ContextService) ReadUser(ctx context.Context, chatID, userID int64) ([]models.ChatMessage, error) {
	return s.readList(ctx, userContextKey(chatID, userID))
}

func (s *ContextService) readList(ctx context.Context, key string) ([]models.ChatMessage, error) {
	entries, err := s.store.Range(ctx, key, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStoreUnavailable, key, err)
	}

	messages := make([]models.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			// A corrupt entry shouldn't poison the whole window
			log.Printf("⚠️ [CONTEXT] Skipping corrupt entry in %s: %v", key, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Size returns the number of messages currently stored for a chat
func (s *ContextService) Size(ctx context.Context, chatID int64) (int64, error) {
	n, err := s.store.Length(ctx, chatContextKey(chatID))
	if err != nil {
		return 0, fmt.Errorf("%w: size for chat %d: %v", ErrStoreUnavailable, chatID, err)
	}
	return n, nil
}

// Clear removes all stored context for a chat and rotates its conversation
// ID. Idempotent: clearing an empty chat succeeds silently.
func (s *ContextService) Clear(ctx context.Context, chatID int64) error {
	if err := s.store.Delete(ctx, chatContextKey(chatID)); err != nil {
		return fmt.Errorf("%w: clear for chat %d: %v", ErrStoreUnavailable, chatID, err)
	}
	// New conversation epoch; best-effort, the context itself is already gone
	if err := s.store.Set(ctx, conversationKey(chatID), uuid.NewString(), s.ttl); err != nil {
		log.Printf("⚠️ [CONTEXT] Failed to rotate conversation ID for chat %d: %v", chatID, err)
	}
	return nil
}

// ConversationID returns the current conversation epoch for a chat,
// creating one on first use.
func (s *ContextService) ConversationID(ctx context.Context, chatID int64) (string, error) {
	key := conversationKey(chatID)
	id, err := s.store.Get(ctx, key)
	if err == nil && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.store.Set(ctx, key, id, s.ttl); err != nil {
		return "", fmt.Errorf("%w: conversation ID for chat %d: %v", ErrStoreUnavailable, chatID, err)
	}
	return id, nil
}
