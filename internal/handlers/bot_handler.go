package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"

	"tgchat/internal/config"
	"tgchat/internal/database"
	"tgchat/internal/logging"
	"tgchat/internal/models"
	"tgchat/internal/services"
)

const (
	processTimeout = 120 * time.Second

	// Seen update IDs are remembered long enough to absorb Telegram
	// webhook retries and poller restarts
	dedupeTTL = 10 * time.Minute
)

// BotHandler dispatches inbound Telegram updates: commands, context
// bookkeeping, trigger evaluation and reply generation.
type BotHandler struct {
	cfg       *config.Config
	telegram  *services.TelegramService
	contexts  *services.ContextService
	assembler *services.PromptAssembler
	trigger   *services.TriggerEvaluator
	ai        *services.AIService
	limiter   *services.ChatRateLimiter
	metrics   *services.Metrics
	usage     *database.DB

	bot           *models.TelegramBotInfo
	webhookSecret string
	seenUpdates   *cache.Cache
}

// NewBotHandler creates the update dispatcher
func NewBotHandler(
	cfg *config.Config,
	telegram *services.TelegramService,
	contexts *services.ContextService,
	assembler *services.PromptAssembler,
	trigger *services.TriggerEvaluator,
	ai *services.AIService,
	metrics *services.Metrics,
	usage *database.DB,
	bot *models.TelegramBotInfo,
) *BotHandler {
	return &BotHandler{
		cfg:           cfg,
		telegram:      telegram,
		contexts:      contexts,
		assembler:     assembler,
		trigger:       trigger,
		ai:            ai,
		limiter:       services.NewChatRateLimiter(cfg.RateLimitPerMinute),
		metrics:       metrics,
		usage:         usage,
		bot:           bot,
		webhookSecret: generateWebhookSecret(),
		seenUpdates:   cache.New(dedupeTTL, dedupeTTL),
	}
}

// generateWebhookSecret generates a secure random webhook secret
func generateWebhookSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WebhookURL returns the full webhook URL for registration with Telegram
func (h *BotHandler) WebhookURL() string {
	return fmt.Sprintf("%s/api/telegram/webhook/%s", h.cfg.WebhookBaseURL, h.webhookSecret)
}

// RegisterRoutes wires the webhook endpoint into the Fiber app
func (h *BotHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/telegram/webhook/:secret", h.TelegramWebhook)
}

// TelegramWebhook receives webhook updates, acknowledges immediately and
// processes asynchronously so Telegram never retries on slow generations.
func (h *BotHandler) TelegramWebhook(c *fiber.Ctx) error {
	if c.Params("secret") != h.webhookSecret {
		log.Printf("⚠️ [WEBHOOK] Invalid webhook secret")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Invalid webhook"})
	}

	var update models.TelegramUpdate
	if err := c.BodyParser(&update); err != nil {
		log.Printf("⚠️ [WEBHOOK] Failed to parse update: %v", err)
		return c.SendStatus(fiber.StatusOK) // 200 so Telegram doesn't retry garbage
	}

	if update.Message == nil || update.Message.Text == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	go h.ProcessUpdate(&update)

	return c.SendStatus(fiber.StatusOK)
}

// ProcessUpdate handles a single inbound update end to end. Safe to call
// from both the webhook route and the long poller.
func (h *BotHandler) ProcessUpdate(update *models.TelegramUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}

	// Webhook retries and poller restarts can redeliver an update
	dedupeKey := fmt.Sprintf("%d", update.UpdateID)
	if _, seen := h.seenUpdates.Get(dedupeKey); seen {
		return
	}
	h.seenUpdates.Set(dedupeKey, struct{}{}, cache.DefaultExpiration)

	chatID := msg.Chat.ID
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	logging.WithChat(chatID, userID, update.UpdateID).Debug("processing update")
	h.metrics.MessagesReceived.Inc()
	log.Printf("📨 [BOT] Received message from user %d (@%s) in chat %d: %s",
		userID, msg.From.Username, chatID, truncateText(text, 50))

	if !h.isUserAllowed(userID, msg.From.Username) {
		log.Printf("🚫 [BOT] User %d (@%s) not in allowlist", userID, msg.From.Username)
		h.telegram.SendMessage(ctx, chatID,
			"⛔ You are not authorized to use this bot. Please contact the bot owner for access.")
		return
	}

	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, chatID, text)
		return
	}

	// Messages without usable text are rejected at the boundary, never persisted
	if text == "" {
		return
	}

	if !h.limiter.Allow(chatID) {
		log.Printf("⏳ [BOT] Rate limit exceeded for chat %d", chatID)
		h.telegram.SendMessage(ctx, chatID,
			fmt.Sprintf("⏳ You're sending messages too quickly. Please wait a moment (max %d messages per minute).",
				h.cfg.RateLimitPerMinute))
		return
	}

	chatMsg := models.ChatMessage{
		UserID:    userID,
		Username:  msg.From.Username,
		Text:      text,
		Timestamp: messageTime(msg),
		MessageID: msg.MessageID,
	}

	// The inbound message always lands in context, reply or not
	if err := h.contexts.Append(ctx, chatID, chatMsg); err != nil {
		log.Printf("❌ [BOT] Failed to append to context: %v", err)
		h.notifyError(ctx, chatID, err)
		return
	}
	if err := h.contexts.AppendUser(ctx, chatID, userID, chatMsg); err != nil {
		// Shared context is already saved; the per-user copy is best-effort
		log.Printf("⚠️ [BOT] Failed to append to user context: %v", err)
	}
	if err := h.usage.RecordMessage(ctx, chatID); err != nil {
		log.Printf("⚠️ [BOT] Failed to record message usage: %v", err)
	}

	respond, rule := h.trigger.Evaluate(msg)
	h.metrics.TriggerHits.WithLabelValues(rule).Inc()
	if !respond {
		return
	}

	h.respond(ctx, chatID, userID)
}

// respond builds the prompt from stored context, calls the model and sends
// the reply back to the chat.
func (h *BotHandler) respond(ctx context.Context, chatID, userID int64) {
	started := time.Now()

	// Typing indicator runs until the reply is ready
	typingCtx, cancelTyping := context.WithCancel(ctx)
	defer cancelTyping()
	go h.telegram.SendContinuousTypingAction(typingCtx, chatID)

	history, err := h.contexts.Read(ctx, chatID)
	if err != nil {
		log.Printf("❌ [BOT] Failed to read context: %v", err)
		h.notifyError(ctx, chatID, err)
		return
	}
	h.metrics.ContextSize.Observe(float64(len(history)))

	userHistory, err := h.contexts.ReadUser(ctx, chatID, userID)
	if err != nil {
		// Reply can still be generated from the shared window alone
		log.Printf("⚠️ [BOT] Failed to read user context: %v", err)
		userHistory = nil
	}

	prompt, err := h.assembler.Build(history, userHistory)
	if err != nil {
		h.metrics.ChatErrors.WithLabelValues("malformed").Inc()
		log.Printf("❌ [BOT] Failed to build prompt: %v", err)
		return
	}

	result, err := h.ai.Generate(ctx, prompt)
	cancelTyping()
	if err != nil {
		log.Printf("❌ [BOT] AI error: %v", err)
		h.notifyError(ctx, chatID, err)
		return
	}

	botMsg := models.ChatMessage{
		UserID:    h.bot.ID,
		Username:  h.bot.Username,
		Text:      result.Content,
		Timestamp: time.Now(),
		FromBot:   true,
	}
	if err := h.contexts.Append(ctx, chatID, botMsg); err != nil {
		log.Printf("⚠️ [BOT] Failed to append reply to context: %v", err)
	}
	if err := h.contexts.AppendUser(ctx, chatID, userID, botMsg); err != nil {
		log.Printf("⚠️ [BOT] Failed to append reply to user context: %v", err)
	}

	if err := h.telegram.SendMessageChunked(ctx, chatID, result.Content); err != nil {
		h.metrics.ChatErrors.WithLabelValues("telegram").Inc()
		log.Printf("❌ [BOT] Failed to send response: %v", err)
		return
	}

	h.metrics.RepliesSent.Inc()
	h.metrics.ReplyLatency.Observe(time.Since(started).Seconds())

	if err := h.usage.RecordReply(ctx, chatID, result.TokensUsed); err != nil {
		log.Printf("⚠️ [BOT] Failed to record reply usage: %v", err)
	}

	log.Printf("✅ [BOT] Responded to user %d in chat %d with %d tokens",
		userID, chatID, result.TokensUsed)
}

// notifyError records the error metric and tells the chat what went wrong
func (h *BotHandler) notifyError(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, services.ErrStoreUnavailable):
		h.metrics.ChatErrors.WithLabelValues("store").Inc()
		h.telegram.SendMessage(ctx, chatID,
			"⚠️ Chat context is temporarily unavailable. Please try again in a moment.")
	case errors.Is(err, services.ErrResponseUnavailable):
		h.metrics.ChatErrors.WithLabelValues("response").Inc()
		h.telegram.SendMessage(ctx, chatID,
			"Sorry, I encountered an error while generating a response. Please try again.")
	default:
		h.metrics.ChatErrors.WithLabelValues("internal").Inc()
		h.telegram.SendMessage(ctx, chatID, "Sorry, something went wrong. Please try again.")
	}
}

// handleCommand handles bot commands
func (h *BotHandler) handleCommand(ctx context.Context, chatID int64, text string) {
	parts := strings.Fields(text)
	command := strings.ToLower(parts[0])

	// Commands may arrive as /cmd@botname in groups
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	switch command {
	case "/start":
		h.handleStartCommand(ctx, chatID)

	case "/clear":
		if err := h.contexts.Clear(ctx, chatID); err != nil {
			log.Printf("❌ [BOT] Failed to clear context: %v", err)
			h.notifyError(ctx, chatID, err)
			return
		}
		h.telegram.SendMessage(ctx, chatID, "🧹 Chat context cleared! Starting with a clean slate.")

	case "/status":
		h.handleStatusCommand(ctx, chatID)

	case "/help":
		h.telegram.SendMessage(ctx, chatID, "Available commands:\n"+
			"/start - Welcome message\n"+
			"/clear - Clear the chat context\n"+
			"/status - Show context status\n"+
			"/help - Show this help message\n\n"+
			"Mention me or use a trigger word and I'll reply!")

	default:
		h.telegram.SendMessage(ctx, chatID, "❓ Unknown command. Type /help for available commands.")
	}
}

func (h *BotHandler) handleStartCommand(ctx context.Context, chatID int64) {
	triggerWords := "none configured"
	if len(h.cfg.TriggerWords) > 0 {
		triggerWords = strings.Join(h.cfg.TriggerWords, ", ")
	}

	welcome := fmt.Sprintf("Hi! I'm a chat bot with conversation context.\n\n"+
		"I can:\n"+
		"• Reply when mentioned (@%s)\n"+
		"• Keep track of the conversation in this chat\n"+
		"• React to trigger words: %s\n\n"+
		"Current settings:\n"+
		"• Context window: %d messages\n"+
		"• Model: %s (%s)\n\n"+
		"Just mention me or use a trigger word!",
		h.bot.Username, triggerWords,
		h.cfg.ContextWindowSize, h.ai.Model(), h.ai.Provider())

	h.telegram.SendMessage(ctx, chatID, welcome)
}

func (h *BotHandler) handleStatusCommand(ctx context.Context, chatID int64) {
	size, err := h.contexts.Size(ctx, chatID)
	if err != nil {
		log.Printf("❌ [BOT] Failed to get context size: %v", err)
		h.notifyError(ctx, chatID, err)
		return
	}

	usage, err := h.usage.GetUsage(ctx, chatID)
	if err != nil {
		log.Printf("⚠️ [BOT] Failed to get usage: %v", err)
		usage = &models.ChatUsage{ChatID: chatID}
	}

	conversationID, err := h.contexts.ConversationID(ctx, chatID)
	if err != nil {
		log.Printf("⚠️ [BOT] Failed to get conversation ID: %v", err)
		conversationID = "unknown"
	}

	status := fmt.Sprintf("📊 Chat context status:\n\n"+
		"• Conversation: %s\n"+
		"• Messages in context: %d / %d\n"+
		"• Messages seen: %d\n"+
		"• Replies sent: %d\n"+
		"• Tokens used: %d\n"+
		"• Model: %s (%s)\n"+
		"• Base prompt: %s\n\n"+
		"Commands:\n"+
		"/clear - Clear the context\n"+
		"/help - Show all commands",
		truncateText(conversationID, 8),
		size, h.cfg.ContextWindowSize,
		usage.MessagesSeen, usage.RepliesSent, usage.TokensUsed,
		h.ai.Model(), h.ai.Provider(),
		truncateText(h.cfg.BasePrompt, 100))

	h.telegram.SendMessage(ctx, chatID, status)
}

// isUserAllowed checks the configured allowlist. An empty allowlist means
// anyone may talk to the bot.
func (h *BotHandler) isUserAllowed(userID int64, username string) bool {
	if len(h.cfg.AllowedUsers) == 0 {
		return true
	}

	id := fmt.Sprintf("%d", userID)
	username = strings.TrimPrefix(strings.ToLower(username), "@")

	for _, allowed := range h.cfg.AllowedUsers {
		allowed = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(allowed)), "@")
		if allowed == id || (username != "" && allowed == username) {
			return true
		}
	}
	return false
}

func messageTime(msg *models.TelegramMessage) time.Time {
	if msg.Date > 0 {
		return time.Unix(msg.Date, 0)
	}
	return time.Now()
}

// truncateText shortens s to max runes. Rune-based so multi-byte text
// (Cyrillic prompts, emoji) is never cut mid-character.
func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
