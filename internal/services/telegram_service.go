package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/leonid-shevtsov/telegold"
	"github.com/yuin/goldmark"

	"tgchat/internal/models"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService talks to the Telegram Bot API for a single bot
type TelegramService struct {
	botToken      string
	apiBase       string
	httpClient    *http.Client
	pollingClient *http.Client // longer timeout for long polling

	lastOffset int64
	stopChan   chan struct{}
}

// NewTelegramService creates a Telegram service for the given bot token
func NewTelegramService(botToken string) *TelegramService {
	return &TelegramService{
		botToken: botToken,
		apiBase:  telegramAPIBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollingClient: &http.Client{
			Timeout: 35 * time.Second, // long polling timeout
		},
		stopChan: make(chan struct{}),
	}
}

func (s *TelegramService) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", s.apiBase, s.botToken, method)
}

// GetMe retrieves the bot's own identity from Telegram
func (s *TelegramService) GetMe(ctx context.Context) (*models.TelegramBotInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.methodURL("getMe"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool                   `json:"ok"`
		Description string                 `json:"description"`
		Result      models.TelegramBotInfo `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode getMe response: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("Telegram API error: %s", result.Description)
	}

	return &result.Result, nil
}

// Telegram Markdown converter using telegold (goldmark with Telegram HTML renderer)
var telegramMarkdownConverter = goldmark.New(goldmark.WithRenderer(telegold.NewRenderer()))

// convertToTelegramHTML converts standard Markdown to Telegram-compatible HTML
func convertToTelegramHTML(text string) string {
	var buf bytes.Buffer
	if err := telegramMarkdownConverter.Convert([]byte(text), &buf); err != nil {
		log.Printf("⚠️ [TELEGRAM] Markdown conversion failed: %v", err)
		return text
	}
	return buf.String()
}

// SendMessage sends a message via the Bot API. Uses HTML format (more
// reliable than MarkdownV2), falls back to plain text if parsing fails.
func (s *TelegramService) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       convertToTelegramHTML(text),
		"parse_mode": "HTML",
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.methodURL("sendMessage"), bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		return nil
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	errStr := string(bodyBytes)

	if strings.Contains(errStr, "can't parse entities") {
		// Retry with plain text
		log.Printf("⚠️ [TELEGRAM] HTML parsing failed, retrying without parse_mode")

		payload = map[string]interface{}{
			"chat_id": chatID,
			"text":    stripMarkdown(text),
		}
		body, _ = json.Marshal(payload)

		req, _ = http.NewRequestWithContext(ctx, "POST", s.methodURL("sendMessage"), bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp2, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send Telegram message (plain): %w", err)
		}
		defer resp2.Body.Close()

		if resp2.StatusCode != 200 {
			bodyBytes2, _ := io.ReadAll(resp2.Body)
			return fmt.Errorf("Telegram API error (plain): %s", string(bodyBytes2))
		}
		return nil
	}

	return fmt.Errorf("Telegram API error: %s", errStr)
}

// stripMarkdown removes Markdown formatting for plain text fallback
func stripMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	// Remove code blocks - keep content
	codeBlockPattern := regexp.MustCompile("```[a-zA-Z]*\\n([\\s\\S]*?)```")
	text = codeBlockPattern.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "`", "")
	text = strings.ReplaceAll(text, "~~", "")
	// Convert headers to plain text
	headerPattern := regexp.MustCompile(`(?m)^#{1,6}\s+`)
	text = headerPattern.ReplaceAllString(text, "")
	// Convert links [text](url) to "text (url)"
	linkPattern := regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	text = linkPattern.ReplaceAllString(text, "$1 ($2)")
	return text
}

// SendMessageChunked sends a long message by splitting it into chunks.
// Telegram has a 4096 character limit per message.
func (s *TelegramService) SendMessageChunked(ctx context.Context, chatID int64, text string) error {
	const maxChunkSize = 4000 // margin under the 4096 limit

	if len(text) <= maxChunkSize {
		return s.SendMessage(ctx, chatID, text)
	}

	chunks := splitMessageIntoChunks(text, maxChunkSize)
	totalChunks := len(chunks)

	log.Printf("📨 [TELEGRAM] Splitting message (%d chars) into %d chunks", len(text), totalChunks)

	for i, chunk := range chunks {
		if totalChunks > 1 {
			chunk = fmt.Sprintf("**[Part %d/%d]**\n\n%s", i+1, totalChunks, chunk)
		}

		if err := s.SendMessage(ctx, chatID, chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, totalChunks, err)
		}

		// Small delay between chunks to avoid rate limiting
		if i < totalChunks-1 {
			time.Sleep(300 * time.Millisecond)
		}
	}

	return nil
}

// splitMessageIntoChunks splits a message into chunks respecting boundaries
func splitMessageIntoChunks(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}

		chunk := remaining[:maxSize]
		breakPoint := maxSize

		// Prefer code block, paragraph, line, sentence, then word boundaries
		if idx := strings.LastIndex(chunk, "\n```"); idx > maxSize/2 {
			breakPoint = idx + 1
		} else if idx := strings.LastIndex(chunk, "```\n"); idx > maxSize/2 {
			breakPoint = idx + 4
		} else if idx := strings.LastIndex(chunk, "\n\n"); idx > maxSize/2 {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(chunk, "\n"); idx > maxSize/2 {
			breakPoint = idx + 1
		} else if idx := strings.LastIndex(chunk, ". "); idx > maxSize/2 {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(chunk, " "); idx > maxSize/2 {
			breakPoint = idx + 1
		}

		chunks = append(chunks, strings.TrimSpace(remaining[:breakPoint]))
		remaining = strings.TrimSpace(remaining[breakPoint:])
	}

	return chunks
}

// SendTypingAction sends a "typing" action to indicate the bot is working
func (s *TelegramService) SendTypingAction(ctx context.Context, chatID int64) error {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"action":  "typing",
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.methodURL("sendChatAction"), bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// SendContinuousTypingAction sends the typing indicator every 4 seconds
// until the context is cancelled. Telegram's indicator only lasts ~5s.
func (s *TelegramService) SendContinuousTypingAction(ctx context.Context, chatID int64) {
	s.SendTypingAction(ctx, chatID)

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SendTypingAction(ctx, chatID); err != nil {
				log.Printf("⚠️ [TELEGRAM] Failed to send typing action: %v", err)
				return
			}
		}
	}
}

// SetWebhook registers the webhook URL with Telegram
func (s *TelegramService) SetWebhook(ctx context.Context, webhookURL string) error {
	payload := map[string]interface{}{
		"url":             webhookURL,
		"allowed_updates": []string{"message"},
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.methodURL("setWebhook"), bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	json.NewDecoder(resp.Body).Decode(&result)

	if !result.OK {
		return fmt.Errorf("failed to set webhook: %s", result.Description)
	}

	log.Printf("📡 [TELEGRAM] Webhook registered: %s", webhookURL)
	return nil
}

// DeleteWebhook removes the webhook from Telegram
func (s *TelegramService) DeleteWebhook(ctx context.Context) error {
	req, _ := http.NewRequestWithContext(ctx, "POST", s.methodURL("deleteWebhook"), nil)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	json.NewDecoder(resp.Body).Decode(&result)

	if !result.OK {
		return fmt.Errorf("failed to delete webhook: %s", result.Description)
	}

	log.Printf("📡 [TELEGRAM] Webhook deleted")
	return nil
}

// StartPolling runs the long polling loop, dispatching each update to the
// handler. Blocks until StopPolling is called or the context is cancelled.
func (s *TelegramService) StartPolling(ctx context.Context, handler func(*models.TelegramUpdate)) {
	// Webhooks and polling are mutually exclusive on the Bot API
	if err := s.DeleteWebhook(ctx); err != nil {
		log.Printf("⚠️ [POLLING] Failed to delete webhook before polling: %v", err)
	}

	log.Println("📡 [POLLING] Polling loop started")

	for {
		select {
		case <-ctx.Done():
			log.Println("📡 [POLLING] Polling stopped (context cancelled)")
			return
		case <-s.stopChan:
			log.Println("📡 [POLLING] Polling stopped")
			return
		default:
			updates, err := s.getUpdates(ctx, s.lastOffset)
			if err != nil {
				if ctx.Err() != nil {
					log.Println("📡 [POLLING] Polling stopped (context cancelled)")
					return
				}
				log.Printf("⚠️ [POLLING] Error getting updates: %v", err)
				time.Sleep(5 * time.Second)
				continue
			}

			for _, update := range updates {
				if update.UpdateID >= s.lastOffset {
					s.lastOffset = update.UpdateID + 1
				}
				if update.Message != nil {
					handler(update)
				}
			}
		}
	}
}

// StopPolling signals the polling loop to exit
func (s *TelegramService) StopPolling() {
	close(s.stopChan)
}

// getUpdates fetches updates using long polling. Carries the polling
// context so shutdown aborts an in-flight long poll instead of waiting
// out the 30s timeout.
func (s *TelegramService) getUpdates(ctx context.Context, offset int64) ([]*models.TelegramUpdate, error) {
	url := s.methodURL("getUpdates") + `?timeout=30&allowed_updates=["message"]`
	if offset > 0 {
		url += fmt.Sprintf("&offset=%d", offset)
	}

	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)

	resp, err := s.pollingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool                     `json:"ok"`
		Result []*models.TelegramUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("Telegram API returned not OK")
	}

	return result.Result, nil
}
