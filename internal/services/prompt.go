package services

import (
	"errors"
	"fmt"
	"strings"

	"tgchat/internal/models"
)

// ErrMalformedMessage indicates a message that cannot be normalized into
// role/text form. Such messages are rejected at the boundary, not persisted.
var ErrMalformedMessage = errors.New("malformed message")

// promptDirective is always appended to the base prompt so the model never
// signs its replies with its own username.
const promptDirective = "\n\nIMPORTANT: When responding, do NOT include your username in your response. " +
	"Simply provide a natural response without identifying yourself by name."

// PromptAssembler converts a chat's context into the ordered role-tagged
// message sequence expected by the chat-completions API. Pure transform:
// truncation already happened in the context store.
type PromptAssembler struct {
	basePrompt  string
	botUsername string
}

// NewPromptAssembler creates a prompt assembler with the process-wide base
// prompt and the bot's username (used to tag its own messages as assistant)
func NewPromptAssembler(basePrompt, botUsername string) *PromptAssembler {
	return &PromptAssembler{
		basePrompt:  basePrompt,
		botUsername: strings.TrimPrefix(botUsername, "@"),
	}
}

// Build assembles the request messages: one system entry first, then the
// context in chronological order. Messages sent by the bot map to the
// assistant role; everything else becomes a user entry prefixed with the
// sender's username so the model can follow multi-party conversations.
func (a *PromptAssembler) Build(history, userHistory []models.ChatMessage) ([]models.PromptMessage, error) {
	system := a.basePrompt + promptDirective

	if len(userHistory) > 0 {
		var sb strings.Builder
		for _, msg := range userHistory {
			sb.WriteString(fmt.Sprintf("%s: %s\n", senderName(msg), msg.Text))
		}
		system += "\n\nRelevant user history:\n" + sb.String()
	}

	messages := make([]models.PromptMessage, 0, len(history)+1)
	messages = append(messages, models.PromptMessage{
		Role:    models.RoleSystem,
		Content: system,
	})

	for i, msg := range history {
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("%w: empty text at position %d", ErrMalformedMessage, i)
		}

		if a.isBotMessage(msg) {
			messages = append(messages, models.PromptMessage{
				Role:    models.RoleAssistant,
				Content: msg.Text,
			})
			continue
		}

		messages = append(messages, models.PromptMessage{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("%s: %s", senderName(msg), msg.Text),
		})
	}

	return messages, nil
}

func (a *PromptAssembler) isBotMessage(msg models.ChatMessage) bool {
	if msg.FromBot {
		return true
	}
	return a.botUsername != "" && msg.Username != "" &&
		strings.EqualFold(msg.Username, a.botUsername)
}

func senderName(msg models.ChatMessage) string {
	if msg.Username != "" {
		return msg.Username
	}
	return fmt.Sprintf("user_%d", msg.UserID)
}
