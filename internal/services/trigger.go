package services

import (
	"strings"
	"unicode"

	"tgchat/internal/models"
)

// TriggerEvaluator decides whether the bot must respond to a message.
// Pure: no side effects, no I/O, deterministic given its inputs. Built once
// at startup from read-only configuration.
type TriggerEvaluator struct {
	botUsername string // normalized without the leading @
	botID       int64  // resolved via getMe, used for reply detection
	words       []string
	wholeWords  bool
}

// NewTriggerEvaluator creates a trigger evaluator. Trigger words are matched
// case-insensitively; wholeWords switches substring matching to
// word-boundary matching (so "bot" stops firing inside "robot").
func NewTriggerEvaluator(botUsername string, botID int64, triggerWords []string, wholeWords bool) *TriggerEvaluator {
	words := make([]string, 0, len(triggerWords))
	for _, w := range triggerWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	return &TriggerEvaluator{
		botUsername: strings.TrimPrefix(botUsername, "@"),
		botID:       botID,
		words:       words,
		wholeWords:  wholeWords,
	}
}

// Trigger rules reported by Evaluate
const (
	RuleReply   = "reply"
	RuleMention = "mention"
	RuleKeyword = "keyword"
	RuleNone    = "none"
)

// ShouldRespond reports whether the bot must reply to the message: an
// explicit @mention, a configured trigger word, or a direct reply to one of
// the bot's own messages.
func (t *TriggerEvaluator) ShouldRespond(msg *models.TelegramMessage) bool {
	respond, _ := t.Evaluate(msg)
	return respond
}

// Evaluate applies the trigger rules and reports which one fired
func (t *TriggerEvaluator) Evaluate(msg *models.TelegramMessage) (bool, string) {
	if msg == nil {
		return false, RuleNone
	}
	if t.isReplyToBot(msg) {
		return true, RuleReply
	}
	return t.evaluateText(msg.Text)
}

// MatchesText applies the mention and trigger-word rules to raw text
func (t *TriggerEvaluator) MatchesText(text string) bool {
	respond, _ := t.evaluateText(text)
	return respond
}

func (t *TriggerEvaluator) evaluateText(text string) (bool, string) {
	if text == "" {
		return false, RuleNone
	}

	// Mention: the @handle form, matched case-sensitively
	if t.botUsername != "" && strings.Contains(text, "@"+t.botUsername) {
		return true, RuleMention
	}

	lower := strings.ToLower(text)
	for _, word := range t.words {
		if t.wholeWords {
			if containsWord(lower, word) {
				return true, RuleKeyword
			}
		} else if strings.Contains(lower, word) {
			return true, RuleKeyword
		}
	}
	return false, RuleNone
}

func (t *TriggerEvaluator) isReplyToBot(msg *models.TelegramMessage) bool {
	reply := msg.ReplyToMessage
	if reply == nil || reply.From == nil {
		return false
	}
	if t.botID != 0 && reply.From.ID == t.botID {
		return true
	}
	return reply.From.IsBot && t.botUsername != "" &&
		strings.EqualFold(reply.From.Username, t.botUsername)
}

// containsWord reports whether word occurs in text delimited by non-letter,
// non-digit runes. Works on runes so non-ASCII trigger words behave.
func containsWord(text, word string) bool {
	runes := []rune(text)
	wordRunes := []rune(word)
	if len(wordRunes) == 0 {
		return false
	}

	for i := 0; i+len(wordRunes) <= len(runes); i++ {
		if !runesEqual(runes[i:i+len(wordRunes)], wordRunes) {
			continue
		}
		beforeOK := i == 0 || !isWordRune(runes[i-1])
		afterOK := i+len(wordRunes) == len(runes) || !isWordRune(runes[i+len(wordRunes)])
		if beforeOK && afterOK {
			return true
		}
	}
	return false
}

func runesEqual(a, b []rune) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
