package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength matches the messaging network's per-message limit.
const MaxMessageLength = 4096

// ValidateMessageText validates operator message text.
func ValidateMessageText(text string) error {
	if len(text) == 0 {
		return errors.New("text cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateBotID validates a bot ID: 1-64 letters, digits, '-' or '_'.
func ValidateBotID(id string) error {
	if len(id) == 0 {
		return errors.New("bot ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("bot ID exceeds maximum length")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errors.New("bot ID may only contain letters, digits, '-' and '_'")
		}
	}
	return nil
}

// ValidateLeadID validates a lead ID.
func ValidateLeadID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid lead ID format")
	}
	return nil
}

// ValidateScheduleID validates a schedule ID.
func ValidateScheduleID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid schedule ID format")
	}
	return nil
}

// ValidatePrompt validates a bot prompt.
func ValidatePrompt(prompt string) error {
	if len(prompt) > 32000 {
		return errors.New("prompt exceeds maximum length")
	}
	if !utf8.ValidString(prompt) {
		return errors.New("prompt must be valid UTF-8")
	}
	return nil
}
