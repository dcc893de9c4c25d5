package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/lead-fleet/internal/llm"
	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

const extractionPrompt = `Eres un asistente que extrae información de contacto de mensajes.
Debes identificar y extraer:
- name: Nombre completo de la persona
- email: Correo electrónico
- location: Ubicación, ciudad, dirección o país
- phone: Número de teléfono

Responde ÚNICAMENTE con un JSON válido con los campos detectados.
Si no detectas algún campo, omítelo del JSON.
Ejemplo de respuesta: {"name": "Juan Pérez", "email": "juan@example.com"}

NO incluyas explicaciones, solo el JSON.`

// LLMExtractor extracts lead fields with a JSON-only completion.
type LLMExtractor struct {
	client llm.Client
}

// NewLLMExtractor wraps an LLM client.
func NewLLMExtractor(client llm.Client) *LLMExtractor {
	return &LLMExtractor{client: client}
}

// Extract returns the fields found in text. A malformed answer yields empty fields.
func (x *LLMExtractor) Extract(ctx context.Context, text string) (model.LeadFields, error) {
	start := time.Now()
	resp, err := x.client.Complete(ctx, &llm.CompletionRequest{
		System:      extractionPrompt,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: text}},
		MaxTokens:   256,
		Temperature: 0.1,
	})
	if err != nil {
		metrics.RecordLLM("extract", "", "error", time.Since(start).Seconds(), 0, 0)
		return model.LeadFields{}, fmt.Errorf("extraction request failed: %w", err)
	}
	metrics.RecordLLM("extract", resp.Model, "ok", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	return ParseFields(resp.Content), nil
}

// ParseFields decodes an extraction answer, tolerating markdown code fences.
func ParseFields(raw string) model.LeadFields {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var fields model.LeadFields
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return model.LeadFields{}
	}
	return fields
}

// LLMReplier generates conversational replies from the bot prompt.
type LLMReplier struct {
	client llm.Client
}

// NewLLMReplier wraps an LLM client.
func NewLLMReplier(client llm.Client) *LLMReplier {
	return &LLMReplier{client: client}
}

// Reply answers text in the context of history.
func (r *LLMReplier) Reply(ctx context.Context, text string, history []model.LeadMessage, prompt string) (string, error) {
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Sender == model.SenderBot {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: text})

	start := time.Now()
	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		System:      prompt,
		Messages:    messages,
		MaxTokens:   512,
		Temperature: 0.7,
	})
	if err != nil {
		metrics.RecordLLM("reply", "", "error", time.Since(start).Seconds(), 0, 0)
		return "", fmt.Errorf("reply request failed: %w", err)
	}
	metrics.RecordLLM("reply", resp.Model, "ok", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}
