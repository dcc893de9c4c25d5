// Package lead drives the per-conversation qualification lifecycle inside a worker.
package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

// ClosingMessage acknowledges a qualified lead.
const ClosingMessage = "¡Perfecto! Ya tengo toda tu información. Un miembro de nuestro equipo se pondrá en contacto contigo muy pronto. ¡Gracias! 🎉"

var followUps = map[model.LeadField]string{
	model.FieldName:     "¿Podrías compartirme tu nombre completo? 😊",
	model.FieldEmail:    "¿Cuál es tu correo electrónico para enviarte más información?",
	model.FieldLocation: "¿Desde dónde nos contactas? (ciudad o ubicación)",
}

// FollowUpQuestion returns the question asking for field, or "".
func FollowUpQuestion(field model.LeadField) string {
	return followUps[field]
}

// Store is the persistence the engine needs.
type Store interface {
	GetOrCreateLead(ctx context.Context, botID, address string, now time.Time) (*model.Lead, bool, error)
	SaveLeadFields(ctx context.Context, l *model.Lead) error
	QualifyLead(ctx context.Context, l *model.Lead) error
	TouchLead(ctx context.Context, id string, at time.Time) error
	AppendMessage(ctx context.Context, m *model.LeadMessage) error
	RecentMessages(ctx context.Context, leadID string, n int) ([]model.LeadMessage, error)
}

// Extractor pulls contact fields out of free text. It may return empty fields.
type Extractor interface {
	Extract(ctx context.Context, text string) (model.LeadFields, error)
}

// Replier generates a contextual reply from the bot prompt and recent history.
type Replier interface {
	Reply(ctx context.Context, text string, history []model.LeadMessage, prompt string) (string, error)
}

// Options tunes an Engine.
type Options struct {
	HistoryWindow int
	// Timeout bounds each extraction and reply call.
	Timeout time.Duration
}

// Inbound is a message received from an external address.
type Inbound struct {
	Address string
	Text    string
	Phone   string
}

// Outcome is what the worker must do after an inbound message.
type Outcome struct {
	Lead *model.Lead
	// Reply is sent back to the address when non-empty.
	Reply string
	// Qualified is set on the single turn the lead became qualified.
	Qualified bool
	// ForOperator is set when the lead is owned by humans.
	ForOperator bool
}

// Engine runs the lead state machine for one bot.
type Engine struct {
	bot       model.BotConfig
	store     Store
	extractor Extractor
	replier   Replier
	opts      Options
	log       *logger.Logger
	now       func() time.Time
}

// NewEngine creates an engine for bot. extractor and replier may be nil.
func NewEngine(bot model.BotConfig, store Store, extractor Extractor, replier Replier, opts Options, log *logger.Logger) *Engine {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Engine{
		bot:       bot,
		store:     store,
		extractor: extractor,
		replier:   replier,
		opts:      opts,
		log:       log.ForBot(bot.ID),
		now:       time.Now,
	}
}

// HandleInbound records an inbound message and advances the lead.
func (e *Engine) HandleInbound(ctx context.Context, in Inbound) (*Outcome, error) {
	now := e.now()

	l, created, err := e.store.GetOrCreateLead(ctx, e.bot.ID, in.Address, now)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.LeadTransitionsTotal.WithLabelValues(string(model.LeadCapturing)).Inc()
		e.log.Info("lead created", zap.String("lead_id", l.ID))
	}

	// History excludes the message being handled; the replier appends it.
	var history []model.LeadMessage
	if l.Status == model.LeadCapturing {
		history, err = e.store.RecentMessages(ctx, l.ID, e.opts.HistoryWindow)
		if err != nil {
			e.log.Warn("failed to load history", zap.String("lead_id", l.ID), zap.Error(err))
		}
	}

	if err := e.store.AppendMessage(ctx, &model.LeadMessage{
		LeadID: l.ID, Sender: in.Address, Text: in.Text, Timestamp: now,
	}); err != nil {
		return nil, err
	}
	l.LastActivityAt = now

	if l.Status != model.LeadCapturing {
		if err := e.store.TouchLead(ctx, l.ID, now); err != nil {
			e.log.Warn("failed to touch lead", zap.String("lead_id", l.ID), zap.Error(err))
		}
		return &Outcome{Lead: l, ForOperator: true}, nil
	}

	return e.capture(ctx, l, in, history, now)
}

func (e *Engine) capture(ctx context.Context, l *model.Lead, in Inbound, history []model.LeadMessage, now time.Time) (*Outcome, error) {
	features := e.bot.Features
	out := &Outcome{Lead: l}
	// The closing acknowledgment counts as an autoreply.
	autoReply := features.AutoResponseEnabled && features.WithinWorkingHours(now.Local())

	var question string
	if features.LeadCaptureEnabled {
		fields := e.extract(ctx, in.Text)
		if in.Phone != "" {
			fields.Phone = in.Phone
		}
		l.Merge(fields)

		if l.Complete() {
			if err := l.Qualify(now); err != nil {
				return nil, err
			}
			if err := e.store.QualifyLead(ctx, l); err != nil {
				if errors.Is(err, model.ErrInvalidTransition) {
					// Already advanced elsewhere; treat as owned by operators.
					return &Outcome{Lead: l, ForOperator: true}, nil
				}
				return nil, err
			}
			metrics.LeadTransitionsTotal.WithLabelValues(string(model.LeadQualified)).Inc()
			e.log.Info("lead qualified", zap.String("lead_id", l.ID))

			out.Qualified = true
			if autoReply {
				out.Reply = ClosingMessage
				e.recordReply(ctx, l.ID, out.Reply)
			}
			return out, nil
		}

		if err := e.store.SaveLeadFields(ctx, l); err != nil {
			return nil, err
		}
		question = FollowUpQuestion(l.MissingField())
	} else if err := e.store.TouchLead(ctx, l.ID, now); err != nil {
		e.log.Warn("failed to touch lead", zap.String("lead_id", l.ID), zap.Error(err))
	}

	if !autoReply {
		return out, nil
	}

	out.Reply = composeReply(e.reply(ctx, in.Text, history), question)
	if out.Reply != "" {
		e.recordReply(ctx, l.ID, out.Reply)
	}
	return out, nil
}

// extract treats any failure as no fields.
func (e *Engine) extract(ctx context.Context, text string) model.LeadFields {
	if e.extractor == nil {
		return model.LeadFields{}
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	fields, err := e.extractor.Extract(ctx, text)
	if err != nil {
		e.log.Warn("field extraction failed", zap.Error(err))
		return model.LeadFields{}
	}
	return fields
}

func (e *Engine) reply(ctx context.Context, text string, history []model.LeadMessage) string {
	if e.replier == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	reply, err := e.replier.Reply(ctx, text, history, e.bot.Prompt)
	if err != nil {
		e.log.Warn("reply generation failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(reply)
}

func (e *Engine) recordReply(ctx context.Context, leadID, text string) {
	err := e.store.AppendMessage(ctx, &model.LeadMessage{
		LeadID: leadID, Sender: model.SenderBot, Text: text, Timestamp: e.now(),
	})
	if err != nil {
		e.log.Warn("failed to record bot reply", zap.String("lead_id", leadID), zap.Error(err))
	}
}

func composeReply(contextual, question string) string {
	switch {
	case contextual == "":
		return question
	case question == "":
		return contextual
	default:
		return fmt.Sprintf("%s\n\n%s", contextual, question)
	}
}
