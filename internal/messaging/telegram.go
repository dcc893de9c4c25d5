package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// ErrNotConnected is returned by SendText before the session is established.
var ErrNotConnected = errors.New("telegram session not connected")

// Telegram is a Network backed by the Telegram Bot API long-polling loop.
// Conversation addresses are private chat ids.
type Telegram struct {
	token    string
	endpoint string
	log      *logger.Logger
	events   chan Event

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI
}

// NewTelegram creates a Telegram network for a bot token. endpoint may be
// empty to use the public API.
func NewTelegram(token, endpoint string, log *logger.Logger) *Telegram {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{
		token:    token,
		endpoint: endpoint,
		log:      log,
		events:   make(chan Event, 64),
	}
}

// Events returns the event stream.
func (t *Telegram) Events() <-chan Event {
	return t.events
}

// Run authorizes the token and long-polls updates until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	defer close(t.events)

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
	if err != nil {
		t.emit(ctx, Event{Kind: EventDisconnected, Reason: "authorization failed"})
		return fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()

	t.log.Info("telegram session authorized", zap.String("username", bot.Self.UserName))
	t.emit(ctx, Event{Kind: EventConnectionProof, Proof: "https://t.me/" + bot.Self.UserName})
	t.emit(ctx, Event{Kind: EventConnected})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			t.emit(context.Background(), Event{Kind: EventDisconnected, Reason: "shutdown"})
			return nil
		case update, ok := <-updates:
			if !ok {
				t.emit(ctx, Event{Kind: EventDisconnected, Reason: "update stream closed"})
				return nil
			}
			if ev, ok := inboundFromUpdate(update); ok {
				t.emit(ctx, ev)
			}
		}
	}
}

// SendText sends a plain message to a chat id.
func (t *Telegram) SendText(ctx context.Context, address, text string) error {
	t.mu.RLock()
	bot := t.bot
	t.mu.RUnlock()
	if bot == nil {
		return ErrNotConnected
	}

	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram address %q: %w", address, err)
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func (t *Telegram) emit(ctx context.Context, ev Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
		// Terminal events must still reach a reader that is draining.
		if ev.Kind == EventDisconnected {
			select {
			case t.events <- ev:
			default:
			}
		}
	}
}

// inboundFromUpdate converts a private-chat message into an inbound event.
// Group, channel and service messages are ignored.
func inboundFromUpdate(update tgbotapi.Update) (Event, bool) {
	m := update.Message
	if m == nil || m.Chat == nil || !m.Chat.IsPrivate() {
		return Event{}, false
	}
	ev := Event{
		Kind:    EventInbound,
		Address: strconv.FormatInt(m.Chat.ID, 10),
		Text:    strings.TrimSpace(m.Text),
	}
	if m.Contact != nil {
		ev.Phone = m.Contact.PhoneNumber
		if ev.Text == "" {
			ev.Text = m.Contact.PhoneNumber
		}
	}
	if ev.Text == "" {
		return Event{}, false
	}
	return ev, true
}
