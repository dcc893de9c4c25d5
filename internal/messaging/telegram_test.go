package messaging

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

func TestInboundFromUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update tgbotapi.Update
		want   Event
		ok     bool
	}{
		{
			name: "private text",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: 42, Type: "private"},
				Text: " Hola ",
			}},
			want: Event{Kind: EventInbound, Address: "42", Text: "Hola"},
			ok:   true,
		},
		{
			name: "group ignored",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: -1, Type: "group"},
				Text: "Hola",
			}},
		},
		{
			name: "shared contact",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat:    &tgbotapi.Chat{ID: 7, Type: "private"},
				Contact: &tgbotapi.Contact{PhoneNumber: "+51999"},
			}},
			want: Event{Kind: EventInbound, Address: "7", Text: "+51999", Phone: "+51999"},
			ok:   true,
		},
		{
			name:   "no message",
			update: tgbotapi.Update{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := inboundFromUpdate(tt.update)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSendTextBeforeConnect(t *testing.T) {
	tg := NewTelegram("token", "", logger.NewNop())
	if err := tg.SendText(context.Background(), "1", "hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendText() error = %v, want ErrNotConnected", err)
	}
}
