// Package worker runs one bot inside an isolated worker process. A Worker is
// an actor: it owns its bot config, network session and lead engine, and
// talks to the supervisor only through an ipc.Channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/ipc"
	"github.com/capitalize-ai/lead-fleet/internal/lead"
	"github.com/capitalize-ai/lead-fleet/internal/messaging"
	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// Engine advances leads for inbound messages.
type Engine interface {
	HandleInbound(ctx context.Context, in lead.Inbound) (*lead.Outcome, error)
}

// Deps builds the per-bot collaborators once INIT arrives.
type Deps struct {
	Network func(bot model.BotConfig) (messaging.Network, error)
	Engine  func(bot model.BotConfig) (Engine, error)
}

// Worker is the per-bot actor.
type Worker struct {
	ch   *ipc.Channel
	deps Deps
	log  *logger.Logger

	bot     model.BotConfig
	network messaging.Network
	engine  Engine
}

// New creates a worker speaking on ch.
func New(ch *ipc.Channel, deps Deps, log *logger.Logger) *Worker {
	return &Worker{ch: ch, deps: deps, log: log}
}

// Run waits for INIT, then serves until the session ends, the supervisor
// closes the channel, or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	env, err := w.ch.Receive()
	if err != nil {
		return fmt.Errorf("failed to receive INIT: %w", err)
	}
	if env.Type != ipc.TypeInit {
		return fmt.Errorf("%w: first envelope is %s, want INIT", ipc.ErrProtocolViolation, env.Type)
	}
	var init ipc.Init
	if err := env.Decode(&init); err != nil {
		return err
	}
	w.bot = init.Bot
	w.log = w.log.ForBot(w.bot.ID)

	w.engine, err = w.deps.Engine(w.bot)
	if err != nil {
		return fmt.Errorf("failed to build lead engine: %w", err)
	}
	w.network, err = w.deps.Network(w.bot)
	if err != nil {
		w.sendDisconnected(err.Error())
		return fmt.Errorf("failed to build network: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	netErr := make(chan error, 1)
	go func() { netErr <- w.network.Run(ctx) }()

	commandsDone := make(chan error, 1)
	go func() { commandsDone <- w.readCommands(ctx) }()

	w.log.Info("worker started")
	for {
		select {
		case ev, ok := <-w.network.Events():
			if !ok {
				err := <-netErr
				w.log.Info("network session ended", zap.Error(err))
				return err
			}
			w.handleNetworkEvent(ctx, ev)
		case err := <-commandsDone:
			// Supervisor gone or stopping us.
			cancel()
			w.drain()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			w.drain()
			return nil
		}
	}
}

// drain lets the network goroutine finish after cancellation.
func (w *Worker) drain() {
	for ev := range w.network.Events() {
		if ev.Kind == messaging.EventDisconnected {
			w.sendDisconnected(ev.Reason)
		}
	}
}

func (w *Worker) readCommands(ctx context.Context) error {
	for {
		env, err := w.ch.Receive()
		if err != nil {
			return err
		}
		switch env.Type {
		case ipc.TypeSend:
			var send ipc.Send
			if err := env.Decode(&send); err != nil {
				w.log.Warn("bad SEND envelope", zap.Error(err))
				continue
			}
			if err := w.network.SendText(ctx, send.TargetAddress, send.Text); err != nil {
				w.log.Warn("outbound send failed", zap.String("address", send.TargetAddress), zap.Error(err))
			}
		case ipc.TypeInit:
			return fmt.Errorf("%w: duplicate INIT", ipc.ErrProtocolViolation)
		default:
			w.log.Warn("ignoring envelope", zap.String("type", string(env.Type)))
		}
	}
}

func (w *Worker) handleNetworkEvent(ctx context.Context, ev messaging.Event) {
	switch ev.Kind {
	case messaging.EventConnectionProof:
		w.send(ipc.TypeQRReady, ipc.QRReady{QRImage: ev.Proof})
	case messaging.EventConnected:
		w.send(ipc.TypeConnected, nil)
	case messaging.EventDisconnected:
		w.sendDisconnected(ev.Reason)
	case messaging.EventInbound:
		w.handleInbound(ctx, ev)
	}
}

func (w *Worker) handleInbound(ctx context.Context, ev messaging.Event) {
	out, err := w.engine.HandleInbound(ctx, lead.Inbound{Address: ev.Address, Text: ev.Text, Phone: ev.Phone})
	if err != nil {
		w.log.Error("failed to handle inbound message", zap.String("address", ev.Address), zap.Error(err))
		return
	}

	if out.Reply != "" {
		if err := w.network.SendText(ctx, ev.Address, out.Reply); err != nil {
			w.log.Warn("reply send failed", zap.String("lead_id", out.Lead.ID), zap.Error(err))
		}
	}
	if out.Qualified {
		w.send(ipc.TypeLeadQualified, ipc.LeadQualified{Lead: *out.Lead})
	}
	if out.ForOperator {
		w.send(ipc.TypeMessageForOperator, ipc.MessageForOperator{
			LeadID:      out.Lead.ID,
			FromAddress: ev.Address,
			Text:        ev.Text,
		})
	}
}

func (w *Worker) sendDisconnected(reason string) {
	w.send(ipc.TypeDisconnected, ipc.Disconnected{Reason: reason})
}

func (w *Worker) send(t ipc.Type, payload any) {
	if err := w.ch.SendPayload(t, payload); err != nil {
		w.log.Warn("failed to send event", zap.String("type", string(t)), zap.Error(err))
	}
}
