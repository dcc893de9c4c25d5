// Package supervisor owns the worker process table: at most one live worker
// per bot, with INIT handshake, event relay and exit reconciliation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/ipc"
	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

// ErrWorkerNotRunning is returned by Send when the bot has no live worker.
var ErrWorkerNotRunning = errors.New("worker not running")

type initState int

const (
	initPending initState = iota
	initWriting
	initSent
)

type handle struct {
	botID    string
	proc     Process
	init     initState
	initDone chan struct{}
	exited   chan struct{}
	stopping bool

	status model.RuntimeStatus
	qr     string
}

// Options tunes a Supervisor.
type Options struct {
	RestartDelay time.Duration
	EventBuffer  int
}

// Supervisor manages worker processes.
type Supervisor struct {
	spawner Spawner
	opts    Options
	log     *logger.Logger

	mu      sync.Mutex
	workers map[string]*handle

	events chan Event
	done   chan struct{}
	closed sync.Once
}

// New creates a supervisor.
func New(spawner Spawner, opts Options, log *logger.Logger) *Supervisor {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Supervisor{
		spawner: spawner,
		opts:    opts,
		log:     log,
		workers: make(map[string]*handle),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
}

// Events returns the fleet event stream.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start spawns a worker for bot unless one already exists.
func (s *Supervisor) Start(ctx context.Context, bot model.BotConfig) error {
	log := s.log.ForBot(bot.ID)

	s.mu.Lock()
	if _, ok := s.workers[bot.ID]; ok {
		s.mu.Unlock()
		log.Warn("worker already running, start ignored")
		return nil
	}
	h := &handle{
		botID:    bot.ID,
		initDone: make(chan struct{}),
		exited:   make(chan struct{}),
		status:   model.RuntimeStarting,
	}
	s.workers[bot.ID] = h
	s.mu.Unlock()

	proc, err := s.spawner.Spawn(ctx, bot)
	if err != nil {
		s.mu.Lock()
		if s.workers[bot.ID] == h {
			delete(s.workers, bot.ID)
		}
		s.mu.Unlock()
		return fmt.Errorf("failed to spawn worker for %s: %w", bot.ID, err)
	}
	metrics.WorkersRunning.Inc()

	s.mu.Lock()
	h.proc = proc
	current := s.workers[bot.ID] == h
	s.mu.Unlock()

	go s.observeExit(h)
	if !current {
		// Stopped while spawning.
		go proc.Terminate()
		return nil
	}
	go s.relay(h)

	if err := s.sendInit(h, bot); err != nil {
		log.Error("failed to send INIT", zap.Error(err))
		go proc.Terminate()
		return err
	}
	log.Info("worker started")
	return nil
}

func (s *Supervisor) sendInit(h *handle, bot model.BotConfig) error {
	s.mu.Lock()
	h.init = initWriting
	s.mu.Unlock()

	err := h.proc.Channel().SendPayload(ipc.TypeInit, ipc.Init{Bot: bot})

	s.mu.Lock()
	if err == nil {
		h.init = initSent
	}
	close(h.initDone)
	s.mu.Unlock()

	if err == nil {
		metrics.IPCMessagesTotal.WithLabelValues("out", string(ipc.TypeInit)).Inc()
	}
	return err
}

// initSettled reports whether events may be forwarded, waiting out an INIT
// write already in flight.
func (s *Supervisor) initSettled(h *handle) bool {
	s.mu.Lock()
	state := h.init
	s.mu.Unlock()

	switch state {
	case initSent:
		return true
	case initWriting:
		<-h.initDone
		s.mu.Lock()
		defer s.mu.Unlock()
		return h.init == initSent
	default:
		return false
	}
}

// relay forwards worker envelopes as fleet events until the channel closes.
func (s *Supervisor) relay(h *handle) {
	log := s.log.ForBot(h.botID)
	ch := h.proc.Channel()
	defer ch.Close()
	for {
		env, err := ch.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Warn("worker channel closed", zap.Error(err))
			}
			if errors.Is(err, ipc.ErrProtocolViolation) {
				s.violation(h, err)
			}
			return
		}
		metrics.IPCMessagesTotal.WithLabelValues("in", string(env.Type)).Inc()

		if !env.Type.FromWorker() {
			s.violation(h, fmt.Errorf("%w: unexpected %s from worker", ipc.ErrProtocolViolation, env.Type))
			return
		}
		if !s.initSettled(h) {
			s.violation(h, fmt.Errorf("%w: %s before INIT", ipc.ErrProtocolViolation, env.Type))
			return
		}

		ev, err := s.toEvent(h.botID, env)
		if err != nil {
			s.violation(h, err)
			return
		}
		s.track(h, ev)
		s.emit(ev)
	}
}

func (s *Supervisor) toEvent(botID string, env ipc.Envelope) (Event, error) {
	switch env.Type {
	case ipc.TypeQRReady:
		var p ipc.QRReady
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return QRReady{BotID: botID, QR: p.QRImage}, nil
	case ipc.TypeConnected:
		return Connected{BotID: botID}, nil
	case ipc.TypeDisconnected:
		var p ipc.Disconnected
		if len(env.Payload) > 0 {
			if err := env.Decode(&p); err != nil {
				return nil, err
			}
		}
		return Disconnected{BotID: botID, Reason: p.Reason}, nil
	case ipc.TypeLeadQualified:
		var p ipc.LeadQualified
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return LeadQualified{BotID: botID, Lead: p.Lead}, nil
	case ipc.TypeMessageForOperator:
		var p ipc.MessageForOperator
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		return MessageForOperator{BotID: botID, LeadID: p.LeadID, FromAddress: p.FromAddress, Text: p.Text}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %s", ipc.ErrProtocolViolation, env.Type)
}

// track updates the runtime status shown to viewers.
func (s *Supervisor) track(h *handle, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case QRReady:
		h.status = model.RuntimePendingQR
		h.qr = e.QR
	case Connected:
		h.status = model.RuntimeConnected
	case Disconnected:
		h.status = model.RuntimeDisconnected
	}
}

func (s *Supervisor) violation(h *handle, err error) {
	s.log.ForBot(h.botID).Error("terminating worker on protocol violation", zap.Error(err))
	metrics.WorkerExitsTotal.WithLabelValues("protocol_violation").Inc()
	s.mu.Lock()
	if s.workers[h.botID] == h {
		delete(s.workers, h.botID)
	}
	s.mu.Unlock()
	go h.proc.Terminate()
}

// observeExit reconciles the table when the process ends, for any reason.
func (s *Supervisor) observeExit(h *handle) {
	err := h.proc.Wait()
	metrics.WorkersRunning.Dec()

	s.mu.Lock()
	if s.workers[h.botID] == h {
		delete(s.workers, h.botID)
	}
	stopping := h.stopping
	s.mu.Unlock()
	close(h.exited)

	reason := "exited"
	switch {
	case stopping:
		reason = "stopped"
	case err != nil:
		reason = "error"
	}
	metrics.WorkerExitsTotal.WithLabelValues(reason).Inc()
	s.log.ForBot(h.botID).Info("worker exited", zap.String("reason", reason), zap.Error(err))

	s.emit(Disconnected{BotID: h.botID, Reason: reason})
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Stop terminates the bot's worker if present. It does not wait for exit.
func (s *Supervisor) Stop(botID string) {
	s.mu.Lock()
	h, ok := s.workers[botID]
	var proc Process
	if ok {
		delete(s.workers, botID)
		h.stopping = true
		proc = h.proc
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.log.ForBot(botID).Info("stopping worker")
	// A nil proc is still spawning; Start terminates it once it sees the
	// handle is gone.
	if proc != nil {
		go proc.Terminate()
	}
}

// Loader returns a bot's current config and whether it should be running.
type Loader func(ctx context.Context, botID string) (model.BotConfig, bool, error)

// Restart stops the worker, waits the restart delay, reloads the config and
// starts the bot again if it should still run.
func (s *Supervisor) Restart(ctx context.Context, botID string, load Loader) error {
	s.Stop(botID)
	select {
	case <-time.After(s.opts.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	bot, ok, err := load(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to reload bot %s: %w", botID, err)
	}
	if !ok {
		s.log.ForBot(botID).Info("bot no longer enabled, restart skipped")
		return nil
	}
	return s.Start(ctx, bot)
}

// Send forwards an outbound message to the bot's worker.
func (s *Supervisor) Send(botID, targetAddress, text string) error {
	s.mu.Lock()
	h, ok := s.workers[botID]
	var proc Process
	if ok && h.init == initSent {
		proc = h.proc
	}
	s.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("bot %s: %w", botID, ErrWorkerNotRunning)
	}

	err := proc.Channel().SendPayload(ipc.TypeSend, ipc.Send{TargetAddress: targetAddress, Text: text})
	if err != nil {
		return fmt.Errorf("failed to deliver to bot %s: %w", botID, err)
	}
	metrics.IPCMessagesTotal.WithLabelValues("out", string(ipc.TypeSend)).Inc()
	return nil
}

// Running reports whether botID has a live worker handle.
func (s *Supervisor) Running(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[botID]
	return ok
}

// RuntimeStatus returns the live status and any pending connection proof.
func (s *Supervisor) RuntimeStatus(botID string) (model.RuntimeStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.workers[botID]
	if !ok {
		return model.RuntimeDisconnected, ""
	}
	return h.status, h.qr
}

// StopAll terminates every worker and waits for them to exit or ctx to end.
// The event stream is released afterwards.
func (s *Supervisor) StopAll(ctx context.Context) {
	type live struct {
		proc   Process
		exited chan struct{}
	}
	s.mu.Lock()
	procs := make([]live, 0, len(s.workers))
	for id, h := range s.workers {
		h.stopping = true
		if h.proc != nil {
			procs = append(procs, live{proc: h.proc, exited: h.exited})
		}
		delete(s.workers, id)
	}
	s.mu.Unlock()

	for _, p := range procs {
		go p.proc.Terminate()
	}
	for _, p := range procs {
		select {
		case <-p.exited:
		case <-ctx.Done():
		}
	}
	s.closed.Do(func() { close(s.done) })
}
