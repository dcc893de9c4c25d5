// Package nats provides the optional JetStream audit log for fleet events.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/pkg/logger"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

// Config selects the server and credentials for the audit log.
type Config struct {
	URL   string
	Token string

	// Mutual TLS. CertFile and KeyFile must be set together.
	CAFile   string
	CertFile string
	KeyFile  string

	// MaxAge bounds how long audited events are kept. Zero keeps 90 days.
	MaxAge time.Duration
}

// AuditLog appends fleet events to the FLEET stream and reads them back per bot.
type AuditLog struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	maxAge time.Duration
	log    *logger.Logger
}

// Open connects, binds JetStream and makes sure the audit stream exists.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*AuditLog, error) {
	log = log.With(zap.String("stream", StreamName))

	opts, err := connectOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect audit log: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to bind JetStream: %w", err)
	}

	a := &AuditLog{conn: nc, js: js, maxAge: cfg.MaxAge, log: log}
	if a.maxAge <= 0 {
		a.maxAge = 90 * 24 * time.Hour
	}
	if err := a.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	log.Info("audit log connected", zap.String("url", nc.ConnectedUrl()))
	return a, nil
}

// connectOptions reconnects forever; losing the audit log never stops the fleet.
func connectOptions(cfg Config, log *logger.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name("lead-fleet"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.NATSConnectionEventsTotal.WithLabelValues("disconnected").Inc()
			log.Warn("audit log disconnected, events are buffered", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.NATSConnectionEventsTotal.WithLabelValues("reconnected").Inc()
			log.Info("audit log reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("audit log error", zap.Error(err))
		}),
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("audit log TLS needs both a certificate and a key")
	}
	if cfg.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.CAFile))
	}
	if cfg.CertFile != "" {
		opts = append(opts, nats.ClientCert(cfg.CertFile, cfg.KeyFile))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts, nil
}

// Close flushes pending publishes and closes the connection.
func (a *AuditLog) Close() {
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
	}
}

// Connected reports whether the audit log can currently accept events.
func (a *AuditLog) Connected() bool {
	return a.conn.IsConnected()
}
