// Package natspub publishes decoded sentences to NATS subjects.
//
// Sentences go to <prefix>.<talker>.<type> and rejected input goes to
// <prefix>.errors, each as one JSON document.
package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"nmea-feed/internal/feed"
	"nmea-feed/internal/nmea"
)

type Config struct {
	URL    string
	Prefix string
	// Name identifies this client to the server.
	Name string

	ReconnectWait time.Duration
	Timeout       time.Duration
}

type Message struct {
	Stream string    `json:"stream"`
	At     time.Time `json:"at"`
	nmea.Sentence
	Raw string `json:"raw"`
}

type ErrorMessage struct {
	Stream string    `json:"stream"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Error  string    `json:"error"`
	Raw    string    `json:"raw,omitempty"`
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

type Publisher struct {
	conn   conn
	prefix string
	log    zerolog.Logger
}

var _ feed.Sink = (*Publisher)(nil)

// New connects to cfg.URL. The connection reconnects on its own; publishes
// during an outage are buffered by the client.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	prefix, err := cleanPrefix(cfg.Prefix)
	if err != nil {
		return nil, err
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("nats async error")
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(cfg.URL, opts...)
		done <- result{nc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, r.err)
		}
		log.Info().Str("url", r.nc.ConnectedUrlRedacted()).Str("prefix", prefix).Msg("nats connected")
		return newPublisher(r.nc, prefix, log), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, ctx.Err())
	}
}

func newPublisher(c conn, prefix string, log zerolog.Logger) *Publisher {
	return &Publisher{conn: c, prefix: prefix, log: log}
}

func cleanPrefix(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), ".")
	if p == "" {
		return "nmea", nil
	}
	if strings.ContainsAny(p, " \t*>") {
		return "", fmt.Errorf("nats prefix %q contains wildcard or whitespace", p)
	}
	return p, nil
}

// Subject returns the subject a decoded sentence is published to.
func (p *Publisher) Subject(s nmea.Sentence) string {
	return p.prefix + "." + s.Talker + "." + s.Type
}

func (p *Publisher) ErrorSubject() string {
	return p.prefix + ".errors"
}

func (p *Publisher) Deliver(_ context.Context, r feed.Result) error {
	var (
		subject string
		data    []byte
		err     error
	)
	if r.Err != nil {
		kind := "unknown"
		var derr *nmea.DecodeError
		if errors.As(r.Err, &derr) {
			kind = derr.Kind.String()
		}
		subject = p.ErrorSubject()
		data, err = json.Marshal(ErrorMessage{Stream: r.Stream, At: r.At, Kind: kind, Error: r.Err.Error(), Raw: string(r.Raw)})
	} else {
		subject = p.Subject(r.Sentence)
		data, err = json.Marshal(Message{Stream: r.Stream, At: r.At, Sentence: r.Sentence, Raw: string(r.Raw)})
	}
	if err != nil {
		return fmt.Errorf("nats encode: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending publishes and drains the connection.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.log.Warn().Err(err).Msg("nats flush failed")
	}
	return p.conn.Drain()
}
