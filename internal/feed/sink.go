package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"nmea-feed/internal/nmea"
)

// Result is one terminated sentence from a stream: either a decoded
// Sentence or, when Err is set, the reason it was rejected.
type Result struct {
	Stream   string
	At       time.Time
	Sentence nmea.Sentence
	// Raw holds the sentence bytes as received, CR LF included.
	Raw []byte
	Err error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Sink receives results in the order sentences terminate on the wire.
// Deliver is called from the stream goroutine and should not block for long.
type Sink interface {
	Deliver(ctx context.Context, r Result) error
}

type SinkFunc func(ctx context.Context, r Result) error

func (f SinkFunc) Deliver(ctx context.Context, r Result) error {
	return f(ctx, r)
}

// MultiSink delivers to every sink, even after one fails.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, r Result) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes results to a logger: rejected sentences at warn, decoded
// ones at debug when sentences is true.
type LogSink struct {
	log       zerolog.Logger
	sentences bool
}

func NewLogSink(log zerolog.Logger, sentences bool) *LogSink {
	return &LogSink{log: log, sentences: sentences}
}

func (l *LogSink) Deliver(_ context.Context, r Result) error {
	if r.Err != nil {
		l.log.Warn().Str("stream", r.Stream).Err(r.Err).Msg("read invalid sentence")
		return nil
	}
	if !l.sentences {
		return nil
	}
	ev := l.log.Debug().
		Str("stream", r.Stream).
		Bool("encapsulated", r.Sentence.Encapsulated).
		Str("talker", r.Sentence.Talker).
		Str("type", r.Sentence.Type).
		Strs("fields", r.Sentence.Fields)
	if r.Sentence.ChecksumValid != nil {
		ev = ev.Str("checksum", r.Sentence.Checksum).Bool("checksum_valid", *r.Sentence.ChecksumValid)
	}
	ev.Msg("sentence")
	return nil
}
