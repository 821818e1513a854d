package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nmea-feed/internal/metrics"
	"nmea-feed/internal/nmea"
	"nmea-feed/internal/replay"
	"nmea-feed/internal/serial"
)

const (
	SourceSerial = "serial"
	SourceTCP    = "tcp"
	SourceFile   = "file"
	SourceReplay = "replay"
	SourceGPSD   = "gpsd"
)

// Config controls one input stream.
//
// Serial, TCP and gpsd streams are live: they are reopened with backoff when the
// transport fails. File and replay streams end at EOF.
type Config struct {
	Name   string
	Source string

	// Device may be empty to auto-detect.
	Device    string
	Baud      int
	Exclusive bool

	Addr           string
	DialTimeout    time.Duration
	ReconnectDelay time.Duration
	MaxBackoff     time.Duration

	Path  string
	Speed float64
	Loop  bool

	// SuppressFirstError drops a leading fragment on each new connection.
	SuppressFirstError bool

	// ReadChunk is the transport read size.
	ReadChunk int
}

type Snapshot struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Target string `json:"target,omitempty"`
	State  string `json:"state"`

	Sentences        uint64 `json:"sentences"`
	ChecksumFailures uint64 `json:"checksum_failures"`
	DecodeErrors     uint64 `json:"decode_errors"`
	Bytes            uint64 `json:"bytes"`
	Reconnects       uint64 `json:"reconnects"`

	LastSentenceUTC string `json:"last_sentence_utc,omitempty"`
	LastDecodeError string `json:"last_decode_error,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

type Option func(*Service)

// WithOpener replaces the transport selected by Config.Source.
func WithOpener(o Opener) Option {
	return func(s *Service) {
		s.open = o
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithCapture records every transport read to w.
func WithCapture(w *replay.Writer) Option {
	return func(s *Service) {
		s.capture = w
	}
}

type Service struct {
	cfg     Config
	sink    Sink
	open    Opener
	live    bool
	target  string
	metrics *metrics.Metrics
	log     zerolog.Logger
	capture *replay.Writer
	now     func() time.Time

	started atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error

	mu     sync.RWMutex
	snap   Snapshot
	lastAt time.Time
	closer io.Closer
}

func New(cfg Config, sink Sink, opts ...Option) (*Service, error) {
	if sink == nil {
		return nil, fmt.Errorf("feed sink is nil")
	}
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = SourceSerial
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Source
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = 512
	}

	var target string
	switch cfg.Source {
	case SourceSerial:
		if cfg.Device == "" {
			cfg.Device = serial.AutoDetect()
		}
		if cfg.Device == "" {
			cfg.Device = serial.DefaultDevice
		}
		if cfg.Baud == 0 {
			cfg.Baud = serial.DefaultBaud
		}
		target = cfg.Device
	case SourceTCP:
		if cfg.Addr == "" {
			return nil, fmt.Errorf("feed addr is required for source tcp")
		}
		target = cfg.Addr
	case SourceGPSD:
		if cfg.Addr == "" {
			cfg.Addr = DefaultGPSDAddr
		}
		target = cfg.Addr
	case SourceFile, SourceReplay:
		if cfg.Path == "" {
			return nil, fmt.Errorf("feed path is required for source %s", cfg.Source)
		}
		target = cfg.Path
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
	}

	s := &Service{
		cfg:    cfg,
		sink:   sink,
		live:   cfg.Source == SourceSerial || cfg.Source == SourceTCP || cfg.Source == SourceGPSD,
		target: target,
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
		done:   make(chan struct{}),
		snap:   Snapshot{Name: cfg.Name, Source: cfg.Source, Target: target, State: "stopped"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.open == nil {
		o, err := defaultOpener(cfg)
		if err != nil {
			return nil, err
		}
		s.open = o
	}
	return s, nil
}

// Start runs the stream in a goroutine until ctx is cancelled, Close is
// called, or a non-live source is exhausted.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("feed service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("feed service is closed")
	}
	if s.started.Swap(true) {
		return fmt.Errorf("feed service already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.runErr = s.run(runCtx)
	}()
	return nil
}

// Done is closed once the stream goroutine has returned.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream stopped. Valid after Done is closed.
func (s *Service) Err() error {
	select {
	case <-s.done:
		return s.runErr
	default:
		return nil
	}
}

func (s *Service) Close() {
	if s == nil || s.closed.Swap(true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	closer := s.closer
	s.closer = nil
	s.mu.Unlock()
	if closer != nil {
		// Interrupts a blocked Read.
		_ = closer.Close()
	}
	if s.started.Load() {
		<-s.done
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	if !s.lastAt.IsZero() {
		out.LastSentenceUTC = s.lastAt.Format(time.RFC3339Nano)
	}
	return out
}

func (s *Service) run(ctx context.Context) error {
	backoff := s.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			s.setState("stopped", "")
			return nil
		}

		s.setState("connecting", "")
		rc, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState("stopped", "")
				return nil
			}
			s.setState("error", err.Error())
			if !s.live {
				return err
			}
			s.log.Warn().Str("stream", s.cfg.Name).Err(err).Dur("retry_in", backoff).Msg("feed open failed")
			if !s.wait(ctx, backoff) {
				s.setState("stopped", "")
				return nil
			}
			backoff = min(backoff*2, s.cfg.MaxBackoff)
			continue
		}
		backoff = s.cfg.ReconnectDelay

		s.mu.Lock()
		s.closer = rc
		s.mu.Unlock()
		// Close may have run between open and publishing the closer.
		if ctx.Err() != nil {
			_ = rc.Close()
			s.setState("stopped", "")
			return nil
		}

		s.setState("connected", "")
		s.log.Info().Str("stream", s.cfg.Name).Str("source", s.cfg.Source).Str("target", s.target).Msg("feed connected")

		err = s.pump(ctx, rc)
		_ = rc.Close()
		s.mu.Lock()
		s.closer = nil
		s.mu.Unlock()

		switch {
		case ctx.Err() != nil:
			s.setState("stopped", "")
			return nil
		case !s.live && errors.Is(err, io.EOF):
			s.setState("finished", "")
			s.log.Info().Str("stream", s.cfg.Name).Msg("feed finished")
			return nil
		case !s.live:
			s.setState("error", err.Error())
			return err
		}

		s.setState("disconnected", err.Error())
		s.log.Warn().Str("stream", s.cfg.Name).Err(err).Msg("feed read stopped")
		if !s.wait(ctx, s.cfg.ReconnectDelay) {
			s.setState("stopped", "")
			return nil
		}
	}
}

// pump reads until the transport fails. A fresh Framer per connection means
// a reconnect never splices two unrelated byte streams into one sentence.
func (s *Service) pump(ctx context.Context, rc io.Reader) error {
	f := nmea.NewFramer(nmea.WithSuppressFirstError(s.cfg.SuppressFirstError))
	var r io.Reader = rc
	if s.capture != nil {
		r = replay.NewRecorder(rc, s.capture)
	}

	buf := make([]byte, s.cfg.ReadChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.metrics.Bytes(s.cfg.Name, n)
			s.mu.Lock()
			s.snap.Bytes += uint64(n)
			s.mu.Unlock()

			_, _ = f.Write(buf[:n])
			s.drain(ctx, f)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Service) drain(ctx context.Context, f *nmea.Framer) {
	for {
		sent, ok, err := f.Next()
		if !ok {
			return
		}
		res := Result{Stream: s.cfg.Name, At: s.now(), Sentence: sent, Raw: f.Raw(), Err: err}
		s.account(res)
		if derr := s.sink.Deliver(ctx, res); derr != nil {
			s.metrics.SinkError(s.cfg.Name)
			s.log.Warn().Str("stream", s.cfg.Name).Err(derr).Msg("sink delivery failed")
		}
	}
}

func (s *Service) account(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Err != nil {
		kind := "unknown"
		var derr *nmea.DecodeError
		if errors.As(r.Err, &derr) {
			kind = derr.Kind.String()
		}
		s.metrics.DecodeError(s.cfg.Name, kind)
		s.snap.DecodeErrors++
		// Avoid spamming on bad noise; just keep the last error.
		s.snap.LastDecodeError = r.Err.Error()
		return
	}

	checksumOK := r.Sentence.ChecksumValid == nil || *r.Sentence.ChecksumValid
	s.metrics.Sentence(s.cfg.Name, r.Sentence.Talker, r.Sentence.Type, checksumOK)
	s.snap.Sentences++
	if !checksumOK {
		s.snap.ChecksumFailures++
	}
	s.lastAt = r.At
}

func (s *Service) setState(state string, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = state
	if lastErr != "" {
		s.snap.LastError = lastErr
		return
	}
	// Clear stale errors once healthy again.
	if state == "connected" {
		s.snap.LastError = ""
	}
}

func (s *Service) wait(ctx context.Context, d time.Duration) bool {
	s.metrics.Reconnect(s.cfg.Name)
	s.mu.Lock()
	s.snap.Reconnects++
	s.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
