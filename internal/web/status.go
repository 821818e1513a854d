package web

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"nmea-feed/internal/feed"
	"nmea-feed/internal/fix"
)

// StreamReporter is implemented by *feed.Service.
type StreamReporter interface {
	Snapshot() feed.Snapshot
}

// FixReporter is implemented by *fix.Tracker.
type FixReporter interface {
	Snapshot() fix.Snapshot
}

// OutputReporter returns the live state of one sink for /api/status.
type OutputReporter func() any

type Status struct {
	service       string
	startUnixNano int64

	mu      sync.RWMutex
	streams []StreamReporter
	fix     FixReporter
	live    map[string]OutputReporter
	outputs atomic.Value // map[string]any
}

func NewStatus(service string) *Status {
	if service == "" {
		service = "nmea-feed"
	}
	s := &Status{service: service, live: map[string]OutputReporter{}}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.outputs.Store(map[string]any{})
	return s
}

func (s *Status) AddStream(r StreamReporter) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.streams = append(s.streams, r)
	s.mu.Unlock()
}

func (s *Status) SetFix(r FixReporter) {
	s.mu.Lock()
	s.fix = r
	s.mu.Unlock()
}

// SetOutputs records static facts about the configured sinks, e.g. the UDP
// destination.
func (s *Status) SetOutputs(outputs map[string]any) {
	if outputs == nil {
		outputs = map[string]any{}
	}
	s.outputs.Store(outputs)
}

// AddOutput registers a sink whose state is read on every snapshot. It
// replaces any static output of the same name.
func (s *Status) AddOutput(name string, r OutputReporter) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.live[name] = r
	s.mu.Unlock()
}

// Fix returns the current fix, or false when no tracker is attached.
func (s *Status) Fix() (fix.Snapshot, bool) {
	s.mu.RLock()
	r := s.fix
	s.mu.RUnlock()
	if r == nil {
		return fix.Snapshot{}, false
	}
	return r.Snapshot(), true
}

type BuildInfo struct {
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

type StatusSnapshot struct {
	Service   string          `json:"service"`
	NowUTC    string          `json:"now_utc"`
	UptimeSec int64           `json:"uptime_sec"`
	Build     BuildInfo       `json:"build"`
	Streams   []feed.Snapshot `json:"streams"`
	Fix       *fix.Snapshot   `json:"fix,omitempty"`
	Outputs   map[string]any  `json:"outputs"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	s.mu.RLock()
	streams := append([]StreamReporter(nil), s.streams...)
	fr := s.fix
	live := make(map[string]OutputReporter, len(s.live))
	for k, r := range s.live {
		live[k] = r
	}
	s.mu.RUnlock()

	static := s.outputs.Load().(map[string]any)
	outputs := make(map[string]any, len(static)+len(live))
	for k, v := range static {
		outputs[k] = v
	}
	for k, r := range live {
		outputs[k] = r()
	}

	snap := StatusSnapshot{
		Service:   s.service,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Build:     buildInfo(),
		Streams:   make([]feed.Snapshot, 0, len(streams)),
		Outputs:   outputs,
	}
	for _, r := range streams {
		snap.Streams = append(snap.Streams, r.Snapshot())
	}
	if fr != nil {
		f := fr.Snapshot()
		snap.Fix = &f
	}
	return snap
}

// Healthy reports whether every stream is running or finished cleanly.
func (s *Status) Healthy() (bool, []string) {
	s.mu.RLock()
	streams := append([]StreamReporter(nil), s.streams...)
	s.mu.RUnlock()

	var bad []string
	for _, r := range streams {
		snap := r.Snapshot()
		switch snap.State {
		case "connected", "finished":
		default:
			bad = append(bad, snap.Name+": "+snap.State)
		}
	}
	return len(bad) == 0, bad
}

func buildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		}
	}
	return out
}
