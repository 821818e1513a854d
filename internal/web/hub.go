package web

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nmea-feed/internal/feed"
	"nmea-feed/internal/nmea"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// Event is the JSON form of one feed result on /api/stream.
type Event struct {
	Stream   string         `json:"stream"`
	At       time.Time      `json:"at"`
	OK       bool           `json:"ok"`
	Sentence *nmea.Sentence `json:"sentence,omitempty"`
	Raw      string         `json:"raw"`
	Error    string         `json:"error,omitempty"`
}

// Filter selects which events a subscriber receives. Empty fields match
// everything.
type Filter struct {
	Talker string
	Type   string
	// NoErrors drops rejected sentences.
	NoErrors bool
}

func (f Filter) match(ev Event) bool {
	if ev.Sentence == nil {
		return !f.NoErrors && f.Talker == "" && f.Type == ""
	}
	if f.Talker != "" && f.Talker != ev.Sentence.Talker {
		return false
	}
	if f.Type != "" && f.Type != ev.Sentence.Type {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans feed results out to websocket clients. Slow clients miss events
// rather than stall the feed.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	nextID int

	dropped atomic.Uint64

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

var _ feed.Sink = (*Hub)(nil)

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[int]subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *Hub) Subscribe(buffer int, f Filter) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = subscriber{ch: ch, filter: f}
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded because a client's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) Deliver(_ context.Context, r feed.Result) error {
	ev := Event{Stream: r.Stream, At: r.At, OK: r.OK(), Raw: string(r.Raw)}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	} else {
		s := r.Sentence
		ev.Sentence = &s
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// ServeHTTP upgrades to a websocket and streams events as JSON text
// messages. Query parameters talker, type and errors=0 set the Filter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := Filter{
		Talker:   strings.ToUpper(strings.TrimSpace(q.Get("talker"))),
		Type:     strings.ToUpper(strings.TrimSpace(q.Get("type"))),
		NoErrors: q.Get("errors") == "0" || strings.EqualFold(q.Get("errors"), "false"),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	id, ch := h.Subscribe(0, f)
	h.log.Info().Str("remote", r.RemoteAddr).Int("clients", h.Clients()).Msg("stream client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.writeLoop(conn, ch, closed)
	h.Unsubscribe(id)
	_ = conn.Close()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("stream client disconnected")
}

func (h *Hub) writeLoop(conn *websocket.Conn, ch <-chan Event, closed <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
}
