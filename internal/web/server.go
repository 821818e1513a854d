// Package web serves the status API, a websocket sentence stream and the
// Prometheus endpoint.
package web

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"
)

type Deps struct {
	Status  *Status
	Logs    *LogBuffer
	Hub     *Hub
	Metrics http.Handler
}

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus("")
	}
	status := d.Status
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/fix", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		snap, ok := status.Fix()
		if !ok {
			http.Error(w, "fix tracking disabled", http.StatusNotFound)
			return
		}
		writeJSON(w, snap)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		ok, problems := status.Healthy()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			for _, p := range problems {
				_, _ = fmt.Fprintln(w, p)
			}
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	if d.Hub != nil {
		mux.Handle("/api/stream", d.Hub)
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowGet(w, r) {
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>%s</title></head><body>", html.EscapeString(snap.Service))
		_, _ = fmt.Fprintf(w, "<h1>%s</h1><ul>", html.EscapeString(snap.Service))
		for _, s := range snap.Streams {
			_, _ = fmt.Fprintf(w, "<li>%s (%s %s): %s, sentences=%d decode_errors=%d checksum_failures=%d</li>",
				html.EscapeString(s.Name), html.EscapeString(s.Source), html.EscapeString(s.Target), html.EscapeString(s.State),
				s.Sentences, s.DecodeErrors, s.ChecksumFailures,
			)
		}
		_, _ = fmt.Fprintf(w, "</ul><p>See <a href=\"/api/status\">/api/status</a>, <a href=\"/api/logs?format=text\">/api/logs</a>.</p></body></html>")
	})

	return mux
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// Serve runs an HTTP server until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
