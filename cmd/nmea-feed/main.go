package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"nmea-feed/internal/config"
	"nmea-feed/internal/feed"
	"nmea-feed/internal/fix"
	"nmea-feed/internal/logging"
	"nmea-feed/internal/metrics"
	"nmea-feed/internal/natspub"
	"nmea-feed/internal/replay"
	"nmea-feed/internal/udp"
	"nmea-feed/internal/web"
)

const appName = "nmea-feed"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML or TOML config (optional)")
	device := fs.String("device", "", "Serial device; overrides the configured feed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *device)
	if err != nil {
		return err
	}

	var logs *web.LogBuffer
	var tee io.Writer
	if cfg.Web.Enable {
		logs = web.NewLogBuffer(cfg.Web.LogLines)
		tee = logs
	}
	logger, err := logging.New(logging.Config{
		App:    appName,
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    stderr,
		Tee:    tee,
	})
	if err != nil {
		return err
	}

	m := metrics.New()
	tracker := fix.NewTracker()
	hub := web.NewHub(logger)
	status := web.NewStatus(appName)
	outputs := map[string]any{}

	sinks := feed.MultiSink{feed.NewLogSink(logger, cfg.Log.Sentences), tracker}

	if cfg.UDP.Enable {
		fwd, err := udp.NewForwarder(cfg.UDP.Dest, udp.WithForwardInvalid(cfg.UDP.ForwardInvalid))
		if err != nil {
			return fmt.Errorf("udp forwarder init failed: %w", err)
		}
		defer fwd.Close()
		sinks = append(sinks, fwd)
		status.AddOutput("udp", func() any {
			return map[string]any{"dest": fwd.Dest(), "sent": fwd.Sent()}
		})
		logger.Info().Str("dest", fwd.Dest()).Msg("udp forwarding enabled")
	}

	if cfg.NATS.Enable {
		pub, err := natspub.New(ctx, natspub.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix, Name: appName}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn().Err(err).Msg("nats close failed")
			}
		}()
		sinks = append(sinks, pub)
		outputs["nats"] = map[string]string{"url": cfg.NATS.URL, "prefix": cfg.NATS.Prefix}
	}

	if cfg.Web.Enable {
		sinks = append(sinks, hub)
		status.AddOutput("websocket", func() any {
			return map[string]any{"clients": hub.Clients(), "dropped": hub.Dropped()}
		})
	}

	opts := []feed.Option{feed.WithMetrics(m), feed.WithLogger(logger)}
	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return fmt.Errorf("record init failed: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn().Err(err).Msg("record close failed")
			}
		}()
		opts = append(opts, feed.WithCapture(w))
		outputs["record"] = cfg.Record.Path
		logger.Info().Str("path", cfg.Record.Path).Msg("recording raw input")
	}

	svc, err := feed.New(feedConfig(cfg.Feed), sinks, opts...)
	if err != nil {
		return err
	}
	status.AddStream(svc)
	status.SetFix(tracker)
	status.SetOutputs(outputs)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snap := svc.Snapshot()
	logger.Info().Str("stream", snap.Name).Str("source", snap.Source).Str("target", snap.Target).Msg("nmea-feed starting")
	if err := svc.Start(runCtx); err != nil {
		return err
	}
	defer svc.Close()

	webErr := make(chan error, 1)
	if cfg.Web.Enable {
		h := web.Handler(web.Deps{Status: status, Logs: logs, Hub: hub, Metrics: m.Handler()})
		logger.Info().Str("listen", cfg.Web.Listen).Msg("web enabled")
		go func() {
			webErr <- web.Serve(runCtx, cfg.Web.Listen, h)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("nmea-feed stopping")
	case <-svc.Done():
		runErr = svc.Err()
	case err := <-webErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("web server failed: %w", err)
		}
	}

	svc.Close()
	hub.CloseAll()
	cancel()

	final := svc.Snapshot()
	logger.Info().
		Uint64("sentences", final.Sentences).
		Uint64("decode_errors", final.DecodeErrors).
		Uint64("checksum_failures", final.ChecksumFailures).
		Uint64("bytes", final.Bytes).
		Msg("nmea-feed stopped")
	return runErr
}

func loadConfig(path, device string) (config.Config, error) {
	cfg := config.Defaults()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if err := config.OverrideDevice(&cfg, device); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func feedConfig(f config.FeedConfig) feed.Config {
	speed := 0.0
	if f.Speed != nil {
		speed = *f.Speed
	}
	return feed.Config{
		Name:               f.Name,
		Source:             f.Source,
		Device:             f.Device,
		Baud:               f.Baud,
		Exclusive:          f.Exclusive,
		Addr:               f.Addr,
		DialTimeout:        f.DialTimeout,
		ReconnectDelay:     f.ReconnectDelay,
		MaxBackoff:         f.MaxBackoff,
		Path:               f.Path,
		Speed:              speed,
		Loop:               f.Loop,
		SuppressFirstError: f.SuppressFirstError != nil && *f.SuppressFirstError,
		ReadChunk:          f.ReadChunk,
	}
}
