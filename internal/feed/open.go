package feed

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"nmea-feed/internal/replay"
	"nmea-feed/internal/serial"
)

// Opener opens the byte source for one connection attempt.
type Opener func(ctx context.Context) (io.ReadCloser, error)

func defaultOpener(cfg Config) (Opener, error) {
	switch cfg.Source {
	case SourceSerial:
		return func(context.Context) (io.ReadCloser, error) {
			f, err := serial.Open(cfg.Device, cfg.Baud, cfg.Exclusive)
			if err != nil {
				return nil, err
			}
			return f, nil
		}, nil

	case SourceTCP:
		d := &net.Dialer{Timeout: cfg.DialTimeout}
		return func(ctx context.Context) (io.ReadCloser, error) {
			return d.DialContext(ctx, "tcp", cfg.Addr)
		}, nil

	case SourceGPSD:
		return func(ctx context.Context) (io.ReadCloser, error) {
			return dialGPSD(ctx, cfg.Addr, cfg.DialTimeout)
		}, nil

	case SourceFile:
		return func(context.Context) (io.ReadCloser, error) {
			f, err := os.Open(cfg.Path)
			if err != nil {
				return nil, err
			}
			return f, nil
		}, nil

	case SourceReplay:
		return func(ctx context.Context) (io.ReadCloser, error) {
			chunks, err := replay.LoadFile(cfg.Path)
			if err != nil {
				return nil, err
			}
			p, err := replay.NewPlayer(ctx, chunks, cfg.Speed, cfg.Loop, nil)
			if err != nil {
				return nil, fmt.Errorf("replay %s: %w", cfg.Path, err)
			}
			return io.NopCloser(p), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
	}
}
