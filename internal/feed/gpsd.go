package feed

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

const DefaultGPSDAddr = "127.0.0.1:2947"

// gpsdWatchNMEA asks gpsd to relay the receiver's sentences verbatim.
const gpsdWatchNMEA = "?WATCH={\"enable\":true,\"json\":false,\"nmea\":true}\n"

func dialGPSD(ctx context.Context, addr string, timeout time.Duration) (io.ReadCloser, error) {
	if strings.TrimSpace(addr) == "" {
		addr = DefaultGPSDAddr
	}
	d := &net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(gpsdWatchNMEA)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &gpsdConn{Conn: conn, r: newJSONLineFilter(conn)}, nil
}

type gpsdConn struct {
	net.Conn
	r io.Reader
}

func (c *gpsdConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// jsonLineFilter drops the JSON report lines gpsd interleaves with the
// relayed sentences (VERSION, DEVICES, WATCH).
type jsonLineFilter struct {
	br       *bufio.Reader
	midLine  bool
	dropping bool
	pending  []byte
}

func newJSONLineFilter(r io.Reader) *jsonLineFilter {
	return &jsonLineFilter{br: bufio.NewReaderSize(r, 4096)}
}

func (f *jsonLineFilter) Read(p []byte) (int, error) {
	for len(f.pending) == 0 {
		line, err := f.br.ReadSlice('\n')
		if len(line) > 0 {
			if !f.midLine {
				f.dropping = line[0] == '{'
			}
			if !f.dropping {
				f.pending = append(f.pending[:0], line...)
			}
			f.midLine = err != nil
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			if len(f.pending) > 0 {
				break
			}
			return 0, err
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}
