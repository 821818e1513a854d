package udp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"nmea-feed/internal/feed"
	"nmea-feed/internal/nmea"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func boolPtr(v bool) *bool { return &v }

func TestNewForwarder_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	resolve := func(network, address string) (*net.UDPAddr, error) {
		return net.ResolveUDPAddr(network, address)
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	f, err := newForwarder("127.0.0.1:10110", resolve, dial)
	if err != nil {
		t.Fatalf("newForwarder() error: %v", err)
	}
	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 10110 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:10110", gotRaddr)
	}
	if f.Dest() != "127.0.0.1:10110" {
		t.Fatalf("Dest()=%q want %q", f.Dest(), "127.0.0.1:10110")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fc.closed {
		t.Fatalf("expected conn closed")
	}
}

func TestNewForwarder_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newForwarder("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestForwarder_Send_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	f := &Forwarder{dest: "x", conn: fc}

	if err := f.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestForwarder_Deliver(t *testing.T) {
	raw := []byte("$GPGLL,4916.45,N,00042.25,W,225444.00,A*1D\r\n")
	good := feed.Result{Sentence: nmea.Sentence{Talker: "GP", Type: "GLL", ChecksumValid: boolPtr(true)}, Raw: raw}
	bad := feed.Result{Sentence: nmea.Sentence{Talker: "GP", Type: "GLL", ChecksumValid: boolPtr(false)}, Raw: raw}
	rejected := feed.Result{Raw: []byte("junk\r\n"), Err: errors.New("invalid byte")}

	fc := &fakeConn{}
	f := &Forwarder{dest: "x", conn: fc}
	for _, r := range []feed.Result{good, bad, rejected} {
		if err := f.Deliver(context.Background(), r); err != nil {
			t.Fatalf("Deliver() error: %v", err)
		}
	}
	if len(fc.writes) != 1 || string(fc.writes[0]) != string(raw) {
		t.Fatalf("writes=%q want one %q", fc.writes, raw)
	}
	if f.Sent() != 1 {
		t.Fatalf("Sent()=%d want 1", f.Sent())
	}

	WithForwardInvalid(true)(f)
	if err := f.Deliver(context.Background(), bad); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if len(fc.writes) != 2 {
		t.Fatalf("expected invalid checksum forwarded, got %d writes", len(fc.writes))
	}
}

func TestForwarder_Deliver_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	f := &Forwarder{dest: "x", conn: &fakeConn{writeErr: wantErr}}

	err := f.Deliver(context.Background(), feed.Result{Sentence: nmea.Sentence{ChecksumValid: boolPtr(true)}, Raw: []byte("$GPGLL*00\r\n")})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
	if f.Sent() != 0 {
		t.Fatalf("Sent()=%d want 0", f.Sent())
	}
}

func TestForwarder_Close_NilConnNoPanic(t *testing.T) {
	f := &Forwarder{}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestNewForwarder_Loopback(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	f, err := NewForwarder(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewForwarder() error: %v", err)
	}
	defer f.Close()

	raw := []byte("$GPGLL,4916.45,N,00042.25,W,225444.00,A*1D\r\n")
	if err := f.Send(raw); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error: %v", err)
	}
	if string(buf[:n]) != string(raw) {
		t.Fatalf("got %q want %q", buf[:n], raw)
	}
}
