// Package udp relays raw NMEA sentences to a UDP listener such as a chart
// plotter.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"nmea-feed/internal/feed"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

type Option func(*Forwarder)

// WithForwardInvalid also forwards sentences whose checksum did not match.
func WithForwardInvalid(v bool) Option {
	return func(f *Forwarder) {
		f.forwardInvalid = v
	}
}

type Forwarder struct {
	dest           string
	conn           udpConn
	forwardInvalid bool

	sent atomic.Uint64
}

var _ feed.Sink = (*Forwarder)(nil)

func NewForwarder(dest string, opts ...Option) (*Forwarder, error) {
	return newForwarder(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		// DialUDP selects a suitable local address automatically.
		return net.DialUDP(network, laddr, raddr)
	}, opts...)
}

func newForwarder(dest string, resolve resolveFunc, dial dialFunc, opts ...Option) (*Forwarder, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	f := &Forwarder{dest: dest, conn: conn}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Forwarder) Dest() string {
	return f.dest
}

// Sent returns how many datagrams were written.
func (f *Forwarder) Sent() uint64 {
	return f.sent.Load()
}

func (f *Forwarder) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := f.conn.Write(payload); err != nil {
		return err
	}
	f.sent.Add(1)
	return nil
}

// Deliver sends one datagram per decoded sentence, exactly as received.
func (f *Forwarder) Deliver(_ context.Context, r feed.Result) error {
	if !r.OK() {
		return nil
	}
	if !f.forwardInvalid && !r.Sentence.Valid() {
		return nil
	}
	if err := f.Send(r.Raw); err != nil {
		return fmt.Errorf("udp forward %s: %w", f.dest, err)
	}
	return nil
}

func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Close()
}
