package replay

import (
	"context"
	"errors"
	"io"
	"time"
)

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Player is an io.Reader that returns captured chunks with their relative
// timing. Each Read returns bytes from at most one chunk, so the consumer
// sees the original read boundaries whenever its buffer is large enough.
//
// speed: 1.0 = real time, 2.0 = twice as fast, 0 = no pacing.
type Player struct {
	ctx     context.Context
	chunks  []Chunk
	speed   float64
	loop    bool
	sleeper Sleeper

	idx      int
	pending  []byte
	origin   time.Duration
	lastAt   time.Duration
	haveLast bool
}

func NewPlayer(ctx context.Context, chunks []Chunk, speed float64, loop bool, sleeper Sleeper) (*Player, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	if speed < 0 {
		return nil, errors.New("speed must be >= 0")
	}
	hasData := false
	for _, c := range chunks {
		if c.Data != nil {
			hasData = true
			break
		}
	}
	if !hasData {
		return nil, errors.New("no chunks")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	return &Player{ctx: ctx, chunks: chunks, speed: speed, loop: loop, sleeper: sleeper}, nil
}

func (p *Player) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p.pending) == 0 {
		data, err := p.nextChunk()
		if err != nil {
			return 0, err
		}
		p.pending = data
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *Player) nextChunk() ([]byte, error) {
	for {
		if p.idx >= len(p.chunks) {
			if !p.loop {
				return nil, io.EOF
			}
			p.idx = 0
			p.origin = 0
			p.haveLast = false
		}
		c := p.chunks[p.idx]
		p.idx++
		if c.Data == nil {
			p.origin = c.At
			p.lastAt = 0
			p.haveLast = false
			continue
		}

		at := c.At - p.origin
		if at < 0 {
			at = 0
		}
		if p.haveLast && p.speed > 0 {
			wait := time.Duration(float64(at-p.lastAt) / p.speed)
			if wait > 0 {
				if err := p.sleeper.Sleep(p.ctx, wait); err != nil {
					return nil, err
				}
			}
		}
		p.lastAt = at
		p.haveLast = true
		return c.Data, nil
	}
}
