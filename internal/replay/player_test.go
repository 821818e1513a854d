package replay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return nil
}

func readChunks(t *testing.T, r io.Reader, bufSize int) []string {
	t.Helper()
	buf := make([]byte, bufSize)
	var out []string
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, string(buf[:n]))
		}
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
}

func TestPlayer_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}
	chunks := []Chunk{
		{At: 1 * time.Second},
		{At: 1 * time.Second, Data: []byte("A")},
		{At: 1*time.Second + 100*time.Nanosecond, Data: []byte("B")},
		{At: 2 * time.Second},
		{At: 2*time.Second + 50*time.Nanosecond, Data: []byte("C")},
	}

	p, err := NewPlayer(context.Background(), chunks, 1.0, false, fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, readChunks(t, p, 64))
	assert.Equal(t, []time.Duration{100 * time.Nanosecond}, fs.slept)
}

func TestPlayer_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	chunks := []Chunk{
		{At: 0, Data: []byte{0x01}},
		{At: 100 * time.Nanosecond, Data: []byte{0x02}},
	}
	p, err := NewPlayer(context.Background(), chunks, 2.0, false, fs)
	require.NoError(t, err)
	readChunks(t, p, 8)
	assert.Equal(t, []time.Duration{50 * time.Nanosecond}, fs.slept)
}

func TestPlayer_NoPacingAtSpeedZero(t *testing.T) {
	fs := &fakeSleeper{}
	chunks := []Chunk{
		{At: 0, Data: []byte("a")},
		{At: time.Hour, Data: []byte("b")},
	}
	p, err := NewPlayer(context.Background(), chunks, 0, false, fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, readChunks(t, p, 8))
	assert.Empty(t, fs.slept)
}

func TestPlayer_SmallBufferSplitsChunk(t *testing.T) {
	chunks := []Chunk{{Data: []byte("abcde")}, {Data: []byte("f")}}
	p, err := NewPlayer(context.Background(), chunks, 0, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "cd", "e", "f"}, readChunks(t, p, 2))
}

func TestPlayer_LoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := NewPlayer(ctx, []Chunk{{Data: []byte("x")}}, 0, true, nil)
	require.NoError(t, err)

	buf := make([]byte, 4)
	for i := 0; i < 5; i++ {
		n, err := p.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "x", string(buf[:n]))
	}
	cancel()
	_, err = p.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPlayer_Validation(t *testing.T) {
	_, err := NewPlayer(context.Background(), []Chunk{{At: 0}}, 1, false, nil)
	assert.EqualError(t, err, "no chunks")

	_, err = NewPlayer(context.Background(), []Chunk{{Data: []byte("x")}}, -1, false, nil)
	assert.EqualError(t, err, "speed must be >= 0")
}
