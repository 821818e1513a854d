package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nmea-feed/internal/feed"
	"nmea-feed/internal/nmea"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs       []published
	publishErr error
	flushed    bool
	drained    bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.msgs = append(c.msgs, published{subject, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) FlushTimeout(time.Duration) error {
	c.flushed = true
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestPublisher_DeliverSentence(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "boat", zerolog.Nop())
	valid := true
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := p.Deliver(context.Background(), feed.Result{
		Stream:   "gps",
		At:       at,
		Sentence: nmea.Sentence{Talker: "GP", Type: "GLL", Fields: []string{"4916.45", "N"}, Checksum: "1D", ChecksumValid: &valid},
		Raw:      []byte("$GPGLL,4916.45,N*1D\r\n"),
	})
	require.NoError(t, err)
	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "boat.GP.GLL", fc.msgs[0].subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.msgs[0].data, &got))
	assert.Equal(t, "gps", got["stream"])
	assert.Equal(t, "GP", got["talker"])
	assert.Equal(t, "GLL", got["type"])
	assert.Equal(t, []any{"4916.45", "N"}, got["fields"])
	assert.Equal(t, true, got["checksum_valid"])
	assert.Equal(t, "2024-05-01T10:00:00Z", got["at"])
	assert.Equal(t, "$GPGLL,4916.45,N*1D\r\n", got["raw"])
}

func TestPublisher_DeliverError(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "nmea", zerolog.Nop())

	derr := &nmea.DecodeError{Kind: nmea.KindTooLong, Msg: "message exceeds maximum length"}
	require.NoError(t, p.Deliver(context.Background(), feed.Result{Stream: "ais", Err: derr}))
	require.NoError(t, p.Deliver(context.Background(), feed.Result{Stream: "ais", Err: errors.New("other")}))

	require.Len(t, fc.msgs, 2)
	assert.Equal(t, "nmea.errors", fc.msgs[0].subject)

	var msg ErrorMessage
	require.NoError(t, json.Unmarshal(fc.msgs[0].data, &msg))
	assert.Equal(t, "too_long", msg.Kind)
	assert.Equal(t, "message exceeds maximum length", msg.Error)
	assert.Equal(t, "ais", msg.Stream)

	require.NoError(t, json.Unmarshal(fc.msgs[1].data, &msg))
	assert.Equal(t, "unknown", msg.Kind)
}

func TestPublisher_PublishErrorWrapped(t *testing.T) {
	boom := errors.New("connection closed")
	p := newPublisher(&fakeConn{publishErr: boom}, "nmea", zerolog.Nop())

	err := p.Deliver(context.Background(), feed.Result{Sentence: nmea.Sentence{Talker: "GP", Type: "RMC"}})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "nmea.GP.RMC")
}

func TestPublisher_CloseFlushesAndDrains(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "nmea", zerolog.Nop())
	require.NoError(t, p.Close())
	assert.True(t, fc.flushed)
	assert.True(t, fc.drained)

	var nilP *Publisher
	assert.NoError(t, nilP.Close())
}

func TestCleanPrefix(t *testing.T) {
	got, err := cleanPrefix("")
	require.NoError(t, err)
	assert.Equal(t, "nmea", got)

	got, err = cleanPrefix(" vessel.nav. ")
	require.NoError(t, err)
	assert.Equal(t, "vessel.nav", got)

	_, err = cleanPrefix("nmea.>")
	assert.Error(t, err)
}

func TestNew_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing listens on port 1; either the dial fails or the context wins.
	_, err := New(ctx, Config{URL: "nats://127.0.0.1:1", Timeout: 100 * time.Millisecond}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_RejectsBadPrefix(t *testing.T) {
	_, err := New(context.Background(), Config{Prefix: "a b"}, zerolog.Nop())
	assert.EqualError(t, err, `nats prefix "a b" contains wildcard or whitespace`)
}
