package feed

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"nmea-feed/internal/nmea"
)

func TestMultiSink_DeliversToAllAndJoinsErrors(t *testing.T) {
	var calls []string
	errA := errors.New("a failed")
	ms := MultiSink{
		SinkFunc(func(context.Context, Result) error { calls = append(calls, "a"); return errA }),
		nil,
		SinkFunc(func(context.Context, Result) error { calls = append(calls, "b"); return nil }),
	}
	err := ms.Deliver(context.Background(), Result{})
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.NoError(t, MultiSink{}.Deliver(context.Background(), Result{}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	valid := true

	quiet := NewLogSink(logger, false)
	assert.NoError(t, quiet.Deliver(context.Background(), Result{Stream: "gps", Sentence: nmea.Sentence{Talker: "GP", Type: "GLL"}}))
	assert.Empty(t, buf.String())

	assert.NoError(t, quiet.Deliver(context.Background(), Result{Stream: "gps", Err: errors.New("invalid byte")}))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"error":"invalid byte"`)

	buf.Reset()
	loud := NewLogSink(logger, true)
	s := nmea.Sentence{Talker: "GP", Type: "GLL", Fields: []string{"1", ""}, Checksum: "1D", ChecksumValid: &valid}
	assert.NoError(t, loud.Deliver(context.Background(), Result{Stream: "gps", Sentence: s}))
	assert.Contains(t, buf.String(), `"talker":"GP"`)
	assert.Contains(t, buf.String(), `"fields":["1",""]`)
	assert.Contains(t, buf.String(), `"checksum_valid":true`)
}
