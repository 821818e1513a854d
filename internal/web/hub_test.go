package web

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nmea-feed/internal/feed"
	"nmea-feed/internal/nmea"
)

func TestHub_FilterAndDrop(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx := context.Background()

	allID, all := h.Subscribe(1, Filter{})
	_, gp := h.Subscribe(8, Filter{Talker: "GP", NoErrors: true})
	assert.Equal(t, 2, h.Clients())

	gll := feed.Result{Stream: "s", Sentence: nmea.Sentence{Talker: "GP", Type: "GLL"}}
	ais := feed.Result{Stream: "s", Sentence: nmea.Sentence{Encapsulated: true, Talker: "AI", Type: "VDM"}}
	bad := feed.Result{Stream: "s", Err: errors.New("invalid byte")}
	for _, r := range []feed.Result{gll, ais, bad} {
		require.NoError(t, h.Deliver(ctx, r))
	}

	// The unfiltered subscriber has room for one event only.
	ev := <-all
	assert.Equal(t, "GLL", ev.Sentence.Type)
	assert.Equal(t, uint64(2), h.Dropped())

	require.Len(t, gp, 1)
	ev = <-gp
	assert.Equal(t, "GP", ev.Sentence.Talker)

	h.Unsubscribe(allID)
	_, open := <-all
	assert.False(t, open)
	h.Unsubscribe(allID)
	assert.Equal(t, 1, h.Clients())
}

func TestFilter_Match(t *testing.T) {
	errEv := Event{Error: "x"}
	assert.True(t, Filter{}.match(errEv))
	assert.False(t, Filter{NoErrors: true}.match(errEv))
	assert.False(t, Filter{Type: "GGA"}.match(errEv))

	gga := Event{OK: true, Sentence: &nmea.Sentence{Talker: "GN", Type: "GGA"}}
	assert.True(t, Filter{Type: "GGA"}.match(gga))
	assert.False(t, Filter{Talker: "GP"}.match(gga))
}
