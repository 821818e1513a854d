package feed

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLineFilter(t *testing.T) {
	in := `{"class":"VERSION","release":"3.25"}` + "\r\n" +
		gll +
		`{"class":"DEVICES","devices":[]}` + "\n" +
		rmc +
		"$GPGSV,partial"

	out, err := io.ReadAll(newJSONLineFilter(iotest.OneByteReader(strings.NewReader(in))))
	require.NoError(t, err)
	assert.Equal(t, gll+rmc+"$GPGSV,partial", string(out))
}

func TestJSONLineFilter_LongLines(t *testing.T) {
	longJSON := "{" + strings.Repeat("x", 9000) + "}\n"
	// A long non-JSON line whose continuation happens to start with '{'.
	longText := strings.Repeat("a", 4096) + "{still the same line}\n"

	out, err := io.ReadAll(newJSONLineFilter(strings.NewReader(longJSON + gll + longText)))
	require.NoError(t, err)
	assert.Equal(t, gll+longText, string(out))
}

func TestService_GPSDSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	watch := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write([]byte(`{"class":"VERSION","release":"3.25","proto_major":3}` + "\r\n"))
		line, _ := bufio.NewReader(c).ReadString('\n')
		watch <- line
		_, _ = c.Write([]byte(`{"class":"WATCH","enable":true,"nmea":true}` + "\r\n" + gll))
		<-release
	}()

	sink := newCollectSink()
	s, err := New(Config{Source: SourceGPSD, Addr: ln.Addr().String()}, sink)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	select {
	case line := <-watch:
		assert.Equal(t, gpsdWatchNMEA, line)
	case <-time.After(5 * time.Second):
		t.Fatal("no WATCH command received")
	}

	r := sink.next(t)
	require.NoError(t, r.Err)
	assert.Equal(t, "GLL", r.Sentence.Type)

	s.Close()
	assert.Len(t, sink.all(), 1)
	assert.Zero(t, s.Snapshot().DecodeErrors)
}

func TestNew_GPSDDefaultAddr(t *testing.T) {
	s, err := New(Config{Source: SourceGPSD}, newCollectSink())
	require.NoError(t, err)
	assert.Equal(t, DefaultGPSDAddr, s.Snapshot().Target)
}
