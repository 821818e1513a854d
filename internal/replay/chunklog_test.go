package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, 2447
10, 50 47
`)

	chunks, err := NewReader(in).ReadAll()
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Nil(t, chunks[0].Data, "START marker")
	assert.Equal(t, []byte("$G"), chunks[1].Data)
	assert.Equal(t, 10*time.Nanosecond, chunks[2].At)
	assert.Equal(t, []byte("PG"), chunks[2].Data)
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := map[string]string{
		"MissingComma":      "not-a-valid-line\n",
		"EmptyField":        "10,\n",
		"BadTimestamp":      "abc,24\n",
		"NegativeTimestamp": "-5,24\n",
		"BadHex":            "5,zz\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(in)).ReadAll()
			assert.Error(t, err)
		})
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	w, err := CreateWriter(path)
	require.NoError(t, err)
	w.start = time.Unix(0, 0)

	require.NoError(t, w.WriteChunk(time.Unix(0, 20), []byte("$G")))
	require.NoError(t, w.WriteChunk(time.Unix(0, 30), nil))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.WriteChunk(time.Unix(0, 40), []byte("x")))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "START\n20,2447\n", string(b))
}

func TestRecorder_KeepsReadBoundaries(t *testing.T) {
	var buf bytes.Buffer
	start := time.Unix(100, 0)
	w, err := NewWriter(&buf, start)
	require.NoError(t, err)

	src := iotest.OneByteReader(strings.NewReader("$GP"))
	rec := NewRecorder(src, w)
	tick := start
	rec.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}

	out := make([]byte, 16)
	var got []byte
	for {
		n, err := rec.Read(out)
		got = append(got, out[:n]...)
		if err != nil {
			break
		}
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, "$GP", string(got))

	chunks, err := NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, []byte("$"), chunks[1].Data)
	assert.Equal(t, time.Millisecond, chunks[1].At)
	assert.Equal(t, []byte("P"), chunks[3].Data)
	assert.Equal(t, 3*time.Millisecond, chunks[3].At)
	assert.NoError(t, rec.Close())
}

func TestLoadFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	w, err := CreateWriter(path)
	require.NoError(t, err)

	now := time.Now()
	in := []string{"$GPGLL,49", "16.45,N*00\r", "\n"}
	for _, c := range in {
		require.NoError(t, w.WriteChunk(now, []byte(c)))
	}
	require.NoError(t, w.Close())

	chunks, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, chunks, len(in)+1)
	for i, c := range in {
		assert.Equal(t, c, string(chunks[i+1].Data))
	}
}
