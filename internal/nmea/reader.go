package nmea

import "io"

const readChunk = 512

// Reader decodes sentences from an io.Reader.
type Reader struct {
	r     io.Reader
	f     *Framer
	chunk []byte
	err   error
}

func NewReader(r io.Reader, opts ...FramerOption) *Reader {
	return &Reader{r: r, f: NewFramer(opts...), chunk: make([]byte, readChunk)}
}

// Next returns the next terminated sentence and its raw bytes.
//
// A malformed sentence yields a *DecodeError and the Reader stays usable.
// Any other error comes from the underlying reader (io.EOF included) and is
// returned for every later call; a trailing partial sentence is dropped.
func (r *Reader) Next() (Sentence, []byte, error) {
	for {
		if s, ok, err := r.f.Next(); ok {
			return s, r.f.Raw(), err
		}
		if r.err != nil {
			return Sentence{}, nil, r.err
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			_, _ = r.f.Write(r.chunk[:n])
		}
		if err != nil {
			r.err = err
		}
	}
}
