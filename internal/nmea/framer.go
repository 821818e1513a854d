package nmea

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithSuppressFirstError drops the first terminated result if it is an error.
// A reader attached to a live transport usually starts mid-sentence, so that
// first result is a fragment rather than a real fault. A first success is
// always returned, and suppression never applies after the first result.
func WithSuppressFirstError(v bool) FramerOption {
	return func(f *Framer) {
		f.suppressFirst = v
	}
}

// Framer turns arbitrarily chunked input into decoded sentences.
//
// The buffer always starts at the first byte of the in-flight sentence, and
// the Machine has already seen the first Count() bytes of it, so scanning
// resumes there instead of re-feeding them.
type Framer struct {
	m   *Machine
	buf []byte
	raw []byte

	suppressFirst bool
	seenFirst     bool
}

func NewFramer(opts ...FramerOption) *Framer {
	f := &Framer{
		m:   NewMachine(),
		buf: make([]byte, 0, 2*MaxSentenceLen),
		raw: make([]byte, 0, MaxSentenceLen),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Write appends transport bytes. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Next returns the next terminated sentence. ok is false when the buffered
// bytes end mid-sentence; call again after writing more. When ok is true and
// err is non-nil the sentence was malformed and err is a *DecodeError.
func (f *Framer) Next() (s Sentence, ok bool, err error) {
scan:
	for {
		for i := f.m.Count(); i < len(f.buf); i++ {
			got, done, derr := f.m.Feed(f.buf[i])
			if !done {
				continue
			}
			f.raw = append(f.raw[:0], f.buf[:i+1]...)
			f.consume(i + 1)

			first := !f.seenFirst
			f.seenFirst = true
			if derr != nil && first && f.suppressFirst {
				continue scan
			}
			return got, true, derr
		}
		return Sentence{}, false, nil
	}
}

// Raw returns a copy of the bytes of the most recently terminated sentence.
func (f *Framer) Raw() []byte {
	return append([]byte(nil), f.raw...)
}

// Buffered returns the number of bytes retained for the in-flight sentence.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops buffered bytes and the in-flight sentence, e.g. after the
// transport reconnects. Suppression state is kept.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.raw = f.raw[:0]
	f.m.Reset()
}

func (f *Framer) consume(n int) {
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}
