// Package nmea decodes NMEA 0183 sentences from an arbitrarily chunked byte
// stream.
//
// Machine is the byte-at-a-time decoder. Framer buffers transport reads and
// drives a Machine so that bytes are processed exactly once no matter how the
// stream is split across reads. Reader adapts an io.Reader to a sequence of
// decoded sentences.
//
// Decoding is receive-only; there is no sentence encoder.
package nmea
