package nmea

import "fmt"

const (
	// MaxSentenceLen is the longest sentence accepted, lead byte through LF.
	MaxSentenceLen = 82

	LeadStandard     = '$'
	LeadEncapsulated = '!'
	FieldSeparator   = ','
	ChecksumMarker   = '*'
	CR               = '\r'
	LF               = '\n'
)

// Sentence is one decoded NMEA sentence.
type Sentence struct {
	Encapsulated bool     `json:"encapsulated"`
	Talker       string   `json:"talker"`
	Type         string   `json:"type"`
	Fields       []string `json:"fields"`

	// Checksum is the two hex digits read from the wire, empty when the
	// sentence carried no checksum field.
	Checksum string `json:"checksum,omitempty"`
	// ChecksumValid is nil when no checksum was present.
	ChecksumValid *bool `json:"checksum_valid,omitempty"`
}

// ID returns talker and type together, e.g. "GPGLL".
func (s Sentence) ID() string {
	return s.Talker + s.Type
}

// Valid reports whether the sentence carried a checksum and it matched.
func (s Sentence) Valid() bool {
	return s.ChecksumValid != nil && *s.ChecksumValid
}

// Checksum XORs every byte of payload.
func Checksum(payload []byte) byte {
	var ck byte
	for _, b := range payload {
		ck ^= b
	}
	return ck
}

// FormatChecksum renders ck the way it appears on the wire.
func FormatChecksum(ck byte) string {
	return fmt.Sprintf("%02X", ck)
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F')
}

// describeByte renders b as 0x41:'A', with control bytes shown as '.'.
func describeByte(b byte) string {
	c := b
	if b < 0x20 || b >= 0x7f {
		c = '.'
	}
	return fmt.Sprintf("0x%02X:'%c'", b, c)
}
