package nmea

import "fmt"

// State is a position in the sentence grammar.
type State uint8

const (
	StateStart State = iota
	StateTalker
	StateSentenceType
	StatePayload
	StateChecksum
	StateLineFeed
	StateInvalid
)

var stateNames = [...]string{
	StateStart:        "Start",
	StateTalker:       "Talker",
	StateSentenceType: "SentenceType",
	StatePayload:      "Payload",
	StateChecksum:     "Checksum",
	StateLineFeed:     "LineFeed",
	StateInvalid:      "Invalid",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Machine decodes one sentence at a time from individual bytes.
//
// Everything it accumulates for the in-flight sentence is dropped when the
// sentence terminates, successfully or not.
type Machine struct {
	state State

	sum     byte
	collect []byte
	count   int

	errText  string
	errState State

	cur Sentence
}

func NewMachine() *Machine {
	return &Machine{collect: make([]byte, 0, MaxSentenceLen)}
}

// State returns the current grammar position.
func (m *Machine) State() State {
	return m.state
}

// Count returns how many bytes of the in-flight sentence have been fed.
func (m *Machine) Count() int {
	return m.count
}

// Reset discards the in-flight sentence.
func (m *Machine) Reset() {
	m.state = StateStart
	m.sum = 0
	m.collect = m.collect[:0]
	m.count = 0
	m.errText = ""
	m.errState = StateStart
	m.cur = Sentence{}
}

// Feed processes one byte. done is true when the byte terminated a sentence
// attempt; err is then a *DecodeError if the sentence was malformed.
//
// A line feed always terminates the attempt. Exceeding MaxSentenceLen aborts
// it right away without waiting for the line feed.
func (m *Machine) Feed(b byte) (s Sentence, done bool, err error) {
	m.count++
	if m.count > MaxSentenceLen {
		msg := "message exceeds maximum length"
		if m.errText != "" {
			msg = m.errText + " + " + msg
		}
		derr := &DecodeError{Kind: KindTooLong, State: m.state, Msg: msg}
		m.Reset()
		return Sentence{}, true, derr
	}

	m.step(b)
	if b != LF {
		return Sentence{}, false, nil
	}

	if m.errText != "" {
		derr := &DecodeError{Kind: KindGrammar, State: m.errState, Msg: m.errText}
		m.Reset()
		return Sentence{}, true, derr
	}
	s = m.cur
	m.Reset()
	return s, true, nil
}

func (m *Machine) step(b byte) {
	if b == LF && m.state != StateLineFeed && m.state != StateInvalid {
		m.fail(b, "unexpected line feed")
		return
	}

	switch m.state {
	case StateStart:
		switch b {
		case LeadStandard:
			m.state = StateTalker
		case LeadEncapsulated:
			m.cur.Encapsulated = true
			m.state = StateTalker
		default:
			m.fail(b, "expected '$' or '!'")
		}

	case StateTalker:
		if !isUpper(b) {
			m.fail(b, "expected 'A'-'Z'")
			return
		}
		m.sum ^= b
		m.collect = append(m.collect, b)
		if len(m.collect) == 2 {
			m.cur.Talker = m.take()
			m.state = StateSentenceType
		}

	case StateSentenceType:
		switch {
		case isUpper(b) && len(m.collect) < 3:
			m.sum ^= b
			m.collect = append(m.collect, b)
		case b == FieldSeparator && len(m.collect) == 3:
			m.sum ^= b
			m.cur.Type = m.take()
			m.state = StatePayload
		case b == ChecksumMarker && len(m.collect) == 3:
			m.cur.Type = m.take()
			m.state = StateChecksum
		case len(m.collect) < 3:
			m.fail(b, "expected 'A'-'Z'")
		default:
			m.fail(b, "expected ',' or '*'")
		}

	case StatePayload:
		switch b {
		case FieldSeparator:
			m.sum ^= b
			m.cur.Fields = append(m.cur.Fields, m.take())
		case ChecksumMarker:
			m.cur.Fields = append(m.cur.Fields, m.take())
			m.state = StateChecksum
		case CR:
			m.cur.Fields = append(m.cur.Fields, m.take())
			m.state = StateLineFeed
		default:
			m.sum ^= b
			m.collect = append(m.collect, b)
		}

	case StateChecksum:
		switch {
		case isHex(b) && len(m.collect) < 2:
			m.collect = append(m.collect, b)
		case b == CR && len(m.collect) == 2:
			m.cur.Checksum = m.take()
			valid := FormatChecksum(m.sum) == m.cur.Checksum
			m.cur.ChecksumValid = &valid
			m.state = StateLineFeed
		case len(m.collect) < 2:
			m.fail(b, "expected hex digit")
		default:
			m.fail(b, "expected CR")
		}

	case StateLineFeed:
		if b == LF {
			m.state = StateStart
			return
		}
		m.fail(b, "expected line feed")

	case StateInvalid:
		// Absorbing until the next line feed.
	}
}

// fail records the first violation of the sentence and parks the machine in
// StateInvalid.
func (m *Machine) fail(b byte, expect string) {
	m.errText = fmt.Sprintf("invalid byte %s @%d in state %s, %s", describeByte(b), m.count, m.state, expect)
	m.errState = m.state
	m.state = StateInvalid
}

func (m *Machine) take() string {
	s := string(m.collect)
	m.collect = m.collect[:0]
	return s
}
