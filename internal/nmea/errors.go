package nmea

import "errors"

var (
	// ErrGrammar matches decode errors caused by an unexpected byte.
	ErrGrammar = errors.New("nmea: grammar violation")
	// ErrTooLong matches decode errors caused by exceeding MaxSentenceLen.
	ErrTooLong = errors.New("nmea: message exceeds maximum length")
)

type ErrorKind uint8

const (
	KindGrammar ErrorKind = iota + 1
	KindTooLong
)

func (k ErrorKind) String() string {
	switch k {
	case KindGrammar:
		return "grammar"
	case KindTooLong:
		return "too_long"
	default:
		return "unknown"
	}
}

// DecodeError describes why one sentence could not be decoded. The stream
// itself stays usable; decoding resumes with the next sentence.
type DecodeError struct {
	Kind ErrorKind
	// State is where the first violation happened.
	State State
	Msg   string
}

func (e *DecodeError) Error() string {
	return e.Msg
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrGrammar:
		return e.Kind == KindGrammar
	case ErrTooLong:
		return e.Kind == KindTooLong
	}
	return false
}
