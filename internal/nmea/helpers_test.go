package nmea

import (
	"fmt"
	"strings"
)

const gllExample = "$GPGLL,4916.45,N,00042.25,W,225444.00,A*1D\r\n"

// wire renders payload as a complete sentence with a correct checksum.
func wire(lead byte, payload string) string {
	return fmt.Sprintf("%c%s*%02X\r\n", lead, payload, Checksum([]byte(payload)))
}

// padded returns a checksummed "$GPTXT,..." sentence of exactly n bytes.
func padded(n int) string {
	// lead + "GPTXT," + filler + "*XX\r\n"
	filler := n - 1 - len("GPTXT,") - 5
	return wire('$', "GPTXT,"+strings.Repeat("A", filler))
}

type outcome struct {
	Sentence Sentence
	Err      string
}

func feedAll(m *Machine, data string) []outcome {
	var out []outcome
	for i := 0; i < len(data); i++ {
		s, done, err := m.Feed(data[i])
		if !done {
			continue
		}
		if err != nil {
			out = append(out, outcome{Err: err.Error()})
			continue
		}
		out = append(out, outcome{Sentence: s})
	}
	return out
}

func boolPtr(v bool) *bool {
	return &v
}
