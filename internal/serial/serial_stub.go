//go:build !linux

package serial

import (
	"fmt"
	"os"
)

func Open(path string, baud int, exclusive bool) (*os.File, error) {
	return nil, fmt.Errorf("serial: not supported on this platform")
}
