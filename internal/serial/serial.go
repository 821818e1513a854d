// Package serial opens NMEA serial devices in raw mode.
package serial

import (
	"fmt"
	"os"
)

const (
	DefaultDevice = "/dev/ttyUSB0"
	DefaultBaud   = 4800
)

// AutoDetect returns the first USB serial device present, or "".
func AutoDetect() string {
	return autoDetect(func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
}

func autoDetect(exists func(string) bool) string {
	candidates := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for _, p := range candidates {
		if exists(p) {
			return p
		}
	}
	return ""
}
