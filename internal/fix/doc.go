// Package fix keeps the latest GNSS position reported by RMC and GGA
// sentences. A Tracker is a feed sink.
package fix
