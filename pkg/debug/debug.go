// Package debug provides global debug logging flags
package debug

import (
	"fmt"
	"io"
	"os"
)

// Enabled controls whether debug logging is active
var Enabled bool

// Frames controls whether a metrics line is printed for every frame.
// Use -debug-frames to enable; at camera rates this is very verbose.
var Frames bool

// Output receives all debug lines.
var Output io.Writer = os.Stderr

// Log prints a message only if debug mode is enabled
func Log(format string, args ...interface{}) {
	if Enabled {
		fmt.Fprintf(Output, format, args...)
	}
}

// Logln prints a message with newline only if debug mode is enabled
func Logln(msg string) {
	if Enabled {
		fmt.Fprintln(Output, msg)
	}
}

// FrameLog prints one per-frame line only if frame debugging is enabled
func FrameLog(seq uint64, density float64, lines int, detected bool) {
	if Frames {
		fmt.Fprintf(Output, "frame %6d  density=%.4f  lines=%3d  detected=%v\n", seq, density, lines, detected)
	}
}
