package config

import (
	"fmt"
	"io"
	"os"
)

// Verbose enables debug output when true
var Verbose bool

// DebugOutput receives Debugf output. The TUI points it at the log file.
var DebugOutput io.Writer = os.Stdout

// Debugf prints debug messages when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		fmt.Fprintf(DebugOutput, "[DEBUG] "+format+"\n", args...)
	}
}
