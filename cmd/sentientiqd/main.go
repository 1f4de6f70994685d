// Command sentientiqd runs the pulse-engine telemetry → emotion →
// intervention pipeline: it ingests behavioral telemetry over HTTP,
// classifies emotional state per event, detects multi-step patterns,
// gates and dispatches interventions, and serves the WebSocket/SSE read
// surfaces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "sentientiqd",
		Short: "Behavioral telemetry, emotion diagnosis, and intervention dispatch engine",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newHealthcheckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsageError)
	}
}

// Exit codes follow the BSD sysexits.h convention: 0 success, 64 usage
// error, 69 service unavailable (dependency unreachable at startup), 74
// I/O error (config/log file problems).
const (
	exitOK           = 0
	exitUsageError   = 64
	exitUnavailable  = 69
	exitIOError      = 74
)
