// Command cp-whisperx is the thin operator-facing shell around the
// pipeline substrate: run a job, provision a user, inspect spend, and
// query glossary bias terms. It never implements ML/transcription logic
// itself (out of scope). This binary wires no stage executors, so "run"
// checks the job, profile, and budget and then stops with an
// internal-consistency error at the first stage that has no executor.
package main

import (
	"fmt"
	"os"

	"github.com/cp-whisperx/pipeline/cmd/cp-whisperx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
