package main

import (
	"log/slog"

	"github.com/BioHazard786/shuffle/internal/logging"
)

func main() {
	// The chat screen owns the terminal, so only errors are logged by default.
	logging.Init(slog.LevelError)
	Execute()
}
