package main

import (
	"log/slog"

	"github.com/candrapwr/meet-datasiber/cmd"
	"github.com/candrapwr/meet-datasiber/internal/logging"
)

func main() {
	// Logs go to stderr and must stay quiet by default so the conference view stays readable.
	logging.Init(slog.LevelError)
	cmd.Execute()
}
