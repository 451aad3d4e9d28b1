package main

import (
	"marketpulse/cmd/cmd"
	"marketpulse/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
