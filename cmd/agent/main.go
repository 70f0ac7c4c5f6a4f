// Command agent runs the single-symbol spot-market trading agent.
package main

import (
	"fmt"
	"os"

	"binance-trading-bot/config"
	"binance-trading-bot/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	os.Exit(supervisor.Run(cfg))
}
