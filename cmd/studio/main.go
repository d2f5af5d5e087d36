// Studio is a multi-tenant gateway that fronts AI providers behind a
// single authenticated API with per-user rate limits and spend caps.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// Local development keys live in .env; absence is fine in production.
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/studio.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("studio", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
