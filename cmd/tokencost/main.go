package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/AbdullahTarakji/tokencost/cmd/tokencost/cmd"
)

func main() {
	// Optional .env for local overrides; absence is not an error.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
