package main

import (
	"os"

	"chatique/cmd/chatique/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
