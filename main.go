package main

import (
	"os"

	"github.com/AnyUserName/tilesched/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
