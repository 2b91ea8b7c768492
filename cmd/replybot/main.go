package main

import (
	"os"

	"replybot/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args))
}
