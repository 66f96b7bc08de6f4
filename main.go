package main

import (
	"fear-greed-watch/internal/cli"
)

func main() {
	cli.Execute()
}
