package main

import "github.com/animus-coder/testpilot/internal/cli"

func main() {
	cli.Execute()
}
