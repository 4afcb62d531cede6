package main

import (
	cmd "github.com/crawlstack/crawlgraph/internal/cli"
)

func main() {
	cmd.Execute()
}
