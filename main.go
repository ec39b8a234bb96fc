package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hamychatgpt/Rasad-v2/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rasad:", err)
		os.Exit(1)
	}
}
