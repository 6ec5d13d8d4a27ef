package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		switch {
		case errors.Is(err, errReported):
			os.Exit(2)
		case errors.Is(err, context.Canceled):
		default:
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
