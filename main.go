package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dhcgn/mbox-contacts/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
