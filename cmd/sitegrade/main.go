package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var thresholdErr *thresholdError
		if errors.As(err, &thresholdErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
