package main

import (
	"errors"
	"os"
)

// Exit codes.
const (
	exitUploadFailed = 1
	exitInterrupted  = 130
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Failed uploads were already reported per file.
		if errors.Is(err, errUploadFailed) {
			os.Exit(exitUploadFailed)
		}

		exitOnError(err)
	}
}
