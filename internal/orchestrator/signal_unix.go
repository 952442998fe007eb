//go:build unix

package orchestrator

import (
	"os"
	"syscall"
)

// termSignal asks the scraper to wind down; WaitDelay hard-kills stragglers.
var termSignal os.Signal = syscall.SIGTERM
