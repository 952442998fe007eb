//go:build !unix

package orchestrator

import "os"

// No graceful termination signal off unix; kill outright.
var termSignal os.Signal = os.Kill
