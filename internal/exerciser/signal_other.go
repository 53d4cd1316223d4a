//go:build !unix

package exerciser

import "os"

var (
	pauseSignal  os.Signal
	resumeSignal os.Signal
)
