package steprunner

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrNoOutputTimeout is the cause a run step is cancelled with when it stays
// silent for longer than its no-output timeout.
var ErrNoOutputTimeout = errors.New("no output timeout")

// watchdog cancels a step when nothing is written to it for timeout.
type watchdog struct {
	w       io.Writer
	timeout time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func startWatchdog(w io.Writer, timeout time.Duration, cancel context.CancelCauseFunc) *watchdog {
	wd := &watchdog{w: w, timeout: timeout}
	wd.timer = time.AfterFunc(timeout, func() { cancel(ErrNoOutputTimeout) })
	return wd
}

func (wd *watchdog) Write(p []byte) (int, error) {
	if len(p) > 0 {
		wd.mu.Lock()
		wd.timer.Reset(wd.timeout)
		wd.mu.Unlock()
	}
	return wd.w.Write(p)
}

func (wd *watchdog) Stop() {
	wd.mu.Lock()
	wd.timer.Stop()
	wd.mu.Unlock()
}
