package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metrico/chartql/reader/utils/logger"
)

// Pinger is anything able to tell whether the database answers.
type Pinger interface {
	Ping() error
}

// Watchdog pings the database in the background. Readiness fails once no ping succeeded for MaxSilence.
type Watchdog struct {
	pinger     Pinger
	interval   time.Duration
	maxSilence time.Duration

	mtx                 sync.Mutex
	failures            int
	lastSuccessfulCheck time.Time
}

func New(pinger Pinger, interval time.Duration, maxSilence time.Duration) *Watchdog {
	return &Watchdog{
		pinger:              pinger,
		interval:            interval,
		maxSilence:          maxSilence,
		lastSuccessfulCheck: time.Now(),
	}
}

// Run pings until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

func (w *Watchdog) checkOnce() {
	err := w.pinger.Ping()
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if err == nil {
		w.failures = 0
		w.lastSuccessfulCheck = time.Now()
		logger.Debug("---- WATCHDOG CHECK OK ----")
		return
	}
	w.failures++
	logger.Error("[CQW001] database not responding for ", w.failures, " checks: ", err)
}

func (w *Watchdog) Check() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.lastSuccessfulCheck.Add(w.maxSilence).After(time.Now()) {
		return nil
	}
	return fmt.Errorf("database not responding since %v", w.lastSuccessfulCheck)
}
