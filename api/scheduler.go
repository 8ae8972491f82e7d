/*
scheduler.go - Idle session reaper

PURPOSE:
  Periodically evicts assortment sessions nobody has touched for a while,
  so abandoned browser tabs do not keep their GRN state in memory forever.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A session is idle when its last user action is older than TTL
  - Sessions with a submission in flight are never evicted

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - TTL: Idle time before eviction (default: 2 hours)
  - Enabled: Whether the reaper is active (default: true)

USAGE:
  reaper := NewSessionReaper(handler.Sessions, logger)
  reaper.Start()
  // ... later
  reaper.Stop()

SEE ALSO:
  - sessions.go: SessionManager.Expire
*/
package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionReaper evicts idle sessions on a timer.
type SessionReaper struct {
	Sessions      *SessionManager
	CheckInterval time.Duration
	TTL           time.Duration
	Enabled       bool

	log    logrus.FieldLogger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionReaper creates a new reaper.
func NewSessionReaper(sessions *SessionManager, log logrus.FieldLogger) *SessionReaper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionReaper{
		Sessions:      sessions,
		CheckInterval: time.Minute,
		TTL:           2 * time.Hour,
		Enabled:       true,
		log:           log.WithField("module", "reaper"),
		now:           time.Now,
	}
}

// Start begins the reaper.
func (sr *SessionReaper) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled {
		sr.log.Info("session reaper disabled, not starting")
		return
	}
	if sr.ticker != nil {
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.stop = make(chan struct{})
	sr.wg.Add(1)

	go sr.run(sr.ticker, sr.stop)

	sr.log.WithFields(logrus.Fields{
		"interval": sr.CheckInterval.String(),
		"ttl":      sr.TTL.String(),
	}).Info("session reaper started")
}

// Stop stops the reaper.
func (sr *SessionReaper) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		sr.ticker.Stop()
		close(sr.stop)
		sr.wg.Wait()
		sr.ticker = nil
		sr.log.Info("session reaper stopped")
	}
}

func (sr *SessionReaper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sr.wg.Done()

	for {
		select {
		case <-ticker.C:
			sr.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow evicts idle sessions immediately and returns how many were removed.
func (sr *SessionReaper) RunNow() int {
	removed := sr.Sessions.Expire(sr.now().Add(-sr.TTL))
	if removed > 0 {
		sr.log.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": sr.Sessions.Len(),
		}).Info("evicted idle sessions")
	}
	return removed
}
