// Package dispatch runs the outer loop: reload the configuration file
// when it changes, fan a goroutine out per feed group each tick, and
// drive the failure tracker and retention housekeeping.
package dispatch

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/failtrack"
	"github.com/feedrelay/feedrelay/internal/hashid"
	"github.com/feedrelay/feedrelay/internal/mailer"
	"github.com/feedrelay/feedrelay/internal/store"
	"github.com/feedrelay/feedrelay/internal/worker"
)

// tickInterval is how often the loop wakes up to re-check the config
// file and run any groups that have come due.
const tickInterval = 60 * time.Second

// failingThreshold is the fail_count at which a group is considered
// part of the "currently failing" set the tracker watches.
const failingThreshold = 2

// Loop owns one configuration path, one worker, and the failure
// tracker state across ticks.
type Loop struct {
	configPath string
	store      *store.Store
	worker     *worker.Worker
	mailer     *mailer.Mailer

	mu         sync.Mutex
	cfg        *config.Config
	cfgModTime time.Time
	tracker    *failtrack.Tracker
}

// New builds a Loop. Call Run to start it; Run blocks until ctx is
// canceled.
func New(configPath string, s *store.Store, w *worker.Worker, m *mailer.Mailer) *Loop {
	return &Loop{configPath: configPath, store: s, worker: w, mailer: m}
}

// Run loads the configuration once up front (a startup failure here
// is fatal and returned to the caller) then loops forever, ticking
// every tickInterval until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.reload(); err != nil {
		return err
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		l.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.maybeReload(); err != nil {
				log.Printf("dispatch: config reload failed, keeping previous configuration: %v", err)
			}
		}
	}
}

func (l *Loop) reload() error {
	info, err := os.Stat(l.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(l.configPath)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.cfgModTime = info.ModTime()
	l.tracker = failtrack.New(cfg.ErrorReportTo)
	l.mu.Unlock()
	log.Printf("dispatch: loaded %d feed group(s) from %s", len(cfg.Groups), l.configPath)
	return nil
}

func (l *Loop) maybeReload() error {
	info, err := os.Stat(l.configPath)
	if err != nil {
		return err
	}
	l.mu.Lock()
	changed := info.ModTime().After(l.cfgModTime)
	l.mu.Unlock()
	if !changed {
		return nil
	}
	return l.reload()
}

// Config returns the currently loaded configuration. It is safe to
// call concurrently with Run, and is handed to the admin surface as
// its ConfigSource so /status always reflects the latest reload.
func (l *Loop) Config() *config.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Loop) snapshot() (*config.Config, *failtrack.Tracker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg, l.tracker
}

func (l *Loop) tick(ctx context.Context) {
	cfg, tracker := l.snapshot()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for _, g := range cfg.Groups {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("dispatch: group %x panicked: %v", g.UrlsHash[:4], r)
				}
			}()
			if err := l.worker.Run(ctx, g, now); err != nil {
				log.Printf("dispatch: group %x failed: %v", g.UrlsHash[:4], err)
			}
		}()
	}
	wg.Wait()

	l.runFailureTracker(ctx, tracker, cfg)
	l.runHousekeeping(ctx, cfg, now)
}

func (l *Loop) runFailureTracker(ctx context.Context, tracker *failtrack.Tracker, cfg *config.Config) {
	failing, err := l.store.FailingGroups(ctx, failingThreshold)
	if err != nil {
		log.Printf("dispatch: failed to list failing groups: %v", err)
		return
	}
	// Match the failure rows back to the live config's groups: rows for
	// groups no longer configured are not part of the failing set.
	live := make(map[hashid.Digest]bool, len(cfg.Groups))
	for _, g := range cfg.Groups {
		live[g.UrlsHash] = true
	}
	matched := make([]store.Failure, 0, len(failing))
	for _, f := range failing {
		if live[f.URLsHash] {
			matched = append(matched, f)
		}
	}
	result := tracker.Tick(matched)
	if result.Action == failtrack.ActionNone {
		return
	}
	to := tracker.ReportTo()
	if !mailer.HasRecipients(to, nil, nil) {
		return
	}
	if err := l.mailer.Send(ctx, to, nil, nil, result.Subject, result.Body); err != nil {
		log.Printf("dispatch: failed to send failure-tracker mail: %v", err)
	}
}

func (l *Loop) runHousekeeping(ctx context.Context, cfg *config.Config, now time.Time) {
	longestRetention := time.Duration(0)
	for _, g := range cfg.Groups {
		if g.Settings.KeepOld > longestRetention {
			longestRetention = g.Settings.KeepOld
		}
	}
	if longestRetention == 0 {
		return
	}
	cutoff := store.SaturatingSub(now, longestRetention)
	if n, err := l.store.DeleteStaleGroups(ctx, cutoff); err != nil {
		log.Printf("dispatch: delete stale groups failed: %v", err)
	} else if n > 0 {
		log.Printf("dispatch: removed %d stale group(s)", n)
	}
	if n, err := l.store.DeleteStaleFailures(ctx, cutoff); err != nil {
		log.Printf("dispatch: delete stale failures failed: %v", err)
	} else if n > 0 {
		log.Printf("dispatch: removed %d stale failure record(s)", n)
	}
}
