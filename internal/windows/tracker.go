// Package windows tracks the UI windows a frontend reports through
// window_state_change calls.
//
// The Tracker keeps an in-memory registry keyed by window ID. Frontends
// announce windows with a "created" action and then report focus, size and
// close transitions. A background reaper evicts windows whose frontend went
// away without sending "closed".
package windows

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Window actions accepted by Apply.
const (
	ActionCreated   = "created"
	ActionFocused   = "focused"
	ActionBlurred   = "blurred"
	ActionMinimized = "minimized"
	ActionRestored  = "restored"
	ActionMaximized = "maximized"
	ActionClosed    = "closed"
)

// ErrMissingField is returned when a state change lacks an id or action.
var ErrMissingField = errors.New("window state change requires id and action")

// StateChange is the payload of a window_state_change call.
type StateChange struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Title  string `json:"windowTitle,omitempty"`
}

// Info is a snapshot of one tracked window.
type Info struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Focused      bool      `json:"focused"`
	Minimized    bool      `json:"minimized"`
	Maximized    bool      `json:"maximized"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Status is a one-word summary used by CLI listings.
func (i Info) Status() string {
	switch {
	case i.Focused:
		return "FOCUSED"
	case i.Minimized:
		return "MINIMIZED"
	case i.Maximized:
		return "MAXIMIZED"
	default:
		return "ACTIVE"
	}
}

// ReaperConfig configures the background stale-window reaper.
type ReaperConfig struct {
	// IdleThreshold is how long a window may go without activity before it
	// is evicted. Default: 30 minutes.
	IdleThreshold time.Duration

	// SweepInterval is how often the reaper scans. Default: 60 seconds.
	SweepInterval time.Duration

	// OnEvict is called outside the lock for each evicted window.
	OnEvict func(Info)
}

// Tracker maintains the window registry.
type Tracker struct {
	mu      sync.RWMutex
	windows map[string]*Info
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		windows: make(map[string]*Info),
		now:     time.Now,
	}
}

// ApplyJSON decodes a raw window_state_change payload and applies it.
func (t *Tracker) ApplyJSON(payload json.RawMessage) error {
	var sc StateChange
	if err := json.Unmarshal(payload, &sc); err != nil {
		return fmt.Errorf("decode window state change: %w", err)
	}
	return t.Apply(sc)
}

// Apply updates the registry for one state change. Actions on unknown
// windows and unknown actions are logged and otherwise ignored.
func (t *Tracker) Apply(sc StateChange) error {
	if sc.ID == "" || sc.Action == "" {
		return ErrMissingField
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if sc.Action == ActionCreated {
		if sc.Title == "" {
			slog.Debug("windows: created without title, ignoring", "id", sc.ID)
			return nil
		}
		t.windows[sc.ID] = &Info{ID: sc.ID, Title: sc.Title, CreatedAt: now, LastActivity: now}
		slog.Info("windows: registered", "id", sc.ID, "title", sc.Title)
		return nil
	}

	w, ok := t.windows[sc.ID]
	if !ok {
		slog.Warn("windows: state change for unknown window", "id", sc.ID, "action", sc.Action)
		return nil
	}

	switch sc.Action {
	case ActionFocused:
		w.Focused = true
	case ActionBlurred:
		w.Focused = false
	case ActionMinimized:
		w.Minimized = true
		w.Focused = false
	case ActionRestored:
		w.Minimized = false
	case ActionMaximized:
		w.Maximized = true
	case ActionClosed:
		delete(t.windows, sc.ID)
		slog.Info("windows: closed", "id", sc.ID, "title", w.Title)
		return nil
	default:
		slog.Debug("windows: unknown action", "id", sc.ID, "action", sc.Action)
		return nil
	}
	w.LastActivity = now
	slog.Info("windows: "+sc.Action, "id", sc.ID, "title", w.Title)
	return nil
}

// Get returns the window with the given ID.
func (t *Tracker) Get(id string) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[id]
	if !ok {
		return Info{}, false
	}
	return *w, true
}

// Focused returns the focused window, if any.
func (t *Tracker) Focused() (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, w := range t.windows {
		if w.Focused {
			return *w, true
		}
	}
	return Info{}, false
}

// Windows returns a snapshot of all tracked windows, most recently active first.
func (t *Tracker) Windows() []Info {
	t.mu.RLock()
	out := make([]Info, 0, len(t.windows))
	for _, w := range t.windows {
		out = append(out, *w)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// StartReaper launches a background goroutine that evicts stale windows.
// Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})
	go t.reapLoop(cfg)
	slog.Info("windows: reaper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var evicted []Info

	t.mu.Lock()
	for id, w := range t.windows {
		if now.Sub(w.LastActivity) > cfg.IdleThreshold {
			evicted = append(evicted, *w)
			delete(t.windows, id)
		}
	}
	t.mu.Unlock()

	for _, w := range evicted {
		slog.Info("windows: reaper evicted stale window",
			"id", w.ID, "title", w.Title, "threshold", cfg.IdleThreshold)
		if cfg.OnEvict != nil {
			cfg.OnEvict(w)
		}
	}
}
