// Package executor runs the named function calls that clients send over the
// relay and produces their JSON results.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/relay/internal/store"
	"github.com/alfredjeanlab/relay/internal/windows"
)

// ErrNotInitialized is reported when a command needs the store before
// SetStore has been called.
var ErrNotInitialized = errors.New("database not available")

// DefaultTimeout bounds a single command when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Executor turns a function name and payload into a JSON result. It never
// fails: the boolean is false only when the name is not recognized. Every
// result carries a boolean "success" field.
type Executor interface {
	Execute(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, bool)
}

// Emitter is the slice of the event bus commands publish through.
type Emitter interface {
	EmitSimple(name string, v any) error
}

// CommandFunc implements one named command. The returned value is marshaled
// as the result.
type CommandFunc func(ctx context.Context, payload json.RawMessage) any

// Config wires the collaborators commands need.
type Config struct {
	Bus     Emitter
	Windows *windows.Tracker
	Timeout time.Duration
	Logger  *slog.Logger
}

// Commands is the production Executor: a registry of CommandFuncs plus the
// late-bound store they read from.
type Commands struct {
	bus     Emitter
	windows *windows.Tracker
	timeout time.Duration
	logger  *slog.Logger

	store atomic.Value // storeRef

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

type storeRef struct{ s store.Store }

var _ Executor = (*Commands)(nil)

// New builds a Commands with the built-in commands registered. The store is
// attached later with SetStore; until then store-backed commands soft-fail.
func New(cfg Config) *Commands {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Windows == nil {
		cfg.Windows = windows.New()
	}
	c := &Commands{
		bus:      cfg.Bus,
		windows:  cfg.Windows,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		commands: make(map[string]CommandFunc),
	}
	c.registerBuiltins()
	return c
}

// SetStore attaches (or replaces) the data store.
func (c *Commands) SetStore(s store.Store) {
	c.store.Store(storeRef{s: s})
}

// Store returns the attached store or ErrNotInitialized.
func (c *Commands) Store() (store.Store, error) {
	ref, _ := c.store.Load().(storeRef)
	if ref.s == nil {
		return nil, ErrNotInitialized
	}
	return ref.s, nil
}

// Register adds or replaces a command.
func (c *Commands) Register(name string, fn CommandFunc) {
	c.mu.Lock()
	c.commands[name] = fn
	c.mu.Unlock()
}

// Names lists the registered command names in sorted order.
func (c *Commands) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Execute runs the named command under the configured timeout.
func (c *Commands) Execute(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, bool) {
	c.mu.RLock()
	fn, ok := c.commands[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result := c.run(ctx, name, fn, payload)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("executor: marshal result", "function", name, "err", err)
		data, _ = json.Marshal(failure{Error: "result could not be encoded"})
	}
	c.logger.Debug("executor: function executed", "function", name, "duration", time.Since(start))
	return data, true
}

func (c *Commands) run(ctx context.Context, name string, fn CommandFunc, payload json.RawMessage) (result any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("executor: command panicked", "function", name, "panic", r)
			result = failure{Error: "internal error"}
		}
	}()
	return fn(ctx, payload)
}

// failure is the generic soft-fail result.
type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
