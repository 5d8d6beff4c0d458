// Package engine orchestrates the core logic of the Warden daemon.
// It admits or rejects clients against the config store's filter lists,
// runs lifecycle hook scripts when the first client arrives and the last
// one leaves, and periodically reaps clients whose processes have died.
// All state modifications are serialized through a single goroutine
// to ensure thread safety.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mjs/warden/internal/clients"
	"github.com/mjs/warden/internal/config"
	"github.com/mjs/warden/internal/log"
	"github.com/mjs/warden/internal/proc"
	"github.com/mjs/warden/internal/scripts"
)

// Small buffer for commands to avoid blocking senders momentarily.
const _commandBufferSize = 10

var (
	// ErrFiltered is returned when a client is refused by the whitelist or
	// blacklist.
	ErrFiltered = errors.New("client filtered out")
	// ErrAlreadyRegistered is returned when the pid is already registered.
	ErrAlreadyRegistered = errors.New("client already registered")
	// ErrNotRegistered is returned when unregistering an unknown pid.
	ErrNotRegistered = errors.New("client not registered")
)

// Engine ties the config store, the client registry, the process table and
// the hook script runner together.
type Engine struct {
	store    *config.Store
	registry *clients.Registry
	procs    proc.Inspector
	runner   scripts.Runner

	cmdChan  chan command // Commands are processed serially by runLoop
	wg       sync.WaitGroup
	cancelFn context.CancelFunc // Cancels the context passed to Run
}

// New creates a new Engine instance. The store must already be initialized.
func New(store *config.Store, procs proc.Inspector, runner scripts.Runner) *Engine {
	return &Engine{
		store:    store,
		registry: clients.NewRegistry(),
		procs:    procs,
		runner:   runner,
		cmdChan:  make(chan command, _commandBufferSize),
	}
}

// Run starts the engine's background processing goroutines.
// The provided context controls the lifetime of these goroutines.
func (e *Engine) Run(ctx context.Context) {
	// Create an internal context that we can cancel on Close()
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel

	e.wg.Add(2)
	go e.runLoop(runCtx)
	go e.runReaper(runCtx)

	log.Info("engine: started")
}

// Close gracefully shuts down the engine's background goroutines.
func (e *Engine) Close() {
	if e.cancelFn != nil {
		e.cancelFn() // Signal goroutines to stop
	}
	e.wg.Wait()
	log.Info("engine: stopped")
}

// Register admits the process with the given pid. It resolves the executable
// name, checks it against the filter lists, and inserts it into the registry.
// Start scripts run when the registry goes from empty to occupied.
func (e *Engine) Register(ctx context.Context, pid int) (*clients.Client, error) {
	cmd := registerCmd{pid: pid, reply: make(chan registerResult, 1)}

	select {
	case e.cmdChan <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.client, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unregister removes the process with the given pid. End scripts run when
// the registry empties.
func (e *Engine) Unregister(ctx context.Context, pid int) error {
	cmd := unregisterCmd{pid: pid, reply: make(chan error, 1)}

	select {
	case e.cmdChan <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerReload queues a config reload. The reload itself runs inside the
// engine loop, so it is serialized with registrations and reaps.
func (e *Engine) TriggerReload() {
	select {
	case e.cmdChan <- reloadCmd{}:
	default:
		// A reload is already queued behind whatever fills the channel.
		log.Warn("engine: command channel full, dropping reload request")
	}
}

// Snapshot returns a read-only copy of the currently registered clients.
func (e *Engine) Snapshot() []clients.Client {
	return e.registry.Snapshot()
}

// ClientCount returns the number of registered clients.
func (e *Engine) ClientCount() int64 {
	return e.registry.Count()
}

// runLoop is the central processing loop. It serializes all state changes.
func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()
	defer log.Info("engine: runLoop stopping")

	log.Info("engine: runLoop starting")

	for {
		select {
		case cmd := <-e.cmdChan:
			switch c := cmd.(type) {
			case registerCmd:
				client, err := e.handleRegister(ctx, c.pid)
				if err != nil {
					log.Infof("engine: register refused for pid %d: %v", c.pid, err)
				}
				c.reply <- registerResult{client: client, err: err}
			case unregisterCmd:
				c.reply <- e.handleUnregister(ctx, c.pid)
			case reloadCmd:
				e.handleReload()
			case reapCmd:
				e.handleReap(ctx)
			default:
				log.Warnf("engine: received unknown command type: %T", cmd)
			}

		case <-ctx.Done():
			return
		}
	}
}

// runReaper periodically queues reap commands. The timer is re-armed from
// the store on every cycle so a reload changes the cadence without restart.
func (e *Engine) runReaper(ctx context.Context) {
	defer e.wg.Done()
	defer log.Info("engine: reaper stopping")

	log.Infof("engine: reaper starting (frequency %s)", e.store.ReaperFrequency())
	timer := time.NewTimer(e.store.ReaperFrequency())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			select {
			case e.cmdChan <- reapCmd{}:
			case <-ctx.Done():
				return
			default:
				// Should not happen with a buffered channel unless severely backed up
				log.Warn("engine: command channel full, skipping reap cycle")
			}
			timer.Reset(e.store.ReaperFrequency())
		case <-ctx.Done():
			return
		}
	}
}

// --- Command Handlers (run only within runLoop) ---

func (e *Engine) handleRegister(ctx context.Context, pid int) (*clients.Client, error) {
	name, err := e.procs.Executable(pid)
	if err != nil {
		return nil, fmt.Errorf("resolving pid %d: %w", pid, err)
	}

	// Whitelist first, then blacklist.
	if !e.store.IsWhitelisted(name) {
		return nil, fmt.Errorf("%w: %q is not whitelisted", ErrFiltered, name)
	}
	if e.store.IsBlacklisted(name) {
		return nil, fmt.Errorf("%w: %q is blacklisted", ErrFiltered, name)
	}

	client := &clients.Client{
		ID:           uuid.NewString(),
		PID:          pid,
		Name:         name,
		RegisteredAt: time.Now(),
	}
	if !e.registry.Register(client) {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrAlreadyRegistered)
	}
	log.Infof("engine: registered client %s (pid %d, %q)", client.ID, pid, name)

	if e.registry.Count() == 1 {
		e.runScripts(ctx, "start", e.store.StartScripts())
	}
	return client, nil
}

func (e *Engine) handleUnregister(ctx context.Context, pid int) error {
	client, ok := e.registry.Remove(pid)
	if !ok {
		return fmt.Errorf("pid %d: %w", pid, ErrNotRegistered)
	}
	log.Infof("engine: unregistered client %s (pid %d, %q)", client.ID, pid, client.Name)

	if e.registry.Count() == 0 {
		e.runScripts(ctx, "end", e.store.EndScripts())
	}
	return nil
}

func (e *Engine) handleReload() {
	e.store.Reload()
	log.Infof("engine: config reloaded (reaper frequency %s)", e.store.ReaperFrequency())
}

func (e *Engine) handleReap(ctx context.Context) {
	dead := e.registry.Prune(e.procs.Alive)
	if len(dead) == 0 {
		return
	}
	for _, c := range dead {
		log.Infof("engine: reaped client %s (pid %d, %q)", c.ID, c.PID, c.Name)
	}

	if e.registry.Count() == 0 {
		e.runScripts(ctx, "end", e.store.EndScripts())
	}
}

// runScripts runs a hook batch. Failures are already logged by the runner;
// they never influence the engine's own state.
func (e *Engine) runScripts(ctx context.Context, kind string, commands []string) {
	if len(commands) == 0 {
		return
	}
	log.Infof("engine: running %d %s script(s)", len(commands), kind)
	if err := e.runner.Run(ctx, commands); err != nil {
		log.Warnf("engine: %s scripts finished with errors: %v", kind, err)
	}
}

// command interface defines the structure of commands sent to the engine.
type command interface {
	isCommand()
}

type registerCmd struct {
	pid   int
	reply chan registerResult
}

func (registerCmd) isCommand() {}

type registerResult struct {
	client *clients.Client
	err    error
}

type unregisterCmd struct {
	pid   int
	reply chan error
}

func (unregisterCmd) isCommand() {}

type reloadCmd struct{}

func (reloadCmd) isCommand() {}

type reapCmd struct{}

func (reapCmd) isCommand() {}
