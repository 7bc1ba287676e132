package arena

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/arena/internal/control"
	"github.com/dreamware/arena/internal/maps"
	"github.com/dreamware/arena/internal/reset"
	"github.com/dreamware/arena/internal/world"
)

// transferTimeout bounds a single lobby transfer request.
const transferTimeout = 5 * time.Second

// ErrNoCurrentMap is returned by ResetArena when no map has been prepared yet.
var ErrNoCurrentMap = errors.New("no current map to reset")

// MapSource resolves map ids, ignoring case.
type MapSource interface {
	Get(id string) (*maps.Definition, bool)
}

// Resetter rebuilds an environment from a template.
type Resetter interface {
	HardReset(templateID, activeID string, onProgress reset.ProgressFunc) *reset.Future
}

// Transfer moves a client to another server behind the proxy.
type Transfer interface {
	Send(ctx context.Context, clientID, server string) error
}

// Config holds the fixed settings of the arena.
type Config struct {
	ActiveEnvironment string
	LobbyServer       string
	ServerID          string
	PresetID          string
	MaxClients        int
}

// DefaultConfig mirrors the settings a stock deployment uses.
func DefaultConfig() Config {
	return Config{
		ActiveEnvironment: "mm_active",
		LobbyServer:       "lobby",
		ServerID:          "mm-game",
		PresetID:          "default",
		MaxClients:        16,
	}
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Maps     MapSource
	Resetter Resetter
	Host     *world.Host
	Loop     *control.Loop
	Workers  *control.Workers
	Transfer Transfer
}

// Snapshot is a consistent view of the arena's mutable state.
type Snapshot struct {
	State     State          `json:"state"`
	MapID     string         `json:"currentMap,omitempty"`
	JoinOpen  bool           `json:"joinOpen"`
	Progress  reset.Progress `json:"progress"`
	LastError string         `json:"lastError,omitempty"`
	Busy      bool           `json:"busy"`
}

// Service is the single owner of the arena lifecycle: phase, current map, join
// gate and last error. All mutation goes through its methods.
//
// Thread Safety:
// Every method is safe for concurrent use. The composite state is guarded by a
// single mutex so readers always observe the fields together; the reset guard
// is a separate atomic so a rejected Prepare never touches that state.
type Service struct {
	cfg  Config
	deps Dependencies

	state      State
	currentMap string
	joinOpen   bool
	progress   reset.Progress
	lastErr    error
	onPrepared []func(mapID string, err error)
	onChange   []func(Status)
	mu         sync.RWMutex

	// notifyMu orders OnChange deliveries.
	notifyMu sync.Mutex

	busy atomic.Bool
}

// NewService creates a service in the IDLE state with joins closed.
func NewService(cfg Config, deps Dependencies) *Service {
	s := &Service{
		cfg:      cfg,
		deps:     deps,
		state:    StateIdle,
		progress: reset.Progress{Step: "NONE"},
	}
	log.Printf("[arena] initialized: active=%s lobby=%s", cfg.ActiveEnvironment, cfg.LobbyServer)
	return s
}

// Config returns the fixed settings.
func (s *Service) Config() Config { return s.cfg }

// OnPrepared registers a hook called after every reset outcome.
// err is nil when the arena reached WAITING.
func (s *Service) OnPrepared(fn func(mapID string, err error)) {
	s.mu.Lock()
	s.onPrepared = append(s.onPrepared, fn)
	s.mu.Unlock()
}

// OnChange registers a hook called with the new status after any state change
// or progress report. Hooks may run on the control loop, so they must return
// promptly and must not call back into the service's mutating methods.
// Deliveries are serialized and arrive in the order the changes happened.
func (s *Service) OnChange(fn func(Status)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Snapshot returns all mutable fields read together.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:    s.state,
		MapID:    s.currentMap,
		JoinOpen: s.joinOpen,
		Progress: s.progress,
		Busy:     s.busy.Load(),
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// State returns the current phase.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentMapID returns the prepared map id, if any.
func (s *Service) CurrentMapID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMap, s.currentMap != ""
}

// JoinOpen reports whether clients are currently admitted.
func (s *Service) JoinOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinOpen
}

// LastError returns the error that put the arena into ERROR, if any.
func (s *Service) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Progress returns the last progress report of the current or previous reset.
func (s *Service) Progress() reset.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Busy reports whether a reset is in flight.
func (s *Service) Busy() bool {
	return s.busy.Load()
}

// SetJoinOpen opens or closes the join gate.
func (s *Service) SetJoinOpen(open bool) {
	s.mu.Lock()
	s.joinOpen = open
	s.mu.Unlock()
	log.Printf("[arena] joinOpen set to %t", open)
	s.notify()
}

// SetState moves the arena to next. Moves outside the transition table are
// logged but still applied, since gameplay owns those transitions.
func (s *Service) SetState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next && !CanTransition(prev, next) {
		log.Printf("[arena] unexpected transition %s -> %s", prev, next)
	}
	log.Printf("[arena] state changed to %s", next)
	s.notify()
}

// Prepare starts a hard reset of the active environment to mapID's template.
//
// Behavior:
//   - Unknown map: the arena moves to ERROR and an *UnknownMapError is returned
//   - Reset already running: ErrBusy is returned and nothing changes
//   - Otherwise joins close, the arena moves to PREPARING, every connected
//     client is sent to the lobby and the reset runs in the background
//
// The outcome is observable through State, LastError and the OnPrepared hooks.
func (s *Service) Prepare(mapID string) error {
	def, ok := s.deps.Maps.Get(mapID)
	if !ok {
		err := &UnknownMapError{ID: mapID}
		s.fail(err)
		s.notify()
		return err
	}

	if !s.busy.CompareAndSwap(false, true) {
		log.Printf("[arena] prepare %s ignored; reset already in flight", def.ID())
		return ErrBusy
	}

	s.mu.Lock()
	s.joinOpen = false
	s.state = StatePreparing
	s.currentMap = def.ID()
	s.lastErr = nil
	s.mu.Unlock()

	log.Printf("[arena] preparing map %s (template: %s)", def.ID(), def.TemplateID())
	s.notify()

	s.evacuateAll()

	future := s.deps.Resetter.HardReset(def.TemplateID(), s.cfg.ActiveEnvironment, func(p reset.Progress) {
		s.setProgress(def.ID(), p)
	})
	s.deps.Workers.Go(func() {
		s.awaitReset(def, future)
	})
	return nil
}

// ResetArena prepares the current map again.
func (s *Service) ResetArena() error {
	id, ok := s.CurrentMapID()
	if !ok {
		return ErrNoCurrentMap
	}
	return s.Prepare(id)
}

func (s *Service) setProgress(mapID string, p reset.Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
	log.Printf("[arena] prepare %s progress: %s (%d%%)", mapID, p.Step, p.Percent)
	s.notify()
}

func (s *Service) awaitReset(def *maps.Definition, future *reset.Future) {
	env, err := future.Wait(context.Background())
	if err != nil {
		s.finish(def.ID(), &PrepareError{MapID: def.ID(), Err: err})
		return
	}

	ok := s.deps.Loop.Submit(func(c *control.Ctx) {
		s.completePrepare(c, def, env)
	})
	if !ok {
		s.finish(def.ID(), &PostResetError{MapID: def.ID(), Err: control.ErrLoopStopped})
	}
}

// completePrepare runs on the control loop once the pipeline has loaded env.
func (s *Service) completePrepare(c *control.Ctx, def *maps.Definition, env world.Environment) {
	if err := s.deps.Host.ApplyRules(c, env.Name, world.ArenaRules()); err != nil {
		s.finish(def.ID(), &PostResetError{MapID: def.ID(), Err: err})
		return
	}

	spawn := def.WaitingSpawn(env.Name)
	waiting := append(s.deps.Host.Occupants(c, ""), s.deps.Host.Occupants(c, env.Name)...)
	for _, client := range waiting {
		if err := s.deps.Host.Place(c, client, spawn, world.ModeAdventure); err != nil {
			s.finish(def.ID(), &PostResetError{MapID: def.ID(), Err: err})
			return
		}
	}

	s.mu.Lock()
	s.state = StateWaiting
	s.mu.Unlock()

	log.Printf("[arena] prepared map %s into %s; now WAITING", def.ID(), env.Name)
	s.finish(def.ID(), nil)
}

// finish records the outcome of a reset and releases the guard.
func (s *Service) finish(mapID string, err error) {
	if err != nil {
		s.fail(err)
	}
	s.busy.Store(false)

	s.mu.RLock()
	hooks := append([]func(string, error){}, s.onPrepared...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(mapID, err)
	}
	s.notify()
}

func (s *Service) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.state = StateError
	s.mu.Unlock()
	log.Printf("[arena] %v", err)
}

// evacuateAll sends every connected client to the lobby. It is queued on the
// control loop ahead of the pipeline's unload stage.
func (s *Service) evacuateAll() {
	s.deps.Loop.Submit(func(c *control.Ctx) {
		for _, client := range s.deps.Host.Clients(c) {
			s.sendToLobby(c, client)
		}
	})
}

// sendToLobby drops the client from this server and asks the proxy to move it.
// The transfer is best-effort and runs off the control loop.
func (s *Service) sendToLobby(c *control.Ctx, client world.Client) {
	s.deps.Host.Disconnect(c, client.ID())
	id, name, lobby := client.ID(), client.Name(), s.cfg.LobbyServer
	s.deps.Workers.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
		defer cancel()
		if err := s.deps.Transfer.Send(ctx, id, lobby); err != nil {
			log.Printf("[arena] failed to send %s to %s: %v", name, lobby, err)
			return
		}
		log.Printf("[arena] sent %s to %s", name, lobby)
	})
}

// StatusString is a single human-readable line for operators.
func (s *Service) StatusString() string {
	snap := s.Snapshot()
	mapID, errText := snap.MapID, snap.LastError
	if mapID == "" {
		mapID = "NONE"
	}
	if errText == "" {
		errText = "NONE"
	}
	return fmt.Sprintf("state=%s currentMap=%s joinOpen=%t progress=%s:%d error=%s",
		snap.State, mapID, snap.JoinOpen, snap.Progress.Step, snap.Progress.Percent, errText)
}

func (s *Service) notify() {
	s.mu.RLock()
	hooks := append([]func(Status){}, s.onChange...)
	s.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	status := s.Status()
	for _, hook := range hooks {
		hook(status)
	}
}
