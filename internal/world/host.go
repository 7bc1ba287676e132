package world

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/arena/internal/control"
	"github.com/dreamware/arena/internal/maps"
)

const (
	// LockMarker is held in the directory of every loaded environment.
	LockMarker = "session.lock"
	// UIDMarker identifies a dataset; loaded environments must not share one.
	UIDMarker = "uid.dat"
	// FallbackEnvironment is always loaded and receives evacuated clients.
	FallbackEnvironment = "world"
)

var (
	// ErrNotLoaded is returned when an environment is not currently loaded.
	ErrNotLoaded = errors.New("environment not loaded")
	// ErrPinned is returned when unloading an environment that is pinned.
	ErrPinned = errors.New("environment is pinned")
	// ErrOccupied is returned when unloading an environment that still has clients.
	ErrOccupied = errors.New("environment still has occupants")
	// ErrDuplicateUID is returned when a dataset's uid matches a loaded environment.
	ErrDuplicateUID = errors.New("duplicate environment uid")
	// ErrUnknownClient is returned for client ids that are not connected.
	ErrUnknownClient = errors.New("unknown client")
)

type presence struct {
	client      Client
	environment string
}

// Host owns loaded environments and connected clients.
//
// Mutating methods take a *control.Ctx and must run on the control loop.
// The mutex only protects readers on other goroutines (status, heartbeat).
type Host struct {
	envs          map[string]*Environment
	pinned        map[string]bool
	clients       map[string]*presence
	loader        Loader
	container     string
	order         []string
	fallbackSpawn maps.Spawn
	mu            sync.RWMutex
}

// NewHost creates a host for datasets under container. A nil loader is replaced
// by NoLoader.
func NewHost(container string, loader Loader) *Host {
	if loader == nil {
		loader = NoLoader{}
	}
	return &Host{
		container:     container,
		loader:        loader,
		envs:          make(map[string]*Environment),
		pinned:        map[string]bool{FallbackEnvironment: true},
		clients:       make(map[string]*presence),
		fallbackSpawn: maps.DefaultSpawn(),
	}
}

// Open loads the fallback environment.
func (h *Host) Open(c *control.Ctx) error {
	if err := os.MkdirAll(h.container, 0o755); err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	_, err := h.LoadOrCreate(c, FallbackEnvironment)
	return err
}

// Container returns the directory holding all datasets.
func (h *Host) Container() string {
	return h.container
}

// Dir returns the directory of the named dataset.
func (h *Host) Dir(name string) string {
	return filepath.Join(h.container, name)
}

// Loader returns the configured external loader.
func (h *Host) Loader() Loader {
	return h.loader
}

// Environment returns a copy of the named loaded environment.
func (h *Host) Environment(name string) (Environment, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	env, ok := h.envs[name]
	if !ok {
		return Environment{}, false
	}
	return *env, true
}

// Loaded reports whether the named environment is loaded.
func (h *Host) Loaded(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.envs[name]
	return ok
}

// Pin prevents the named environment from being unloaded.
func (h *Host) Pin(name string) {
	h.mu.Lock()
	h.pinned[name] = true
	h.mu.Unlock()
}

// Unpin reverses Pin. The fallback environment stays pinned.
func (h *Host) Unpin(name string) {
	if name == FallbackEnvironment {
		return
	}
	h.mu.Lock()
	delete(h.pinned, name)
	h.mu.Unlock()
}

// Fallback returns the evacuation point in the fallback environment.
func (h *Host) Fallback() maps.BoundSpawn {
	return maps.Bind(h.fallbackSpawn, FallbackEnvironment)
}

// Unload drops the named environment without saving it. The environment must
// be empty and not pinned.
func (h *Host) Unload(c *control.Ctx, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	env, ok := h.envs[name]
	if !ok {
		return ErrNotLoaded
	}
	if h.pinned[name] {
		return ErrPinned
	}
	for _, p := range h.clients {
		if p.environment == name {
			return ErrOccupied
		}
	}

	if err := os.Remove(filepath.Join(env.Dir, LockMarker)); err != nil && !os.IsNotExist(err) {
		log.Printf("[world] failed to release lock for %s: %v", name, err)
	}
	delete(h.envs, name)
	return nil
}

// LoadOrCreate returns the named environment, loading it from disk (or through
// the configured Loader) when it is not loaded yet. A missing directory is
// created empty.
func (h *Host) LoadOrCreate(c *control.Ctx, name string) (Environment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if env, ok := h.envs[name]; ok {
		return *env, nil
	}

	dir := h.Dir(name)
	env, err := h.loader.Load(name, dir)
	if err != nil {
		return Environment{}, fmt.Errorf("%s loader: %w", h.loader.Name(), err)
	}
	if env == nil {
		env, err = h.openDir(name, dir)
		if err != nil {
			return Environment{}, err
		}
	}

	for other, loaded := range h.envs {
		if loaded.UID == env.UID {
			_ = os.Remove(filepath.Join(env.Dir, LockMarker))
			return Environment{}, fmt.Errorf("%s shares uid %s with %s: %w", name, env.UID, other, ErrDuplicateUID)
		}
	}

	h.envs[name] = env
	return *env, nil
}

func (h *Host) openDir(name, dir string) (*Environment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	uid, err := readOrCreateUID(dir)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, LockMarker), nil, 0o644); err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return &Environment{
		Name:  name,
		Dir:   dir,
		UID:   uid,
		Rules: DefaultRules(),
	}, nil
}

func readOrCreateUID(dir string) (string, error) {
	path := filepath.Join(dir, UIDMarker)
	data, err := os.ReadFile(path)
	if err == nil {
		if uid := strings.TrimSpace(string(data)); uid != "" {
			return uid, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read uid: %w", err)
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate uid: %w", err)
	}
	uid := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(uid), 0o644); err != nil {
		return "", fmt.Errorf("write uid: %w", err)
	}
	return uid, nil
}

// ApplyRules replaces the rules of a loaded environment.
func (h *Host) ApplyRules(c *control.Ctx, name string, rules Rules) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	env, ok := h.envs[name]
	if !ok {
		return fmt.Errorf("apply rules to %s: %w", name, ErrNotLoaded)
	}
	env.Rules = rules
	return nil
}

// Connect registers a client. It starts unplaced until Place is called.
// Reconnecting with the same id replaces the previous client.
func (h *Host) Connect(c *control.Ctx, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID()]; !ok {
		h.order = append(h.order, client.ID())
	}
	h.clients[client.ID()] = &presence{client: client}
}

// Disconnect forgets a client and reports whether it was connected.
func (h *Host) Disconnect(c *control.Ctx, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; !ok {
		return false
	}
	delete(h.clients, id)
	if i := slices.Index(h.order, id); i >= 0 {
		h.order = slices.Delete(h.order, i, i+1)
	}
	return true
}

// Client returns a connected client by id.
func (h *Host) Client(id string) (Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.clients[id]
	if !ok {
		return nil, false
	}
	return p.client, true
}

// Place sets a client's mode and moves it to spawn, whose environment must be loaded.
func (h *Host) Place(c *control.Ctx, client Client, spawn maps.BoundSpawn, mode Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.clients[client.ID()]
	if !ok {
		return fmt.Errorf("place %s: %w", client.ID(), ErrUnknownClient)
	}
	if _, ok := h.envs[spawn.Environment]; !ok {
		return fmt.Errorf("place %s in %s: %w", client.ID(), spawn.Environment, ErrNotLoaded)
	}
	client.SetMode(mode)
	if err := client.Teleport(spawn); err != nil {
		return fmt.Errorf("teleport %s: %w", client.ID(), err)
	}
	p.environment = spawn.Environment
	return nil
}

// Move teleports a client to spawn without changing its mode.
func (h *Host) Move(c *control.Ctx, client Client, spawn maps.BoundSpawn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.clients[client.ID()]
	if !ok {
		return fmt.Errorf("move %s: %w", client.ID(), ErrUnknownClient)
	}
	if _, ok := h.envs[spawn.Environment]; !ok {
		return fmt.Errorf("move %s to %s: %w", client.ID(), spawn.Environment, ErrNotLoaded)
	}
	if err := client.Teleport(spawn); err != nil {
		return fmt.Errorf("teleport %s: %w", client.ID(), err)
	}
	p.environment = spawn.Environment
	return nil
}

// Clients returns connected clients in connection order.
func (h *Host) Clients(c *control.Ctx) []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Client, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.clients[id].client)
	}
	return out
}

// Occupants returns the clients standing in the named environment, in connection
// order. An empty name selects clients that have not been placed anywhere yet.
func (h *Host) Occupants(c *control.Ctx, name string) []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Client
	for _, id := range h.order {
		if p := h.clients[id]; p.environment == name {
			out = append(out, p.client)
		}
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Host) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
