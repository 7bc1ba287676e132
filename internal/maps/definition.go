package maps

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// SpectatorOffsetY is added to the waiting spawn's height when a map does not
// configure a spectator spawn.
const SpectatorOffsetY = 20

// unnumberedSpawnKey orders spawn keys that are not integers after numeric ones.
const unnumberedSpawnKey = 9999

// ErrMissingTemplate is returned when a map entry names no template dataset.
var ErrMissingTemplate = errors.New("templateWorld (or world) missing")

// Spawn is a position and orientation with no environment attached.
type Spawn struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
}

// BoundSpawn is a Spawn resolved against a concrete environment.
type BoundSpawn struct {
	Environment string `json:"environment"`
	Spawn
}

// Bind returns a copy of s attached to environment.
func Bind(s Spawn, environment string) BoundSpawn {
	return BoundSpawn{Spawn: s, Environment: environment}
}

// DefaultSpawn is used for any coordinate section missing from configuration.
func DefaultSpawn() Spawn {
	return Spawn{X: 0.5, Y: 70, Z: 0.5}
}

// Definition describes one playable map. It is immutable after construction.
type Definition struct {
	id         string
	templateID string
	waiting    Spawn
	game       []Spawn
	spectator  Spawn
}

// NewDefinition builds a definition. An empty game spawn list falls back to the
// waiting spawn.
func NewDefinition(id, templateID string, waiting Spawn, game []Spawn, spectator Spawn) (*Definition, error) {
	if id == "" {
		return nil, errors.New("map id cannot be empty")
	}
	if templateID == "" {
		return nil, fmt.Errorf("map %s: %w", id, ErrMissingTemplate)
	}
	spawns := append([]Spawn(nil), game...)
	if len(spawns) == 0 {
		spawns = append(spawns, waiting)
	}
	return &Definition{
		id:         id,
		templateID: templateID,
		waiting:    waiting,
		game:       spawns,
		spectator:  spectator,
	}, nil
}

// ID returns the map id as written in configuration.
func (d *Definition) ID() string { return d.id }

// TemplateID returns the name of the template dataset cloned for this map.
func (d *Definition) TemplateID() string { return d.templateID }

// WaitingSpawn returns the pre-match spawn bound to environment.
func (d *Definition) WaitingSpawn(environment string) BoundSpawn {
	return Bind(d.waiting, environment)
}

// SpectatorSpawn returns the spectator spawn bound to environment.
func (d *Definition) SpectatorSpawn(environment string) BoundSpawn {
	return Bind(d.spectator, environment)
}

// GameSpawns returns the ordered match spawns bound to environment.
func (d *Definition) GameSpawns(environment string) []BoundSpawn {
	out := make([]BoundSpawn, 0, len(d.game))
	for _, s := range d.game {
		out = append(out, Bind(s, environment))
	}
	return out
}

type pointConfig struct {
	X     *float64 `yaml:"x"`
	Y     *float64 `yaml:"y"`
	Z     *float64 `yaml:"z"`
	Yaw   *float64 `yaml:"yaw"`
	Pitch *float64 `yaml:"pitch"`
}

func (p *pointConfig) spawn() Spawn {
	s := DefaultSpawn()
	if p == nil {
		return s
	}
	if p.X != nil {
		s.X = *p.X
	}
	if p.Y != nil {
		s.Y = *p.Y
	}
	if p.Z != nil {
		s.Z = *p.Z
	}
	if p.Yaw != nil {
		s.Yaw = float32(*p.Yaw)
	}
	if p.Pitch != nil {
		s.Pitch = float32(*p.Pitch)
	}
	return s
}

type entryConfig struct {
	TemplateWorld string                  `yaml:"templateWorld"`
	World         string                  `yaml:"world"`
	Waiting       *pointConfig            `yaml:"waiting"`
	Spectator     *pointConfig            `yaml:"spectator"`
	Spawns        map[string]*pointConfig `yaml:"spawns"`
}

// ParseDefinition decodes one map entry. The legacy "world" key is accepted when
// "templateWorld" is absent.
func ParseDefinition(id string, node *yaml.Node) (*Definition, error) {
	var cfg entryConfig
	if err := node.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("map %s: %w", id, err)
	}

	template := cfg.TemplateWorld
	if template == "" {
		template = cfg.World
	}

	waiting := cfg.Waiting.spawn()
	spectator := waiting
	spectator.Y += SpectatorOffsetY
	if cfg.Spectator != nil {
		spectator = cfg.Spectator.spawn()
	}

	var game []Spawn
	for _, key := range sortSpawnKeys(cfg.Spawns) {
		if p := cfg.Spawns[key]; p != nil {
			game = append(game, p.spawn())
		}
	}

	return NewDefinition(id, template, waiting, game, spectator)
}

// sortSpawnKeys orders keys numerically; keys that are not integers sort as 9999
// and ties fall back to lexical order so the result is stable across reloads.
func sortSpawnKeys(spawns map[string]*pointConfig) []string {
	keys := make([]string, 0, len(spawns))
	for k := range spawns {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	slices.SortStableFunc(keys, func(a, b string) int {
		return cmp.Compare(spawnKeyOrder(a), spawnKeyOrder(b))
	})
	return keys
}

func spawnKeyOrder(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return unnumberedSpawnKey
	}
	return n
}
