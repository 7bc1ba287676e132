package world

import "fmt"

// Rules are the environment-wide settings applied after a reset.
type Rules struct {
	AutoSave      bool  `json:"autoSave"`
	Time          int64 `json:"time"`
	Storm         bool  `json:"storm"`
	Thundering    bool  `json:"thundering"`
	DaylightCycle bool  `json:"doDaylightCycle"`
	WeatherCycle  bool  `json:"doWeatherCycle"`
	MobSpawning   bool  `json:"doMobSpawning"`
	KeepInventory bool  `json:"keepInventory"`
}

// DefaultRules are the settings of a freshly loaded environment.
func DefaultRules() Rules {
	return Rules{
		AutoSave:      true,
		DaylightCycle: true,
		WeatherCycle:  true,
		MobSpawning:   true,
	}
}

// ArenaRules are applied to the active environment once a reset succeeds:
// no autosave, fixed midday, clear weather, no natural cycles or mob spawning,
// and inventories kept across deaths.
func ArenaRules() Rules {
	return Rules{
		AutoSave:      false,
		Time:          6000,
		Storm:         false,
		Thundering:    false,
		DaylightCycle: false,
		WeatherCycle:  false,
		MobSpawning:   false,
		KeepInventory: true,
	}
}

// Environment is a loaded dataset.
type Environment struct {
	Name  string `json:"name"`
	Dir   string `json:"dir"`
	UID   string `json:"uid"`
	Rules Rules  `json:"rules"`
}

func (e *Environment) String() string {
	return fmt.Sprintf("%s (%s)", e.Name, e.UID)
}

// Mode is the interaction mode of a client.
type Mode int

const (
	// ModeAdventure lets a client move around without changing the environment.
	ModeAdventure Mode = iota
	// ModeSpectator lets a client observe without interacting.
	ModeSpectator
)

func (m Mode) String() string {
	switch m {
	case ModeAdventure:
		return "ADVENTURE"
	case ModeSpectator:
		return "SPECTATOR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
