package arena

import (
	"fmt"
	"strconv"
	"strings"
)

// payloadFields is the number of fields in a status payload.
const payloadFields = 7

// Status is the compact server status polled by the proxy and lobby.
type Status struct {
	ServerID   string `json:"serverId"`
	PresetID   string `json:"presetId"`
	MapName    string `json:"mapName"`
	State      State  `json:"state"`
	Clients    int    `json:"clients"`
	MaxClients int    `json:"maxClients"`
	Joinable   bool   `json:"joinable"`
}

// Payload encodes the status as
//
//	serverId|presetId|mapName|STATE|clients|maxClients|joinable
//
// with joinable written as 1 or 0. The field order is fixed; consumers parse
// positionally.
func (s Status) Payload() string {
	joinable := "0"
	if s.Joinable {
		joinable = "1"
	}
	return strings.Join([]string{
		s.ServerID,
		s.PresetID,
		strings.ReplaceAll(s.MapName, "|", "_"),
		s.State.String(),
		strconv.Itoa(s.Clients),
		strconv.Itoa(s.MaxClients),
		joinable,
	}, "|")
}

// ParseStatus decodes a payload produced by Status.Payload. Extra trailing
// fields are ignored.
func ParseStatus(payload string) (Status, error) {
	parts := strings.Split(payload, "|")
	if len(parts) < payloadFields {
		return Status{}, fmt.Errorf("invalid status payload %q: want %d fields, got %d", payload, payloadFields, len(parts))
	}
	state, err := ParseState(parts[3])
	if err != nil {
		return Status{}, err
	}
	clients, err := strconv.Atoi(parts[4])
	if err != nil {
		return Status{}, fmt.Errorf("invalid client count %q: %w", parts[4], err)
	}
	maxClients, err := strconv.Atoi(parts[5])
	if err != nil {
		return Status{}, fmt.Errorf("invalid max clients %q: %w", parts[5], err)
	}
	return Status{
		ServerID:   parts[0],
		PresetID:   parts[1],
		MapName:    parts[2],
		State:      state,
		Clients:    clients,
		MaxClients: maxClients,
		Joinable:   parts[6] == "1",
	}, nil
}

// Status reports the arena for external polling. The arena is joinable while
// joins are open, the match has not started and there is room left.
func (s *Service) Status() Status {
	snap := s.Snapshot()
	clients := s.deps.Host.ClientCount()
	mapName := snap.MapID
	if mapName == "" {
		mapName = "NONE"
	}
	return Status{
		ServerID:   s.cfg.ServerID,
		PresetID:   s.cfg.PresetID,
		MapName:    mapName,
		State:      snap.State,
		Clients:    clients,
		MaxClients: s.cfg.MaxClients,
		Joinable:   snap.JoinOpen && snap.State.Joinable() && clients < s.cfg.MaxClients,
	}
}
