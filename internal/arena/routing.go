package arena

import (
	"log"

	"github.com/dreamware/arena/internal/control"
	"github.com/dreamware/arena/internal/maps"
	"github.com/dreamware/arena/internal/world"
)

// Messages shown to joining clients.
const (
	MsgNotOpen    = "Game server is not open yet."
	MsgNotReady   = "Arena not ready."
	MsgMapMissing = "Arena map missing."
	MsgSpectating = "Match in progress. You are spectating."
	MsgWaiting    = "Joined the match lobby."
)

// Route is where a joining client is sent.
type Route int

const (
	RouteLobby Route = iota
	RouteSpectator
	RouteWaiting
)

func (r Route) String() string {
	switch r {
	case RouteLobby:
		return "lobby"
	case RouteSpectator:
		return "spectator"
	case RouteWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// MarshalText encodes the route by name.
func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// JoinDecision is the outcome of routing one client.
type JoinDecision struct {
	Route   Route           `json:"route"`
	Message string          `json:"message"`
	Spawn   maps.BoundSpawn `json:"spawn"`
}

// Decide routes a joining client. The checks run in order:
//  1. joins closed: lobby
//  2. active environment not loaded or no current map: lobby
//  3. current map no longer registered: lobby
//  4. match running, finished or resetting: spectator spawn
//  5. otherwise: waiting spawn
func Decide(snap Snapshot, activeLoaded bool, def *maps.Definition, active string) JoinDecision {
	switch {
	case !snap.JoinOpen:
		return JoinDecision{Route: RouteLobby, Message: MsgNotOpen}
	case !activeLoaded || snap.MapID == "":
		return JoinDecision{Route: RouteLobby, Message: MsgNotReady}
	case def == nil:
		return JoinDecision{Route: RouteLobby, Message: MsgMapMissing}
	case snap.State.Spectating():
		return JoinDecision{Route: RouteSpectator, Message: MsgSpectating, Spawn: def.SpectatorSpawn(active)}
	default:
		return JoinDecision{Route: RouteWaiting, Message: MsgWaiting, Spawn: def.WaitingSpawn(active)}
	}
}

// HandleClientJoin routes a client that just connected and applies the
// decision. The client is registered with the host if it is not already.
func (s *Service) HandleClientJoin(c *control.Ctx, client world.Client) JoinDecision {
	host := s.deps.Host
	if _, ok := host.Client(client.ID()); !ok {
		host.Connect(c, client)
	}

	snap := s.Snapshot()
	active := s.cfg.ActiveEnvironment
	var def *maps.Definition
	if snap.MapID != "" {
		def, _ = s.deps.Maps.Get(snap.MapID)
	}
	decision := Decide(snap, host.Loaded(active), def, active)

	log.Printf("[arena] client %s joined: joinOpen=%t state=%s route=%s",
		client.Name(), snap.JoinOpen, snap.State, decision.Route)

	switch decision.Route {
	case RouteSpectator, RouteWaiting:
		mode := world.ModeAdventure
		if decision.Route == RouteSpectator {
			mode = world.ModeSpectator
		}
		if err := host.Place(c, client, decision.Spawn, mode); err != nil {
			log.Printf("[arena] failed to place %s: %v", client.Name(), err)
			decision = JoinDecision{Route: RouteLobby, Message: MsgNotReady}
			break
		}
		client.Message(decision.Message)
		s.notify()
		return decision
	}

	client.Message(decision.Message)
	s.sendToLobby(c, client)
	s.notify()
	return decision
}

// HandleClientLeave forgets a disconnected client.
func (s *Service) HandleClientLeave(c *control.Ctx, clientID string) bool {
	left := s.deps.Host.Disconnect(c, clientID)
	if left {
		s.notify()
	}
	return left
}
