// Package arena owns the lifecycle of a single match arena.
//
// # Overview
//
// Service is the one owner of the arena's mutable state: the lifecycle phase,
// the current map, the join gate, the last reset progress and the last error.
// Collaborators read it through Snapshot or Status and change it only through
// Prepare, ResetArena, SetJoinOpen, SetState and HandleClientJoin.
//
// # Lifecycle
//
//	IDLE -> PREPARING -> WAITING -> COUNTDOWN -> PREGAME -> IN_PROGRESS
//	     -> POST_GAME -> RESETTING -> IDLE
//
// PREPARING moves to ERROR when a reset fails, and ERROR returns to PREPARING on
// the next Prepare. Only the PREPARING edges are driven here; gameplay drives
// the rest through SetState, which logs but still applies unexpected moves.
//
// # Prepare
//
// Prepare is single-flight. A second call while a reset is running returns
// ErrBusy without touching any state. An accepted call closes joins, sends every
// connected client to the lobby server and hands the reset to the pipeline.
// When the pipeline succeeds the arena rules are applied on the control loop,
// clients that connected in the meantime are placed at the waiting spawn and the
// arena moves to WAITING.
//
// # Routing
//
// HandleClientJoin decides where a new client goes:
//
//	joins closed                         lobby      "Game server is not open yet."
//	active environment or map missing    lobby      "Arena not ready."
//	current map no longer registered     lobby      "Arena map missing."
//	IN_PROGRESS, POST_GAME, RESETTING    spectator  "Match in progress. You are spectating."
//	anything else                        waiting    "Joined the match lobby."
//
// The decision is computed from one Snapshot, so the join gate, phase and map
// are always observed together.
//
// # Status
//
// Status.Payload is the positional status line polled by the proxy:
//
//	serverId|presetId|mapName|STATE|clients|maxClients|joinable
package arena
