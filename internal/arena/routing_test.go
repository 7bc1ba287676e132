package arena

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/arena/internal/control"
	"github.com/dreamware/arena/internal/maps"
	"github.com/dreamware/arena/internal/world"
)

func testDefinition(t *testing.T) *maps.Definition {
	t.Helper()
	def, err := maps.NewDefinition("subway", "tpl_subway",
		maps.Spawn{X: 1, Y: 64, Z: 1}, nil, maps.Spawn{X: 1, Y: 84, Z: 1})
	require.NoError(t, err)
	return def
}

// TestDecideRoutingTable walks every join gate, phase and load combination.
func TestDecideRoutingTable(t *testing.T) {
	def := testDefinition(t)
	states := []State{
		StateIdle, StatePreparing, StateWaiting, StateCountdown, StatePregame,
		StateInProgress, StatePostGame, StateResetting, StateError,
	}

	for _, open := range []bool{false, true} {
		for _, loaded := range []bool{false, true} {
			for _, state := range states {
				snap := Snapshot{State: state, MapID: "subway", JoinOpen: open}
				got := Decide(snap, loaded, def, "mm_active")

				switch {
				case !open:
					assert.Equal(t, JoinDecision{Route: RouteLobby, Message: MsgNotOpen}, got)
				case !loaded:
					assert.Equal(t, JoinDecision{Route: RouteLobby, Message: MsgNotReady}, got)
				case state == StateInProgress || state == StatePostGame || state == StateResetting:
					assert.Equal(t, RouteSpectator, got.Route, state.String())
					assert.Equal(t, MsgSpectating, got.Message)
					assert.Equal(t, def.SpectatorSpawn("mm_active"), got.Spawn)
				default:
					assert.Equal(t, RouteWaiting, got.Route, state.String())
					assert.Equal(t, MsgWaiting, got.Message)
					assert.Equal(t, def.WaitingSpawn("mm_active"), got.Spawn)
				}

				// Same inputs, same outcome.
				assert.Equal(t, got, Decide(snap, loaded, def, "mm_active"))
			}
		}
	}
}

func TestDecideWithoutMap(t *testing.T) {
	got := Decide(Snapshot{State: StateWaiting, JoinOpen: true}, true, nil, "mm_active")
	assert.Equal(t, RouteLobby, got.Route)
	assert.Equal(t, MsgNotReady, got.Message)

	got = Decide(Snapshot{State: StateWaiting, JoinOpen: true, MapID: "gone"}, true, nil, "mm_active")
	assert.Equal(t, RouteLobby, got.Route)
	assert.Equal(t, MsgMapMissing, got.Message)
}

func TestHandleClientJoinBeforePrepare(t *testing.T) {
	f := newFixture(t)
	alice := world.NewSession("alice", "Alice")

	got := f.join(t, alice)
	assert.Equal(t, RouteLobby, got.Route)
	assert.Equal(t, MsgNotOpen, alice.LastMessage())

	f.service.SetJoinOpen(true)
	bob := world.NewSession("bob", "Bob")
	got = f.join(t, bob)
	assert.Equal(t, RouteLobby, got.Route)
	assert.Equal(t, MsgNotReady, bob.LastMessage())

	assert.Equal(t, 0, f.host.ClientCount())
	assert.Eventually(t, func() bool {
		return len(f.transfer.Sent()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHandleClientJoinAfterPrepare(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.service.Prepare("subway"))
	require.NoError(t, f.waitPrepared(t))
	f.service.SetJoinOpen(true)

	alice := world.NewSession("alice", "Alice")
	got := f.join(t, alice)
	assert.Equal(t, RouteWaiting, got.Route)
	assert.Equal(t, MsgWaiting, alice.LastMessage())
	assert.Equal(t, world.ModeAdventure, alice.Mode())
	assert.Equal(t, maps.BoundSpawn{Environment: "mm_active", Spawn: maps.Spawn{X: 10, Y: 64, Z: 10}}, alice.Position())

	f.service.SetState(StateCountdown)
	f.service.SetState(StatePregame)
	f.service.SetState(StateInProgress)

	bob := world.NewSession("bob", "Bob")
	got = f.join(t, bob)
	assert.Equal(t, RouteSpectator, got.Route)
	assert.Equal(t, MsgSpectating, bob.LastMessage())
	assert.Equal(t, world.ModeSpectator, bob.Mode())
	assert.Equal(t, maps.BoundSpawn{Environment: "mm_active", Spawn: maps.Spawn{X: 10, Y: 84, Z: 10}}, bob.Position())

	assert.Equal(t, 2, f.host.ClientCount())
	assert.Empty(t, f.transfer.Sent())
}

func TestHandleClientJoinMapRemoved(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.service.Prepare("subway"))
	require.NoError(t, f.waitPrepared(t))
	f.service.SetJoinOpen(true)

	require.NoError(t, os.WriteFile(f.registry.Path(), []byte("maps:\n  tomb:\n    templateWorld: tpl_tomb\n"), 0o644))
	n, err := f.registry.Reload()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	alice := world.NewSession("alice", "")
	got := f.join(t, alice)
	assert.Equal(t, RouteLobby, got.Route)
	assert.Equal(t, MsgMapMissing, alice.LastMessage())
}

func TestHandleClientJoinPlaceFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.service.Prepare("subway"))
	require.NoError(t, f.waitPrepared(t))
	f.service.SetJoinOpen(true)

	gone := world.NewSession("gone", "")
	gone.Close()
	got := f.join(t, gone)
	assert.Equal(t, RouteLobby, got.Route)
	assert.Equal(t, MsgNotReady, got.Message)
	_, connected := f.host.Client("gone")
	assert.False(t, connected)
}

func TestHandleClientLeave(t *testing.T) {
	f := newFixture(t)
	f.connect(t, world.NewSession("alice", ""))

	var left bool
	require.NoError(t, f.loop.Call(context.Background(), func(c *control.Ctx) error {
		left = f.service.HandleClientLeave(c, "alice")
		return nil
	}))
	assert.True(t, left)
	assert.Equal(t, 0, f.host.ClientCount())
}

func TestRouteString(t *testing.T) {
	assert.Equal(t, "lobby", RouteLobby.String())
	assert.Equal(t, "spectator", RouteSpectator.String())
	assert.Equal(t, "waiting", RouteWaiting.String())
	assert.Equal(t, "unknown", Route(42).String())
}
