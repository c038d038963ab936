package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/roster"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

type recordingAnnouncer struct {
	calls []string
	// rosterLenAtHide captures the live roster size when the lobby is torn
	// down, to prove the snapshot was already taken.
	live            *roster.Roster
	rosterLenAtHide int
}

func (a *recordingAnnouncer) HideLobby() {
	a.calls = append(a.calls, "hide_lobby")
	if a.live != nil {
		a.rosterLenAtHide = a.live.Len()
		a.live.Clear()
	}
}

func (a *recordingAnnouncer) LoadWorld(scene string) {
	a.calls = append(a.calls, "load_world:"+scene)
}

type registrySpawner struct {
	reg    *Registry
	nextID types.NetworkID
	fail   map[types.ClientID]error
	pos    []types.Vec3
}

func (s *registrySpawner) Spawn(slot int, e roster.Entry, res catalog.Resolution, pos types.Vec3) (*character.Character, error) {
	if err := s.fail[e.ClientID]; err != nil {
		return nil, err
	}
	s.nextID++
	c := character.New(s.nextID, e.ClientID, replication.ServerHolder)
	stats := res.Descriptor.Stats
	stats.CharacterIndex = res.Index
	c.Seed(stats)
	if err := c.Vars().Seed(replication.FieldPosition, replication.Vector(pos)); err != nil {
		return nil, err
	}
	s.pos = append(s.pos, pos)
	return c, s.reg.Add(c)
}

func newHarness(t *testing.T, cfg Config) (*Sequencer, *recordingAnnouncer, *registrySpawner, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	ann := &recordingAnnouncer{}
	sp := &registrySpawner{reg: NewRegistry()}
	seq := NewSequencer(cfg, catalog.Default().Characters, ann, sp, zap.New(core))
	return seq, ann, sp, logs
}

func TestLayout_Position(t *testing.T) {
	l := Layout{Spacing: 3, Height: 1.5}
	for i := 0; i < 9; i++ {
		want := types.Vec3{X: float64(i%2) * 3, Y: 1.5, Z: float64(i/2) * 3}
		assert.Equal(t, want, l.Position(i), "slot %d", i)
	}
	assert.Equal(t, types.Vec3{X: 3, Y: 1.5, Z: 6}, l.Position(5))
}

func TestSingleHostScenario(t *testing.T) {
	seq, ann, sp, _ := newHarness(t, Config{Scene: "world", Layout: Layout{Spacing: 3, Height: 2}})
	r := roster.New()
	r.Submit(1, "Host", true, 0)
	require.True(t, r.AllReady())

	snap, err := seq.Start(r)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, StateWorldLoading, seq.State())
	assert.Equal(t, []string{"hide_lobby", "load_world:world"}, ann.calls)

	require.True(t, seq.ReportLoaded(1))
	spawned, err := seq.LoadCompleted(seq.Loaded())
	require.NoError(t, err)
	require.Len(t, spawned, 1)

	c := spawned[0].Character
	assert.Equal(t, types.ClientID(1), c.Owner())
	assert.Equal(t, types.Vec3{X: 0, Y: 2, Z: 0}, c.Position())
	assert.Equal(t, StateActive, seq.State())
	assert.Equal(t, 1, sp.reg.Len())
}

func TestStart_RequiresAllReady(t *testing.T) {
	seq, ann, _, _ := newHarness(t, Config{})
	r := roster.New()
	r.Submit(1, "Host", true, 0)
	r.Submit(2, "Guest", false, 0)

	_, err := seq.Start(r)
	require.ErrorIs(t, err, ErrNotAllReady)
	assert.Equal(t, StateLobbyOpen, seq.State())
	assert.Empty(t, ann.calls)

	_, err = seq.Start(roster.New())
	require.ErrorIs(t, err, ErrNotAllReady, "empty roster cannot start")
}

func TestStart_SnapshotBeforeTeardown(t *testing.T) {
	seq, ann, _, _ := newHarness(t, Config{})
	r := roster.New()
	r.Submit(1, "a", true, 0)
	r.Submit(2, "b", true, 1)
	ann.live = r

	snap, err := seq.Start(r)
	require.NoError(t, err)
	assert.Equal(t, 2, ann.rosterLenAtHide)
	assert.Equal(t, 0, r.Len(), "teardown cleared the live roster")
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 2, seq.Snapshot().Len())
}

func TestTransitions_OutOfOrder(t *testing.T) {
	seq, _, _, _ := newHarness(t, Config{})
	_, err := seq.LoadCompleted(nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	r := roster.New()
	r.Submit(1, "a", true, 0)
	_, err = seq.Start(r)
	require.NoError(t, err)
	_, err = seq.Start(r)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLoadCompleted_SpawnsInSnapshotOrder(t *testing.T) {
	seq, _, sp, _ := newHarness(t, Config{Layout: Layout{Spacing: 4}})
	r := roster.New()
	for id := types.ClientID(10); id < 15; id++ {
		r.Submit(id, "p", true, 0)
	}
	_, err := seq.Start(r)
	require.NoError(t, err)

	spawned, err := seq.LoadCompleted(nil)
	require.NoError(t, err)
	require.Len(t, spawned, 5)
	for i, s := range spawned {
		assert.Equal(t, i, s.Slot)
		assert.Equal(t, types.ClientID(10+i), s.Character.Owner())
		assert.Equal(t, Layout{Spacing: 4}.Position(i), sp.pos[i])
	}
}

func TestLoadCompleted_PerParticipantFailuresAreIsolated(t *testing.T) {
	seq, _, sp, logs := newHarness(t, Config{})
	boom := errors.New("instantiate failed")
	sp.fail = map[types.ClientID]error{2: boom}

	r := roster.New()
	r.Submit(1, "ok", true, 1)
	r.Submit(2, "broken", true, 0)
	r.Submit(3, "bad index", true, 42)
	_, err := seq.Start(r)
	require.NoError(t, err)

	spawned, err := seq.LoadCompleted([]types.ClientID{1, 2, 3})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	assert.Len(t, multierr.Errors(err), 1)

	require.Len(t, spawned, 2)
	assert.Equal(t, types.ClientID(1), spawned[0].Entry.ClientID)
	assert.Equal(t, types.ClientID(3), spawned[1].Entry.ClientID)
	assert.Equal(t, 0, int(spawned[1].Character.Vars().Number(replication.FieldCharacterIndex)), "bad index fell back to 0")
	assert.Equal(t, 1, logs.FilterMessage("character index unusable, using index 0").Len())
	assert.Equal(t, StateActive, seq.State())
}

func TestLoadCompleted_NoUsableDescriptorSkipsOnlyThatParticipant(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	sp := &registrySpawner{reg: NewRegistry()}
	chars := catalog.NewCharacters(nil, &catalog.Descriptor{Name: "Knight", Prefab: "knight"})
	seq := NewSequencer(Config{}, chars, &recordingAnnouncer{}, sp, zap.New(core))

	r := roster.New()
	r.Submit(1, "a", true, 1)
	r.Submit(2, "b", true, 5)
	_, err := seq.Start(r)
	require.NoError(t, err)

	spawned, err := seq.LoadCompleted(nil)
	require.ErrorIs(t, err, catalog.ErrNoDescriptor)
	require.Len(t, spawned, 1)
	assert.Equal(t, types.ClientID(1), spawned[0].Entry.ClientID)
}

func TestReportLoaded_Barrier(t *testing.T) {
	seq, _, _, _ := newHarness(t, Config{})
	r := roster.New()
	r.Submit(1, "a", true, 0)
	r.Submit(2, "b", true, 0)
	_, err := seq.Start(r)
	require.NoError(t, err)

	assert.False(t, seq.ReportLoaded(1))
	assert.False(t, seq.ReportLoaded(99), "outsiders do not count")
	assert.False(t, seq.ReportLoaded(1), "duplicates do not count")
	assert.True(t, seq.ReportLoaded(2))
	assert.Equal(t, []types.ClientID{1, 2}, seq.Loaded())
}

func TestEntryFor(t *testing.T) {
	cases := []struct {
		name      string
		fallback  bool
		client    types.ClientID
		wantSlot  int
		wantOwner types.ClientID
		wantErr   error
	}{
		{name: "present", client: 2, wantSlot: 1, wantOwner: 2},
		{name: "missing is rejected by default", client: 9, wantSlot: -1, wantErr: ErrNoRosterEntry},
		{name: "missing falls back when enabled", fallback: true, client: 9, wantSlot: 0, wantOwner: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq, _, _, logs := newHarness(t, Config{FallbackToFirst: tc.fallback})
			r := roster.New()
			r.Submit(1, "a", true, 0)
			r.Submit(2, "b", true, 0)
			_, err := seq.Start(r)
			require.NoError(t, err)

			e, slot, err := seq.EntryFor(tc.client)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, 1, logs.FilterMessage("no roster entry for client").Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantSlot, slot)
			assert.Equal(t, tc.wantOwner, e.ClientID)
		})
	}
}

func TestRegistry_RemoveDetaches(t *testing.T) {
	reg := NewRegistry()
	c := character.New(1, 5, replication.Holder{Client: 5})
	require.NoError(t, reg.Add(c))
	require.ErrorIs(t, reg.Add(c), ErrDuplicateEntity)

	c.Attach(replication.FieldIsDead, func(replication.Field, replication.Value, replication.Value) {})
	owner, ok := reg.OwnerOf(1)
	require.True(t, ok)
	assert.Equal(t, types.ClientID(5), owner)

	got, ok := reg.ByOwner(5)
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = reg.Remove(1)
	require.True(t, ok)
	assert.Equal(t, 0, c.Vars().Subscribers())
	_, ok = reg.Lookup(1)
	assert.False(t, ok)
	assert.Empty(t, reg.All())
}
