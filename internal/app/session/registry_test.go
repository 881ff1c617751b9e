package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/shelfcast/internal/domain/playback"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(DefaultConfig())
	r.now = clock.Now
	return r, clock
}

func testBook() *playback.Audiobook {
	return &playback.Audiobook{ID: 5, Title: "T", Duration: 100, FilePath: "/a.mp3"}
}

func TestRegistry_EndToEnd(t *testing.T) {
	r, _ := newTestRegistry()

	s, err := r.Update(UpdateRequest{
		SessionID: "s1",
		UserID:    7,
		Username:  "u",
		Audiobook: testBook(),
		Position:  50,
		State:     playback.StatePlaying,
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 50, r.Get("s1").ProgressPercent)

	_, err = r.Update(UpdateRequest{
		SessionID: "s1",
		UserID:    7,
		Username:  "u",
		Audiobook: testBook(),
		Position:  100,
		State:     playback.StatePlaying,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, r.Get("s1").ProgressPercent)

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "s1", all[0].SessionID)

	stopped := r.Stop("s1")
	require.NotNil(t, stopped)
	assert.Equal(t, playback.StateStopped, stopped.State)

	assert.Empty(t, r.All())
	assert.Empty(t, r.UserSessions(7))
	got := r.Get("s1")
	require.NotNil(t, got)
	assert.Equal(t, playback.StateStopped, got.State)
}

func TestRegistry_Update_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		req     UpdateRequest
		wantErr error
	}{
		{
			name:    "no audiobook, no user",
			req:     UpdateRequest{SessionID: "x"},
			wantErr: ErrMissingAudiobook,
		},
		{
			name:    "no user id",
			req:     UpdateRequest{SessionID: "x", Username: "u", Audiobook: testBook()},
			wantErr: ErrMissingIdentity,
		},
		{
			name:    "no username",
			req:     UpdateRequest{SessionID: "x", UserID: 7, Audiobook: testBook()},
			wantErr: ErrMissingIdentity,
		},
		{
			name:    "no session id",
			req:     UpdateRequest{UserID: 7, Username: "u", Audiobook: testBook()},
			wantErr: ErrMissingSessionID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry()

			s, err := r.Update(tt.req)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, r.Count())
			assert.Nil(t, r.Get("x"))
		})
	}
}

func TestRegistry_Update_DerivedFields(t *testing.T) {
	r, _ := newTestRegistry()

	s, err := r.Update(UpdateRequest{
		SessionID: "web-1-2",
		UserID:    1,
		Username:  "u",
		Audiobook: &playback.Audiobook{ID: 2, Duration: 36000, FilePath: "/lib/x.m4b", FileSize: 36_000_000},
	})
	require.NoError(t, err)

	assert.Equal(t, "aac", s.AudioCodec)
	assert.Equal(t, "m4b", s.Container)
	require.NotNil(t, s.Bitrate)
	assert.Equal(t, 8, *s.Bitrate)
	assert.Equal(t, playback.StatePlaying, s.State)
	assert.Equal(t, playback.DefaultClientName, s.ClientName)
	assert.False(t, s.Transcoding)
}

func TestRegistry_Update_ReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry()

	s, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook(), Position: 10})
	require.NoError(t, err)

	s.Position = 99
	s.State = playback.StateStopped

	got := r.Get("s1")
	assert.Equal(t, float64(10), got.Position)
	assert.Equal(t, playback.StatePlaying, got.State)
}

func TestRegistry_GracePeriod(t *testing.T) {
	r, clock := newTestRegistry()

	_, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)
	r.Stop("s1")

	clock.Advance(29 * time.Second)
	got := r.Get("s1")
	require.NotNil(t, got)
	assert.Equal(t, playback.StateStopped, got.State)

	clock.Advance(time.Second)
	assert.Nil(t, r.Get("s1"))

	r.sweep()
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Stop_Idempotent(t *testing.T) {
	r, clock := newTestRegistry()

	assert.NotPanics(t, func() {
		assert.Nil(t, r.Stop("unknown"))
	})

	_, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)

	var stops int
	r.OnStop(func(*playback.Session) { stops++ })

	first := r.Stop("s1")
	require.NotNil(t, first)

	clock.Advance(20 * time.Second)
	assert.Nil(t, r.Stop("s1"))
	assert.Equal(t, 1, stops)

	// Deletion stays anchored to the first stop.
	clock.Advance(10 * time.Second)
	assert.Nil(t, r.Get("s1"))
}

func TestRegistry_Sweep_EvictsStale(t *testing.T) {
	r, clock := newTestRegistry()

	var evicted []string
	r.OnStop(func(s *playback.Session) { evicted = append(evicted, s.SessionID) })

	_, err := r.Update(UpdateRequest{SessionID: "old", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	_, err = r.Update(UpdateRequest{SessionID: "fresh", UserID: 7, Username: "u", Audiobook: testBook(), State: playback.StatePaused})
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)
	r.sweep()

	assert.Equal(t, []string{"old"}, evicted)
	assert.Equal(t, playback.StateStopped, r.Get("old").State)

	user := r.UserSessions(7)
	require.Len(t, user, 1)
	assert.Equal(t, "fresh", user[0].SessionID)

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "fresh", all[0].SessionID)
}

func TestRegistry_Sweep_BoundaryIsExclusive(t *testing.T) {
	r, clock := newTestRegistry()

	_, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	r.sweep()
	assert.Equal(t, playback.StatePlaying, r.Get("s1").State)

	clock.Advance(time.Millisecond)
	r.sweep()
	assert.Equal(t, playback.StateStopped, r.Get("s1").State)
}

func TestRegistry_Update_StoppedState(t *testing.T) {
	r, clock := newTestRegistry()

	_, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)

	s, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook(), Position: 100, State: playback.StateStopped})
	require.NoError(t, err)
	assert.Equal(t, playback.StateStopped, s.State)

	assert.Empty(t, r.UserSessions(7))
	assert.Empty(t, r.All())
	assert.NotNil(t, r.Get("s1"))

	clock.Advance(30 * time.Second)
	assert.Nil(t, r.Get("s1"))
}

func TestRegistry_Update_RepeatedStoppedState(t *testing.T) {
	r, clock := newTestRegistry()

	var stops int
	r.OnStop(func(*playback.Session) { stops++ })

	_, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)
	_, err = r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook(), Position: 100, State: playback.StateStopped})
	require.NoError(t, err)

	clock.Advance(25 * time.Second)
	s, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook(), Position: 101, State: playback.StateStopped})
	require.NoError(t, err)
	assert.Equal(t, playback.StateStopped, s.State)
	assert.Equal(t, 101.0, s.Position)

	got := r.Get("s1")
	require.NotNil(t, got)
	assert.Equal(t, 101.0, got.Position)
	assert.Empty(t, r.UserSessions(7))

	// Deadline stays anchored to the first stop.
	clock.Advance(5 * time.Second)
	assert.Nil(t, r.Get("s1"))
	assert.Equal(t, 1, stops)
}

func TestRegistry_Update_AfterGraceExpiry_MovesToEnd(t *testing.T) {
	r, clock := newTestRegistry()

	for _, id := range []string{"a", "b"} {
		_, err := r.Update(UpdateRequest{SessionID: id, UserID: 7, Username: "u", Audiobook: testBook()})
		require.NoError(t, err)
	}
	r.Stop("a")

	clock.Advance(31 * time.Second)
	_, err := r.Update(UpdateRequest{SessionID: "a", UserID: 7, Username: "u", Audiobook: testBook(), Position: 5})
	require.NoError(t, err)

	var ids []string
	for _, s := range r.All() {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"b", "a"}, ids)
	assert.Equal(t, 2, r.Count())
	assert.Len(t, r.UserSessions(7), 2)

	// A fresh record is not deleted by the old deadline.
	clock.Advance(time.Minute)
	assert.NotNil(t, r.Get("a"))
}

func TestRegistry_Update_ResumesWithinGracePeriod(t *testing.T) {
	r, clock := newTestRegistry()

	_, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)
	r.Stop("s1")

	clock.Advance(10 * time.Second)
	_, err = r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook(), Position: 60})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	got := r.Get("s1")
	require.NotNil(t, got)
	assert.Equal(t, playback.StatePlaying, got.State)
	assert.Len(t, r.UserSessions(7), 1)
}

func TestRegistry_All_InsertionOrder(t *testing.T) {
	r, _ := newTestRegistry()

	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Update(UpdateRequest{SessionID: id, UserID: 7, Username: "u", Audiobook: testBook()})
		require.NoError(t, err)
	}
	r.Stop("a")

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].SessionID)
	assert.Equal(t, "b", all[1].SessionID)
}

func TestRegistry_UserSessions_ScopedByUser(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Update(UpdateRequest{SessionID: "web-7-5", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)
	_, err = r.Update(UpdateRequest{SessionID: "web-8-5", UserID: 8, Username: "v", Audiobook: testBook()})
	require.NoError(t, err)

	assert.Len(t, r.UserSessions(7), 1)
	assert.Len(t, r.UserSessions(8), 1)
	assert.Empty(t, r.UserSessions(9))
}

func TestRegistry_StartClose(t *testing.T) {
	r := NewRegistry(Config{SweepInterval: 10 * time.Millisecond, StaleAfter: time.Millisecond, GracePeriod: time.Hour})

	stopped := make(chan string, 1)
	r.OnStop(func(s *playback.Session) { stopped <- s.SessionID })

	_, err := r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook()})
	require.NoError(t, err)

	r.Start(context.Background())
	defer r.Close()

	select {
	case id := <-stopped:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("stale session was not evicted by the sweep")
	}

	r.Close()
	r.Close()
}

func TestRegistry_Close_WithoutStart(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	assert.NotPanics(t, r.Close)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			_, _ = r.Update(UpdateRequest{SessionID: "s1", UserID: 7, Username: "u", Audiobook: testBook(), Position: float64(pos)})
			_ = r.All()
			_ = r.UserSessions(7)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.UserSessions(7), 1)
}
