package serverinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func register(t *Table, id string, serviceID uint16, state State, region string) {
	t.Register(Info{
		ServerID:      id,
		BindEndpoint:  "tcp://" + id,
		Role:          RolePlay,
		ServiceID:     serviceID,
		State:         state,
		Region:        region,
		LastHeartbeat: time.Now(),
	})
}

func TestRegisterAndFindByID(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")

	info, ok := tbl.FindByID("play-1")
	assert.True(t, ok)
	assert.Equal(t, "play-1", info.ServerID)
}

func TestFindByIDMissing(t *testing.T) {
	tbl := New()
	_, ok := tbl.FindByID("nope")
	assert.False(t, ok)
}

func TestRemoveDropsEntry(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")
	tbl.Remove("play-1")

	_, ok := tbl.FindByID("play-1")
	assert.False(t, ok)
}

func TestFindByEndpoint(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")

	info, ok := tbl.FindByEndpoint("tcp://play-1")
	assert.True(t, ok)
	assert.Equal(t, "play-1", info.ServerID)
}

func TestFindRoundRobinCyclesThroughLiveMembers(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")
	register(tbl, "play-2", 1, StateRunning, "")

	seen := make(map[string]int)
	for range 4 {
		info, ok := tbl.FindRoundRobin(1)
		if ok {
			seen[info.ServerID]++
		}
	}

	assert.Equal(t, 2, seen["play-1"])
	assert.Equal(t, 2, seen["play-2"])
}

func TestFindRoundRobinSkipsNonRunningMembers(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")
	register(tbl, "play-2", 1, StatePaused, "")

	for range 3 {
		info, ok := tbl.FindRoundRobin(1)
		assert.True(t, ok)
		assert.Equal(t, "play-1", info.ServerID)
	}
}

func TestFindRoundRobinNoLiveMembers(t *testing.T) {
	tbl := New()
	_, ok := tbl.FindRoundRobin(1)
	assert.False(t, ok)
}

func TestFindByAccountIDIsStableAcrossCalls(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")
	register(tbl, "play-2", 1, StateRunning, "")
	register(tbl, "play-3", 1, StateRunning, "")

	first, ok := tbl.FindByAccountID(1, "account-42")
	assert.True(t, ok)

	for range 10 {
		again, ok := tbl.FindByAccountID(1, "account-42")
		assert.True(t, ok)
		assert.Equal(t, first.ServerID, again.ServerID)
	}
}

func TestFindByAccountIDDistributesAcrossMembers(t *testing.T) {
	tbl := New()
	for i := range 8 {
		register(tbl, string(rune('a'+i)), 1, StateRunning, "")
	}

	seen := make(map[string]bool)
	for i := range 200 {
		info, ok := tbl.FindByAccountID(1, string(rune(i))+"-acct")
		if ok {
			seen[info.ServerID] = true
		}
	}
	assert.Greater(t, len(seen), 1)
}

func TestFindByRegionFiltersMembers(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "us-east")
	register(tbl, "play-2", 1, StateRunning, "eu-west")

	usEast := tbl.FindByRegion(1, "us-east")
	assert.Len(t, usEast, 1)
	assert.Equal(t, "play-1", usEast[0].ServerID)
}

func TestSweepStaleRemovesMissedHeartbeats(t *testing.T) {
	tbl := New()
	tbl.Register(Info{
		ServerID:      "play-1",
		ServiceID:     1,
		State:         StateRunning,
		LastHeartbeat: time.Now().Add(-time.Hour),
	})
	tbl.Register(Info{
		ServerID:      "play-2",
		ServiceID:     1,
		State:         StateRunning,
		LastHeartbeat: time.Now(),
	})

	removed := tbl.SweepStale(time.Now(), time.Second, 3)
	assert.Contains(t, removed, "play-1")

	_, ok := tbl.FindByID("play-1")
	assert.False(t, ok)
	_, ok = tbl.FindByID("play-2")
	assert.True(t, ok)
}

func TestHeartbeatUpdatesState(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")

	now := time.Now()
	tbl.Heartbeat("play-1", StatePaused, now)

	info, ok := tbl.FindByID("play-1")
	assert.True(t, ok)
	assert.Equal(t, StatePaused, info.State)
	assert.WithinDuration(t, now, info.LastHeartbeat, time.Millisecond)
}

func TestListReturnsSnapshot(t *testing.T) {
	tbl := New()
	register(tbl, "play-1", 1, StateRunning, "")
	register(tbl, "play-2", 1, StateRunning, "")

	all := tbl.List()
	assert.Len(t, all, 2)
}
