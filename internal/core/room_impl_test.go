package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelov/meetspace/internal/domain"
)

type fakeConn struct {
	frames []Frame
	closed bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func member(t *testing.T, id, name string) (MemberSession, *fakeConn) {
	t.Helper()
	user, err := domain.NewUser(domain.UserID(id), name)
	require.NoError(t, err)
	conn := &fakeConn{}
	return NewMemberSession(domain.NewMember(user), conn), conn
}

func TestHostIsFirstInserted(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})

	a, _ := member(t, "a", "alice")
	b, _ := member(t, "b", "bob")
	c, _ := member(t, "c", "carol")
	room.AddMember("a", a)
	room.AddMember("b", b)
	room.AddMember("c", c)

	snap := room.MembersSnapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, domain.UserID("a"), snap[0].ID)
	assert.True(t, snap[0].IsHost)
	assert.False(t, snap[1].IsHost)
	assert.False(t, snap[2].IsHost)
}

func TestLeavePromotesNextMember(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})

	a, _ := member(t, "a", "alice")
	b, _ := member(t, "b", "bob")
	c, _ := member(t, "c", "carol")
	room.AddMember("a", a)
	room.AddMember("b", b)
	room.AddMember("c", c)

	room.RemoveMember("a")

	snap := room.MembersSnapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.UserID("b"), snap[0].ID)
	assert.True(t, snap[0].IsHost)
	assert.Equal(t, domain.UserID("c"), snap[1].ID)
	assert.False(t, snap[1].IsHost)
}

func TestInsertionOrderSurvivesChurn(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})

	for _, id := range []string{"a", "b", "c", "d"} {
		ms, _ := member(t, id, id)
		room.AddMember(SessionID(id), ms)
	}
	room.RemoveMember("b")
	e, _ := member(t, "e", "erin")
	room.AddMember("e", e)

	ids := room.MemberIDs()
	assert.Equal(t, []SessionID{"a", "c", "d", "e"}, ids)
}

func TestRejoinKeepsPosition(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})

	a, _ := member(t, "a", "alice")
	b, _ := member(t, "b", "bob")
	room.AddMember("a", a)
	room.AddMember("b", b)
	room.AddMember("a", a) // duplicate add must not demote the host

	snap := room.MembersSnapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.UserID("a"), snap[0].ID)
	assert.True(t, snap[0].IsHost)
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})

	a, connA := member(t, "a", "alice")
	b, connB := member(t, "b", "bob")
	room.AddMember("a", a)
	room.AddMember("b", b)

	res := room.Broadcast("a", Frame("hello"))
	assert.Equal(t, 1, res.SendTo)
	assert.Empty(t, connA.frames)
	require.Len(t, connB.frames, 1)
	assert.Equal(t, Frame("hello"), connB.frames[0])
}

func TestBroadcastToEveryone(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})

	a, connA := member(t, "a", "alice")
	b, connB := member(t, "b", "bob")
	room.AddMember("a", a)
	room.AddMember("b", b)

	res := room.Broadcast("", Frame("list"))
	assert.Equal(t, 2, res.SendTo)
	assert.Len(t, connA.frames, 1)
	assert.Len(t, connB.frames, 1)
}

func TestBroadcastReportsDropped(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})

	user, err := domain.NewUser("a", "alice")
	require.NoError(t, err)
	stuck := &stuckConn{}
	room.AddMember("a", NewMemberSession(domain.NewMember(user), stuck))

	res := room.Broadcast("", Frame("x"))
	assert.Equal(t, 0, res.SendTo)
	assert.Equal(t, []SessionID{"a"}, res.Dropped)
}

type stuckConn struct{}

func (stuckConn) TrySend(Frame) error { return assert.AnError }
func (stuckConn) Close()              {}
