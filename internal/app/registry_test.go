package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelov/meetspace/internal/core"
	"github.com/avelov/meetspace/internal/domain"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func bindUser(t *testing.T, r *Registry, sid core.SessionID, name string) *domain.User {
	t.Helper()
	user, err := domain.NewUser(domain.UserID(sid), name)
	require.NoError(t, err)
	r.Bind(sid, user, core.NewMemberSession(domain.NewMember(user), nopConn{}), nil)
	return user
}

func TestRegistryBindUnbind(t *testing.T) {
	r := NewRegistry()
	bindUser(t, r, "s1", "alice")

	assert.True(t, r.Live("s1"))
	assert.Equal(t, 1, r.Count())

	u, ok := r.User("s1")
	require.True(t, ok)
	assert.Equal(t, "alice", u.Username)

	r.Unbind("s1")
	assert.False(t, r.Live("s1"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistryRoomAssociation(t *testing.T) {
	r := NewRegistry()
	bindUser(t, r, "s1", "alice")

	_, ok := r.RoomOf("s1")
	assert.False(t, ok)

	assert.True(t, r.SetRoom("s1", "r1"))
	room, ok := r.RoomOf("s1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r1"), room)

	r.ClearRoom("s1")
	_, ok = r.RoomOf("s1")
	assert.False(t, ok)

	assert.False(t, r.SetRoom("ghost", "r1"))
}

func TestRegistryUpdateUsername(t *testing.T) {
	r := NewRegistry()
	bindUser(t, r, "s1", "alice")

	require.NoError(t, r.UpdateUsername("s1", "alicia"))
	u, _ := r.User("s1")
	assert.Equal(t, "alicia", u.Username)

	assert.ErrorIs(t, r.UpdateUsername("ghost", "x"), core.ErrNotFound)
	assert.ErrorIs(t, r.UpdateUsername("s1", ""), domain.ErrUsernameEmpty)
}

func TestRegistryCancelInvokesSessionCancel(t *testing.T) {
	r := NewRegistry()
	user, err := domain.NewUser("s1", "alice")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("s1", user, core.NewMemberSession(domain.NewMember(user), nopConn{}), cancel)

	assert.True(t, r.Cancel("s1"))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel not propagated")
	}
	assert.False(t, r.Cancel("ghost"))
}

func TestRegistryRemembersNamesByToken(t *testing.T) {
	r := NewRegistry()

	r.RememberName("tok-1", "alice")
	assert.Equal(t, "alice", r.RememberedName("tok-1"))
	assert.Empty(t, r.RememberedName("tok-2"))

	// Empty tokens and names are never stored.
	r.RememberName("", "bob")
	r.RememberName("tok-3", "")
	assert.Empty(t, r.RememberedName(""))
	assert.Empty(t, r.RememberedName("tok-3"))
}
