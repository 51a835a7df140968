package muc

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"muc-lab/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOpenRoom builds an unlocked room owned by alice.
func newOpenRoom(t *testing.T) *Room {
	t.Helper()
	room := NewRoom("orchard", alice, 0, discardLogger())
	require.NoError(t, room.AddFirstOwner(alice))
	return room
}

func join(t *testing.T, room *Room, nickname, fullJID string) Occupant {
	t.Helper()
	result, err := room.Join(nickname, "", MustParseJID(fullJID))
	require.NoError(t, err)
	return result.Occupant
}

func TestRoom_Creator_Joins_Locked_Room(t *testing.T) {
	req := require.New(t)
	room := NewRoom("orchard", alice, time.Hour, discardLogger())
	req.NoError(room.AddFirstOwner(alice))

	// When the creator enters during the configuration window
	result, err := room.Join("Queen", "", MustParseJID("alice@wonderland.lit/throne"))

	// Then admission succeeds and the self presence announces the new room
	req.NoError(err)
	req.True(result.RoomCreated)
	req.Contains(result.Self.Status, StatusSelfPresence)
	req.Contains(result.Self.Status, StatusRoomCreated)
	req.Equal(RoleModerator, result.Occupant.Role)
}

func TestRoom_Locked_Room_Blocks_Everyone_Else(t *testing.T) {
	req := require.New(t)
	room := NewRoom("orchard", alice, time.Hour, discardLogger())
	req.NoError(room.AddFirstOwner(alice))

	_, err := room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))

	req.ErrorIs(err, errors.ErrRoomLocked)
	req.Equal(0, room.Occupants().Count())
}

func TestRoom_Lock_Window_Elapses(t *testing.T) {
	req := require.New(t)
	room := NewRoom("orchard", alice, time.Nanosecond, discardLogger())
	req.NoError(room.AddFirstOwner(alice))
	time.Sleep(time.Millisecond)

	// The deadline is evaluated lazily on the next admission attempt.
	_, err := room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))

	req.NoError(err)
}

func TestRoom_Join_Empty_Nickname(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)

	_, err := room.Join("   ", "", MustParseJID("bob@wonderland.lit/pub"))

	req.ErrorIs(err, errors.ErrConflict)
}

func TestRoom_Outcast_Is_Turned_Away(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")
	_, err := room.AddOutcast(bob, "off with his head", owner)
	req.NoError(err)

	_, err = room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))

	req.ErrorIs(err, errors.ErrForbidden)
}

func TestRoom_MembersOnly_Gate(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	room.SetMembersOnly(true)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")

	// Given bob has no standing
	_, err := room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))
	req.ErrorIs(err, errors.ErrRegistrationRequired)

	// When bob is granted membership
	_, err = room.AddMember(bob, "", owner)
	req.NoError(err)

	// Then he is admitted with voice
	result, err := room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))
	req.NoError(err)
	req.Equal(RoleParticipant, result.Occupant.Role)
}

func TestRoom_Password_Gate(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	req.NoError(room.Config().SetPassword("jabberwocky"))

	_, err := room.Join("Rabbit", "wrong", MustParseJID("bob@wonderland.lit/pub"))
	req.ErrorIs(err, errors.ErrUnauthorized)

	_, err = room.Join("Rabbit", "jabberwocky", MustParseJID("bob@wonderland.lit/pub"))
	req.NoError(err)
}

func TestRoom_Capacity_Admins_Exempt(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	room.Config().SetMaxOccupants(1)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")
	_, err := room.AddAdmin(carol, owner)
	req.NoError(err)

	// A plain user bounces off the full room
	_, err = room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))
	req.ErrorIs(err, errors.ErrNotAllowed)

	// An admin is admitted past the limit
	_, err = room.Join("Duchess", "", MustParseJID("carol@wonderland.lit/web"))
	req.NoError(err)
}

func TestRoom_Nickname_Held_By_Other_Identity(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	_, err := room.Join("rabbit", "", MustParseJID("carol@wonderland.lit/web"))

	req.ErrorIs(err, errors.ErrNicknameTaken)
}

func TestRoom_Same_Identity_Second_Resource(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	// Same account, second client, distinct nickname: a second occupant.
	result, err := room.Join("Hare", "", MustParseJID("bob@wonderland.lit/web"))
	req.NoError(err)
	req.Equal("Hare", result.Occupant.Nickname)

	// Same client joining again is rejected.
	_, err = room.Join("March", "", MustParseJID("bob@wonderland.lit/pub"))
	req.ErrorIs(err, errors.ErrNicknameTaken)
}

func TestRoom_Reserved_Nickname_Guard(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")
	_, err := room.AddMember(bob, "Rabbit", owner)
	req.NoError(err)

	// Someone else cannot take bob's reserved nickname
	_, err = room.Join("Rabbit", "", MustParseJID("carol@wonderland.lit/web"))
	req.ErrorIs(err, errors.ErrConflict)

	// The holder can
	_, err = room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))
	req.NoError(err)
}

func TestRoom_Login_Restricted_To_Reserved_Nickname(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	room.Config().SetLoginRestrictedToNickname(true)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")
	_, err := room.AddMember(bob, "Rabbit", owner)
	req.NoError(err)

	_, err = room.Join("Hare", "", MustParseJID("bob@wonderland.lit/pub"))
	req.ErrorIs(err, errors.ErrConflict)

	// Case differences against the reservation are fine.
	_, err = room.Join("rabbit", "", MustParseJID("bob@wonderland.lit/pub"))
	req.NoError(err)
}

func TestRoom_Initial_Role_In_Moderated_Room(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	room.Config().SetModerated(true)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")
	_, err := room.AddMember(bob, "", owner)
	req.NoError(err)

	// Members keep voice, strangers start silent
	member := join(t, room, "Rabbit", "bob@wonderland.lit/pub")
	req.Equal(RoleParticipant, member.Role)

	stranger := join(t, room, "Mouse", "dave@wonderland.lit/hole")
	req.Equal(RoleVisitor, stranger.Role)
}

func TestRoom_Join_Broadcast_Follows_Role_Policy(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	room.Config().SetModerated(true)
	room.Config().SetRolesToBroadcastPresence([]Role{RoleModerator, RoleParticipant})

	// A visitor's arrival is not broadcast
	result, err := room.Join("Mouse", "", MustParseJID("dave@wonderland.lit/hole"))
	req.NoError(err)
	req.Equal(RoleVisitor, result.Occupant.Role)
	req.Nil(result.Broadcast)

	// The self presence still goes back to the joiner
	req.Contains(result.Self.Status, StatusSelfPresence)
}

func TestRoom_Presence_Hides_JID_By_Default(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)

	result, err := room.Join("Rabbit", "", MustParseJID("bob@wonderland.lit/pub"))
	req.NoError(err)
	req.True(result.Self.FullJID.IsZero())
	// The routing address is carried regardless of the item policy
	req.Equal(MustParseJID("bob@wonderland.lit/pub"), result.Self.Recipient)

	// Until the room opts into JID discovery
	room.Config().SetCanAnyoneDiscoverJID(true)
	second, err := room.Join("Hare", "", MustParseJID("bob@wonderland.lit/web"))
	req.NoError(err)
	req.Equal(MustParseJID("bob@wonderland.lit/web"), second.Self.FullJID)
}

func TestRoom_Destroy_Addresses_Every_Occupant_By_Default(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	join(t, room, "Queen", "alice@wonderland.lit/throne")
	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	presences := room.Destroy("", "")

	// Even with JID discovery off every eviction stays routable
	req.Len(presences, 2)
	for _, presence := range presences {
		req.True(presence.FullJID.IsZero())
		req.False(presence.Recipient.IsZero())
	}
}

func TestRoom_Leave_NonPersistent_Room_Flagged_For_Destruction(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	result, err := room.Leave("Rabbit")

	req.NoError(err)
	req.Equal(PresenceUnavailable, result.Presence.Type)
	req.True(result.ShouldDestroy)
	req.NotNil(room.Config().EmptyDate())
}

func TestRoom_Leave_Persistent_Room_Survives(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	room.Config().SetPersistent(true)
	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	result, err := room.Leave("Rabbit")

	req.NoError(err)
	req.False(result.ShouldDestroy)
}

func TestRoom_Leave_Unknown_Nickname(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)

	_, err := room.Leave("Ghost")

	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRoom_Kick(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")
	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	presence, err := room.Kick(MustParseJID("bob@wonderland.lit/pub"), owner.FullJID, "late again")

	req.NoError(err)
	req.NotNil(presence)
	req.Equal(PresenceUnavailable, presence.Type)
	req.Equal(RoleNone, presence.Role)
	req.Equal(owner.FullJID, presence.Actor)
	req.Equal("late again", presence.Reason)
	req.Contains(presence.Status, StatusKicked)
	req.False(room.Occupants().Has("Rabbit"))
}

func TestRoom_Kick_Absent_Target_Is_NoOp(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")

	presence, err := room.Kick(MustParseJID("bob@wonderland.lit/pub"), owner.FullJID, "")

	req.NoError(err)
	req.Nil(presence)
}

func TestRoom_Kick_Admin_Is_Not_Allowed(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	owner := join(t, room, "Queen", "alice@wonderland.lit/throne")
	_, err := room.AddAdmin(carol, owner)
	req.NoError(err)
	join(t, room, "Duchess", "carol@wonderland.lit/web")

	_, err = room.Kick(MustParseJID("carol@wonderland.lit/web"), owner.FullJID, "")

	req.ErrorIs(err, errors.ErrNotAllowed)
	req.True(room.Occupants().Has("Duchess"))
}

func TestRoom_Destroy(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	join(t, room, "Queen", "alice@wonderland.lit/throne")
	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	presences := room.Destroy("garden@muc.wonderland.lit", "tea time is over")

	req.Len(presences, 2)
	for _, presence := range presences {
		req.Equal(PresenceUnavailable, presence.Type)
		req.Equal(RoleNone, presence.Role)
		req.Equal(AffiliationNone, presence.Affiliation)
		req.Equal("garden@muc.wonderland.lit", presence.AlternateRoom)
		req.Contains(presence.Status, StatusRoomDestroyed)
	}
	req.True(room.IsDestroyed())
	req.Equal(0, room.Occupants().Count())

	// A destroyed room admits nobody.
	_, err := room.Join("Late", "", MustParseJID("dave@wonderland.lit/hole"))
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRoom_Join_Clears_Empty_Date(t *testing.T) {
	req := require.New(t)
	room := newOpenRoom(t)
	req.NotNil(room.Config().EmptyDate())

	join(t, room, "Rabbit", "bob@wonderland.lit/pub")

	req.Nil(room.Config().EmptyDate())
}
