package muc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"muc-lab/errors"
)

func occupantFixture(nickname, fullJID string) Occupant {
	return Occupant{
		Nickname: nickname,
		FullJID:  MustParseJID(fullJID),
		Role:     RoleParticipant,
	}
}

func TestOccupantRegistry_Add_And_Lookup(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()

	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	byNick, err := registry.ByNickname("Rabbit")
	req.NoError(err)
	req.Equal("Rabbit", byNick.Nickname)

	byJID, err := registry.ByFullJID(MustParseJID("bob@wonderland.lit/pub"))
	req.NoError(err)
	req.Equal("Rabbit", byJID.Nickname)

	req.Equal(1, registry.Count())
}

func TestOccupantRegistry_Nickname_Unique_Case_Insensitive(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	// When another identity takes the same nickname in a different case
	_, err = registry.Add(occupantFixture("rabbit", "carol@wonderland.lit/web"))

	req.ErrorIs(err, errors.ErrNicknameTaken)
	req.Equal(1, registry.Count())
}

func TestOccupantRegistry_Same_Full_JID_Cannot_Join_Twice(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	// Same client, different nickname
	_, err = registry.Add(occupantFixture("Hare", "bob@wonderland.lit/pub"))

	req.ErrorIs(err, errors.ErrNicknameTaken)
}

func TestOccupantRegistry_Two_Resources_Two_Occupants(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()

	// Given two clients of the same account under distinct nicknames
	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)
	_, err = registry.Add(occupantFixture("Hare", "bob@wonderland.lit/web"))
	req.NoError(err)

	// Then both are listed for the bare identity, ordered by nickname
	connected, err := registry.ByBareJID(bob)
	req.NoError(err)
	req.Len(connected, 2)
	req.Equal("Hare", connected[0].Nickname)
	req.Equal("Rabbit", connected[1].Nickname)
}

func TestOccupantRegistry_Remove(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	req.NoError(registry.Remove("rabbit"))

	req.Equal(0, registry.Count())
	_, err = registry.ByFullJID(MustParseJID("bob@wonderland.lit/pub"))
	req.ErrorIs(err, errors.ErrNotFound)

	// The nickname and the full JID are both free again.
	_, err = registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)
}

func TestOccupantRegistry_SetRole_Updates_Copy_Out(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	added, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	updated, err := registry.SetRole("Rabbit", RoleModerator)
	req.NoError(err)
	req.Equal(RoleModerator, updated.Role)

	// The previously returned copy is unaffected.
	req.Equal(RoleParticipant, added.Role)

	current, err := registry.ByNickname("Rabbit")
	req.NoError(err)
	req.Equal(RoleModerator, current.Role)
}

func TestOccupantRegistry_Rename(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	updated, err := registry.Rename("Rabbit", "Hare")

	req.NoError(err)
	req.Equal("Hare", updated.Nickname)
	req.False(registry.Has("Rabbit"))

	byJID, err := registry.ByFullJID(MustParseJID("bob@wonderland.lit/pub"))
	req.NoError(err)
	req.Equal("Hare", byJID.Nickname)
}

func TestOccupantRegistry_Rename_To_Taken_Nickname(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)
	_, err = registry.Add(occupantFixture("Hare", "carol@wonderland.lit/web"))
	req.NoError(err)

	_, err = registry.Rename("Rabbit", "hare")

	req.ErrorIs(err, errors.ErrNicknameTaken)
	req.True(registry.Has("Rabbit"))
}

func TestOccupantRegistry_Rename_Case_Change_Of_Own_Nickname(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	_, err := registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	// Changing only the case of one's own nickname is allowed.
	updated, err := registry.Rename("Rabbit", "RABBIT")

	req.NoError(err)
	req.Equal("RABBIT", updated.Nickname)
	req.Equal(1, registry.Count())
}

func TestOccupantRegistry_Role_Filters(t *testing.T) {
	req := require.New(t)
	registry := NewOccupantRegistry()
	_, err := registry.Add(Occupant{
		Nickname: "Queen", FullJID: MustParseJID("alice@wonderland.lit/throne"), Role: RoleModerator,
	})
	req.NoError(err)
	_, err = registry.Add(occupantFixture("Rabbit", "bob@wonderland.lit/pub"))
	req.NoError(err)

	req.Len(registry.Moderators(), 1)
	req.Equal("Queen", registry.Moderators()[0].Nickname)
	req.Len(registry.Participants(), 1)
	req.Equal("Rabbit", registry.Participants()[0].Nickname)
}
