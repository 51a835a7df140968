package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"muc-lab/contract"
	"muc-lab/domain/muc"
	"muc-lab/errors"
	"muc-lab/observability"
)

type deliveredPresence struct {
	Presence muc.Presence
	To       muc.JID
}

type deliveredMessage struct {
	Message muc.Message
	To      muc.JID
}

type fakeDeliverer struct {
	presences []deliveredPresence
	messages  []deliveredMessage
}

func (f *fakeDeliverer) DeliverPresence(ctx context.Context, presence muc.Presence, to muc.JID) {
	f.presences = append(f.presences, deliveredPresence{Presence: presence, To: to})
}

func (f *fakeDeliverer) DeliverMessage(ctx context.Context, message muc.Message, to muc.JID) {
	f.messages = append(f.messages, deliveredMessage{Message: message, To: to})
}

func (f *fakeDeliverer) presencesFor(to muc.JID) []muc.Presence {
	var out []muc.Presence
	for _, d := range f.presences {
		if d.To == to {
			out = append(out, d.Presence)
		}
	}
	return out
}

func (f *fakeDeliverer) messagesFor(to muc.JID) []muc.Message {
	var out []muc.Message
	for _, d := range f.messages {
		if d.To == to {
			out = append(out, d.Message)
		}
	}
	return out
}

type fakeHistory struct {
	appended []muc.Message
	canned   []muc.Message
}

func (f *fakeHistory) Append(ctx context.Context, message muc.Message) error {
	f.appended = append(f.appended, message)
	return nil
}

func (f *fakeHistory) Replay(ctx context.Context, room string, request muc.HistoryRequest) ([]muc.Message, error) {
	return request.Apply(f.canned, time.Now()), nil
}

type fakeStore struct {
	snapshots map[string]contract.RoomSnapshot
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]contract.RoomSnapshot)}
}

func (f *fakeStore) Save(ctx context.Context, snapshot contract.RoomSnapshot) (int64, error) {
	if snapshot.ID < 0 {
		f.nextID++
		snapshot.ID = f.nextID
	}
	f.snapshots[snapshot.Name] = snapshot
	return snapshot.ID, nil
}

func (f *fakeStore) Load(ctx context.Context, name string) (contract.RoomSnapshot, error) {
	snapshot, ok := f.snapshots[name]
	if !ok {
		return contract.RoomSnapshot{}, fmt.Errorf("%w: room %q", errors.ErrNotFound, name)
	}
	return snapshot, nil
}

type managerFixture struct {
	manager   *RoomManager
	deliverer *fakeDeliverer
	history   *fakeHistory
	store     *fakeStore
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	deliverer := &fakeDeliverer{}
	history := &fakeHistory{}
	store := newFakeStore()
	manager := NewRoomManager(deliverer, history, store,
		observability.NewRoomMetrics(log), 0, log)
	return &managerFixture{
		manager:   manager,
		deliverer: deliverer,
		history:   history,
		store:     store,
	}
}

var (
	aliceThrone = muc.MustParseJID("alice@wonderland.lit/throne")
	bobPub      = muc.MustParseJID("bob@wonderland.lit/pub")
	davePub     = muc.MustParseJID("dave@wonderland.lit/hole")
)

func (f *managerFixture) createOrchard(t *testing.T) *muc.Room {
	t.Helper()
	room, err := f.manager.CreateRoom("orchard", aliceThrone)
	require.NoError(t, err)
	return room
}

func (f *managerFixture) join(t *testing.T, nickname string, userJID muc.JID) muc.Occupant {
	t.Helper()
	result, _, err := f.manager.Join(context.Background(), "orchard", nickname, "", userJID, muc.HistoryRequest{})
	require.NoError(t, err)
	return result.Occupant
}

func TestRoomManager_CreateRoom_Conflict(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)

	_, err := f.manager.CreateRoom("orchard", bobPub)

	req.ErrorIs(err, errors.ErrConflict)
}

func TestRoomManager_Join_Delivers_Self_Broadcast_And_History(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	room := f.createOrchard(t)
	f.join(t, "Queen", aliceThrone)
	room.Config().SetSubject("Croquet at noon")
	f.history.canned = []muc.Message{{Room: "orchard", Body: "earlier talk", SentAt: time.Now()}}

	result, history, err := f.manager.Join(context.Background(), "orchard", "Rabbit", "", bobPub, muc.HistoryRequest{})

	req.NoError(err)
	req.Len(history, 1)

	// The joiner got the self presence, the replayed transcript and the
	// current subject.
	selfPresences := f.deliverer.presencesFor(bobPub)
	req.NotEmpty(selfPresences)
	last := selfPresences[len(selfPresences)-1]
	req.Contains(last.Status, muc.StatusSelfPresence)

	inbox := f.deliverer.messagesFor(bobPub)
	req.Len(inbox, 2)
	req.Equal("earlier talk", inbox[0].Body)
	req.Equal("Croquet at noon", inbox[1].Subject)

	// The other occupant saw the arrival but no history replay.
	queenPresences := f.deliverer.presencesFor(aliceThrone)
	req.Equal(result.Occupant.Nickname, queenPresences[len(queenPresences)-1].Nickname)
	req.Empty(f.deliverer.messagesFor(aliceThrone))
}

func TestRoomManager_Join_Unknown_Room(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)

	_, _, err := f.manager.Join(context.Background(), "nowhere", "Rabbit", "", bobPub, muc.HistoryRequest{})

	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRoomManager_Leave_Tears_Down_Empty_Room(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	f.join(t, "Queen", aliceThrone)

	req.NoError(f.manager.Leave(context.Background(), "orchard", "Queen"))

	// The non-persistent room is gone once its last occupant leaves.
	_, err := f.manager.Room("orchard")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRoomManager_Leave_Persistent_Room_Stays(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	room := f.createOrchard(t)
	room.Config().SetPersistent(true)
	f.join(t, "Queen", aliceThrone)

	req.NoError(f.manager.Leave(context.Background(), "orchard", "Queen"))

	_, err := f.manager.Room("orchard")
	req.NoError(err)
}

func TestRoomManager_Kick_Notifies_Target_And_Room(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	queen := f.join(t, "Queen", aliceThrone)
	f.join(t, "Rabbit", bobPub)

	err := f.manager.Kick(context.Background(), "orchard", bobPub, queen.FullJID, "late")

	req.NoError(err)
	kicked := f.deliverer.presencesFor(bobPub)
	req.Contains(kicked[len(kicked)-1].Status, muc.StatusKicked)

	remaining := f.deliverer.presencesFor(aliceThrone)
	req.Contains(remaining[len(remaining)-1].Status, muc.StatusKicked)
}

func TestRoomManager_SendPublicMessage_Logs_And_Fans_Out(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	f.join(t, "Queen", aliceThrone)
	sender := f.join(t, "Rabbit", bobPub)

	err := f.manager.SendPublicMessage(context.Background(), "orchard", "I'm late!", sender)

	req.NoError(err)
	req.Len(f.history.appended, 1)
	req.Equal("I'm late!", f.history.appended[0].Body)

	// Both occupants, sender included, receive the groupchat message.
	req.Len(f.deliverer.messagesFor(aliceThrone), 1)
	req.Len(f.deliverer.messagesFor(bobPub), 1)
}

func TestRoomManager_SendPrivateMessage_Reaches_Only_Target(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	f.join(t, "Queen", aliceThrone)
	sender := f.join(t, "Rabbit", bobPub)
	f.join(t, "Mouse", davePub)

	err := f.manager.SendPrivateMessage(context.Background(), "orchard", "Mouse", "psst", sender)

	req.NoError(err)
	req.Len(f.deliverer.messagesFor(davePub), 1)
	req.Empty(f.deliverer.messagesFor(aliceThrone))
	req.Empty(f.history.appended)
}

func TestRoomManager_ChangeSubject_Appends_To_History(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	queen := f.join(t, "Queen", aliceThrone)

	err := f.manager.ChangeSubject(context.Background(), "orchard", "Croquet at noon", queen)

	req.NoError(err)
	req.Len(f.history.appended, 1)
	req.True(f.history.appended[0].IsSubjectChange())
	req.Len(f.deliverer.messagesFor(aliceThrone), 1)
}

func TestRoomManager_BroadcastPresences_Reaches_Evicted(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	room := f.createOrchard(t)
	queen := f.join(t, "Queen", aliceThrone)
	f.join(t, "Rabbit", bobPub)

	presences, err := room.AddOutcast(muc.MustParseJID("bob@wonderland.lit"), "banned", queen)
	req.NoError(err)
	f.manager.BroadcastPresences(context.Background(), "orchard", presences)

	// The evicted occupant is told about their own eviction even though they
	// are no longer in the room roster.
	evicted := f.deliverer.presencesFor(bobPub)
	req.NotEmpty(evicted)
	req.Contains(evicted[len(evicted)-1].Status, muc.StatusBanned)
}

func TestRoomManager_DestroyRoom_Notifies_Occupants(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	f.join(t, "Queen", aliceThrone)
	f.join(t, "Rabbit", bobPub)

	err := f.manager.DestroyRoom(context.Background(), "orchard", "garden@muc.wonderland.lit", "moving")

	req.NoError(err)
	for _, to := range []muc.JID{aliceThrone, bobPub} {
		presences := f.deliverer.presencesFor(to)
		req.NotEmpty(presences)
		req.Contains(presences[len(presences)-1].Status, muc.StatusRoomDestroyed)
	}
	_, err = f.manager.Room("orchard")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRoomManager_SendInvitation_Delivered_To_Invitee(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	sender := f.join(t, "Queen", aliceThrone)
	invitee := muc.MustParseJID("carol@wonderland.lit")

	err := f.manager.SendInvitation(context.Background(), "orchard", invitee, "join us", sender)

	req.NoError(err)
	delivered := f.deliverer.messagesFor(invitee)
	req.Len(delivered, 1)
	req.Equal("orchard", delivered[0].Room)
	req.Equal("join us", delivered[0].Body)
}

func TestRoomManager_Leave_Echo_Reaches_Departed(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	f.join(t, "Queen", aliceThrone)
	f.join(t, "Rabbit", bobPub)

	req.NoError(f.manager.Leave(context.Background(), "orchard", "Rabbit"))

	// The departed occupant receives their own unavailable echo even though
	// the room never discloses JIDs.
	echoes := f.deliverer.presencesFor(bobPub)
	req.NotEmpty(echoes)
	last := echoes[len(echoes)-1]
	req.Equal(muc.PresenceUnavailable, last.Type)
	req.Equal("Rabbit", last.Nickname)
}

func TestRoomManager_Kick_Emptying_Room_Tears_It_Down(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	f.createOrchard(t)
	f.join(t, "Rabbit", bobPub)

	err := f.manager.Kick(context.Background(), "orchard", bobPub, aliceThrone, "closing")

	req.NoError(err)
	kicked := f.deliverer.presencesFor(bobPub)
	req.Contains(kicked[len(kicked)-1].Status, muc.StatusKicked)

	// Kicking the last occupant of a non-persistent room destroys it, the
	// same as the last occupant leaving.
	_, err = f.manager.Room("orchard")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRoomManager_Ban_Emptying_Room_Tears_It_Down(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)
	room := f.createOrchard(t)
	f.join(t, "Rabbit", bobPub)

	owner := muc.Occupant{Nickname: "Queen", FullJID: aliceThrone}
	presences, err := room.AddOutcast(muc.MustParseJID("bob@wonderland.lit"), "banned", owner)
	req.NoError(err)
	f.manager.BroadcastPresences(context.Background(), "orchard", presences)

	banned := f.deliverer.presencesFor(bobPub)
	req.Contains(banned[len(banned)-1].Status, muc.StatusBanned)
	_, err = f.manager.Room("orchard")
	req.ErrorIs(err, errors.ErrNotFound)
}
