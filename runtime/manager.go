// Package runtime composes the room engines with their collaborators:
// delivery, history and persistence. It orchestrates without containing
// room authorization rules; those live in domain/muc. Every room operation
// runs inside the room's own critical section, and all delivery happens
// afterwards with the returned snapshots.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"muc-lab/contract"
	"muc-lab/domain/muc"
	"muc-lab/errors"
	"muc-lab/observability"
)

// RoomManager owns the live room set of the service. The manager lock only
// guards the map; room state is guarded by each room.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*muc.Room

	deliverer contract.Deliverer
	history   contract.HistoryLog
	store     contract.RoomStore
	metrics   *observability.RoomMetrics
	log       *slog.Logger

	lockWindow time.Duration
}

func NewRoomManager(deliverer contract.Deliverer, history contract.HistoryLog,
	store contract.RoomStore, metrics *observability.RoomMetrics,
	lockWindow time.Duration, log *slog.Logger) *RoomManager {
	return &RoomManager{
		rooms:      make(map[string]*muc.Room),
		deliverer:  deliverer,
		history:    history,
		store:      store,
		metrics:    metrics,
		log:        log,
		lockWindow: lockWindow,
	}
}

// CreateRoom registers a fresh room, locked for its configuration window,
// with the creator seeded as first owner.
func (m *RoomManager) CreateRoom(name string, creator muc.JID) (*muc.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[name]; ok {
		return nil, fmt.Errorf("%w: room %q", errors.ErrConflict, name)
	}
	room := muc.NewRoom(name, creator, m.lockWindow, m.log)
	if err := room.AddFirstOwner(creator); err != nil {
		return nil, err
	}
	m.rooms[name] = room

	m.log.Info("room created", "room", name, "creator", creator.Bare().String())
	return room, nil
}

// Room returns the live room with the given name.
func (m *RoomManager) Room(name string) (*muc.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: room %q", errors.ErrNotFound, name)
	}
	return room, nil
}

// Rooms returns a snapshot of the live room set.
func (m *RoomManager) Rooms() []*muc.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*muc.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, room)
	}
	return out
}

// Join admits a user, replays room history to the joiner and broadcasts the
// join presence. History replay and delivery both happen outside the room's
// critical section.
func (m *RoomManager) Join(ctx context.Context, roomName, nickname, password string,
	userJID muc.JID, request muc.HistoryRequest) (muc.JoinResult, []muc.Message, error) {
	room, err := m.Room(roomName)
	if err != nil {
		return muc.JoinResult{}, nil, err
	}

	result, err := room.Join(nickname, password, userJID)
	if err != nil {
		m.metrics.IncrDenied()
		return muc.JoinResult{}, nil, err
	}
	m.metrics.IncrJoins()

	history, err := m.history.Replay(ctx, roomName, request)
	if err != nil {
		// Admission already happened; a replay failure must not undo it.
		m.log.Warn("history replay failed", "room", roomName, "err", err)
	}

	m.deliverer.DeliverPresence(ctx, result.Self, userJID)
	if result.Broadcast != nil {
		m.broadcast(ctx, room, *result.Broadcast, result.Occupant.FullJID)
	}
	for _, message := range history {
		m.deliverer.DeliverMessage(ctx, message, userJID)
	}
	if subject := room.Config().Subject(); subject != "" {
		m.deliverer.DeliverMessage(ctx, muc.Message{
			Room:    roomName,
			Subject: subject,
			SentAt:  time.Now(),
		}, userJID)
	}
	return result, history, nil
}

// Leave removes an occupant, broadcasts the unavailable presence and tears
// down an emptied non-persistent room.
func (m *RoomManager) Leave(ctx context.Context, roomName, nickname string) error {
	room, err := m.Room(roomName)
	if err != nil {
		return err
	}
	result, err := room.Leave(nickname)
	if err != nil {
		return err
	}
	m.metrics.IncrLeaves()

	m.deliverer.DeliverPresence(ctx, result.Presence, result.Presence.Recipient)
	if result.Broadcast {
		m.broadcast(ctx, room, result.Presence, muc.JID{})
	}
	m.destroyIfDeserted(ctx, roomName, room)
	return nil
}

// Kick evicts an occupant on a moderator's behalf and broadcasts it.
func (m *RoomManager) Kick(ctx context.Context, roomName string, fullJID, actor muc.JID, reason string) error {
	room, err := m.Room(roomName)
	if err != nil {
		return err
	}
	presence, err := room.Kick(fullJID, actor, reason)
	if err != nil {
		return err
	}
	if presence == nil {
		return nil
	}
	m.metrics.IncrKicks()

	m.deliverer.DeliverPresence(ctx, *presence, presence.Recipient)
	m.broadcast(ctx, room, *presence, muc.JID{})
	m.destroyIfDeserted(ctx, roomName, room)
	return nil
}

// DestroyRoom evicts everyone, notifies them and removes the room. The
// persisted snapshot, if any, is removed by the operator tooling, not here.
func (m *RoomManager) DestroyRoom(ctx context.Context, roomName, alternateRoom, reason string) error {
	room, err := m.Room(roomName)
	if err != nil {
		return err
	}
	presences := room.Destroy(alternateRoom, reason)
	for _, presence := range presences {
		if !presence.Recipient.IsZero() {
			m.deliverer.DeliverPresence(ctx, presence, presence.Recipient)
		}
	}

	m.mu.Lock()
	delete(m.rooms, roomName)
	m.mu.Unlock()
	return nil
}

// BroadcastPresences fans a mutation's presence list out to the whole room.
// Affiliation and role operations on the room return these lists; the
// caller hands them here once the room critical section has exited.
func (m *RoomManager) BroadcastPresences(ctx context.Context, roomName string, presences []muc.Presence) {
	room, err := m.Room(roomName)
	if err != nil {
		return
	}
	evicted := false
	for _, presence := range presences {
		m.broadcast(ctx, room, presence, muc.JID{})
		// Evicted occupants are no longer in the registry; tell them too.
		if presence.Type == muc.PresenceUnavailable && !presence.Recipient.IsZero() {
			m.deliverer.DeliverPresence(ctx, presence, presence.Recipient)
			evicted = true
		}
	}
	// An offline grant empties nothing; only an eviction can desert the room.
	if evicted {
		m.destroyIfDeserted(ctx, roomName, room)
	}
}

// destroyIfDeserted tears down a room once an eviction or departure leaves
// it empty. Persistent rooms survive empty.
func (m *RoomManager) destroyIfDeserted(ctx context.Context, roomName string, room *muc.Room) {
	if room.Occupants().Count() > 0 || room.Config().IsPersistent() || room.IsDestroyed() {
		return
	}
	m.log.Info("destroying empty non-persistent room", "room", roomName)
	if err := m.DestroyRoom(ctx, roomName, "", ""); err != nil {
		m.log.Warn("empty room teardown failed", "room", roomName, "err", err)
	}
}

// SendPublicMessage authorizes, logs and fans out a groupchat message.
func (m *RoomManager) SendPublicMessage(ctx context.Context, roomName, body string, sender muc.Occupant) error {
	room, err := m.Room(roomName)
	if err != nil {
		return err
	}
	message, err := room.SendPublicMessage(body, sender)
	if err != nil {
		m.metrics.IncrDenied()
		return err
	}
	m.metrics.IncrMessages()

	if err := m.history.Append(ctx, message); err != nil {
		m.log.Warn("history append failed", "room", roomName, "err", err)
	}
	m.broadcastMessage(ctx, room, message)
	return nil
}

// SendPrivateMessage routes a message to a single occupant.
func (m *RoomManager) SendPrivateMessage(ctx context.Context, roomName, toNickname, body string, sender muc.Occupant) error {
	room, err := m.Room(roomName)
	if err != nil {
		return err
	}
	message, target, err := room.SendPrivateMessage(toNickname, body, sender)
	if err != nil {
		return err
	}
	m.deliverer.DeliverMessage(ctx, message, target.FullJID)
	return nil
}

// ChangeSubject updates the subject, appends it to the history and fans the
// subject message out.
func (m *RoomManager) ChangeSubject(ctx context.Context, roomName, subject string, sender muc.Occupant) error {
	room, err := m.Room(roomName)
	if err != nil {
		return err
	}
	message, err := room.ChangeSubject(subject, sender)
	if err != nil {
		return err
	}
	if err := m.history.Append(ctx, message); err != nil {
		m.log.Warn("history append failed", "room", roomName, "err", err)
	}
	m.broadcastMessage(ctx, room, message)
	return nil
}

// SendInvitation authorizes an invitation and delivers it to the invitee.
func (m *RoomManager) SendInvitation(ctx context.Context, roomName string, to muc.JID, reason string, sender muc.Occupant) error {
	room, err := m.Room(roomName)
	if err != nil {
		return err
	}
	invitation, err := room.SendInvitation(to, reason, sender)
	if err != nil {
		return err
	}
	m.deliverer.DeliverMessage(ctx, muc.Message{
		Room:   invitation.Room,
		From:   invitation.From,
		Body:   invitation.Reason,
		SentAt: time.Now(),
	}, invitation.To)
	return nil
}

func (m *RoomManager) broadcast(ctx context.Context, room *muc.Room, presence muc.Presence, skip muc.JID) {
	for _, occupant := range room.Occupants().All() {
		if occupant.FullJID == skip {
			continue
		}
		m.deliverer.DeliverPresence(ctx, presence, occupant.FullJID)
	}
}

func (m *RoomManager) broadcastMessage(ctx context.Context, room *muc.Room, message muc.Message) {
	for _, occupant := range room.Occupants().All() {
		m.deliverer.DeliverMessage(ctx, message, occupant.FullJID)
	}
}
