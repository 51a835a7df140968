package runtime

import (
	"context"
	"log/slog"
	"time"

	"muc-lab/contract"
	"muc-lab/domain/muc"
)

// SaveRoom snapshots a live room into the store. Saving makes the room
// persistent and records the assigned ID; it is triggered by an explicit
// operator action, never implicitly.
func (m *RoomManager) SaveRoom(ctx context.Context, roomName string) (int64, error) {
	room, err := m.Room(roomName)
	if err != nil {
		return 0, err
	}

	id, err := m.store.Save(ctx, SnapshotRoom(room))
	if err != nil {
		return 0, err
	}

	config := room.Config()
	config.SetID(id)
	config.SetSavedToDB(true)
	config.SetPersistent(true)

	m.log.Info("room saved", "room", roomName, "id", id)
	return id, nil
}

// LoadRoom reconstitutes a stored room as configured and unlocked, and
// registers it as live.
func (m *RoomManager) LoadRoom(ctx context.Context, roomName string) (*muc.Room, error) {
	snapshot, err := m.store.Load(ctx, roomName)
	if err != nil {
		return nil, err
	}
	room, err := RestoreRoom(snapshot, m.log)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rooms[snapshot.Name] = room
	m.mu.Unlock()

	m.log.Info("room loaded", "room", snapshot.Name, "id", snapshot.ID)
	return room, nil
}

// SnapshotRoom captures the storable state of a room: its configuration and
// affiliations. Occupancy is transient and never persisted.
func SnapshotRoom(room *muc.Room) contract.RoomSnapshot {
	config := room.Config()

	affiliations, reserved := room.Affiliations().Snapshot()
	storedAffiliations := make(map[string]muc.Affiliation, len(affiliations))
	for jid, affiliation := range affiliations {
		storedAffiliations[jid.String()] = affiliation
	}
	storedReserved := make(map[string]string, len(reserved))
	for jid, nickname := range reserved {
		storedReserved[jid.String()] = nickname
	}

	return contract.RoomSnapshot{
		ID:                  config.ID(),
		Name:                config.Name(),
		NaturalLanguageName: config.NaturalLanguageName(),
		Description:         config.Description(),
		Subject:             config.Subject(),

		CreationDate:     config.CreationDate(),
		ModificationDate: config.ModificationDate(),
		EmptyDate:        config.EmptyDate(),

		Persistent:  config.IsPersistent(),
		LogEnabled:  config.IsLogEnabled(),
		PublicRoom:  config.IsPublicRoom(),
		Moderated:   config.IsModerated(),
		MembersOnly: config.IsMembersOnly(),

		CanOccupantsChangeSubject: config.CanOccupantsChangeSubject(),
		CanOccupantsInvite:        config.CanOccupantsInvite(),
		CanAnyoneDiscoverJID:      config.CanAnyoneDiscoverJID(),
		LoginRestrictedToNickname: config.IsLoginRestrictedToNickname(),

		PasswordHash: config.PasswordHash(),
		MaxOccupants: config.MaxOccupants(),

		RolesToBroadcastPresence: config.RolesToBroadcastPresence(),

		Affiliations:      storedAffiliations,
		ReservedNicknames: storedReserved,
	}
}

// RestoreRoom rebuilds a room engine from its stored snapshot. The room
// comes back unlocked: the configuration window only applies to fresh rooms.
func RestoreRoom(snapshot contract.RoomSnapshot, log *slog.Logger) (*muc.Room, error) {
	config := muc.NewRoomConfig(snapshot.Name, snapshot.CreationDate, 0)
	config.SetID(snapshot.ID)
	config.SetNaturalLanguageName(snapshot.NaturalLanguageName)
	config.SetDescription(snapshot.Description)
	config.SetSubject(snapshot.Subject)
	config.SetPersistent(snapshot.Persistent)
	config.SetLogEnabled(snapshot.LogEnabled)
	config.SetPublicRoom(snapshot.PublicRoom)
	config.SetModerated(snapshot.Moderated)
	config.SetCanOccupantsChangeSubject(snapshot.CanOccupantsChangeSubject)
	config.SetCanOccupantsInvite(snapshot.CanOccupantsInvite)
	config.SetCanAnyoneDiscoverJID(snapshot.CanAnyoneDiscoverJID)
	config.SetLoginRestrictedToNickname(snapshot.LoginRestrictedToNickname)
	config.RestorePasswordHash(snapshot.PasswordHash)
	config.SetMaxOccupants(snapshot.MaxOccupants)
	if len(snapshot.RolesToBroadcastPresence) > 0 {
		config.SetRolesToBroadcastPresence(snapshot.RolesToBroadcastPresence)
	}
	config.SetSavedToDB(true)

	affiliations := make(map[muc.JID]muc.Affiliation, len(snapshot.Affiliations))
	for raw, affiliation := range snapshot.Affiliations {
		jid, err := muc.ParseJID(raw)
		if err != nil {
			return nil, err
		}
		affiliations[jid] = affiliation
	}
	reserved := make(map[muc.JID]string, len(snapshot.ReservedNicknames))
	for raw, nickname := range snapshot.ReservedNicknames {
		jid, err := muc.ParseJID(raw)
		if err != nil {
			return nil, err
		}
		reserved[jid] = nickname
	}
	registry := muc.NewAffiliationRegistry()
	registry.Restore(affiliations, reserved)

	room := muc.RestoreRoom(config, registry, log)
	room.SetMembersOnly(snapshot.MembersOnly)

	// Restore stamps last: the setters above must not leave their own marks.
	config.SetCreationDate(snapshot.CreationDate)
	config.SetModificationDate(snapshot.ModificationDate)
	if snapshot.EmptyDate != nil {
		config.SetEmptyDate(snapshot.EmptyDate)
	} else {
		// A restored room starts unoccupied regardless of how it was saved.
		now := time.Now()
		config.SetEmptyDate(&now)
	}
	return room, nil
}
