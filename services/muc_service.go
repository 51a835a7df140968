package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"muc-lab/contract"
	"muc-lab/domain/muc"
	"muc-lab/errors"
	"muc-lab/runtime"
)

// ITranscriptSearcher is the full-text side of the history store.
type ITranscriptSearcher interface {
	Search(ctx context.Context, room, query string, limit int) ([]muc.Message, error)
}

type IMUCService interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*muc.Room, error)
	Join(ctx context.Context, req JoinRequest) (muc.JoinResult, []muc.Message, error)
	Leave(ctx context.Context, req LeaveRequest) error
	Kick(ctx context.Context, req KickRequest) error
	GrantAffiliation(ctx context.Context, req AffiliationRequest) error
	GrantRole(ctx context.Context, req RoleRequest) error
	SendMessage(ctx context.Context, req MessageRequest) error
	SendPrivateMessage(ctx context.Context, req PrivateMessageRequest) error
	ChangeSubject(ctx context.Context, req SubjectRequest) error
	Invite(ctx context.Context, req InviteRequest) error
	SetLocked(ctx context.Context, req LockRequest) error
	DestroyRoom(ctx context.Context, req DestroyRequest) error
	SaveRoom(ctx context.Context, room string) (int64, error)
	SearchTranscript(ctx context.Context, req SearchRequest) ([]muc.Message, error)
}

type CreateRoomRequest struct {
	Room  string `validate:"required,max=255"`
	Token string `validate:"required"`
}

type JoinRequest struct {
	Room     string `validate:"required"`
	Nickname string `validate:"required,max=255"`
	Password string
	Token    string `validate:"required"`
	History  muc.HistoryRequest
}

type LeaveRequest struct {
	Room     string `validate:"required"`
	Nickname string `validate:"required"`
}

type KickRequest struct {
	Room   string `validate:"required"`
	Target string `validate:"required"` // full JID of the occupant to kick
	Token  string `validate:"required"`
	Reason string
}

type AffiliationRequest struct {
	Room        string          `validate:"required"`
	Target      string          `validate:"required"` // bare JID
	Affiliation muc.Affiliation `validate:"lte=4"`
	Nickname    string          // reserved nickname, member grants only
	Reason      string          // ban reason, outcast grants only
	Token       string          `validate:"required"`
}

type RoleRequest struct {
	Room   string   `validate:"required"`
	Target string   `validate:"required"` // full JID of a connected occupant
	Role   muc.Role `validate:"gte=1,lte=3"`
	Reason string
	Token  string `validate:"required"`
}

type MessageRequest struct {
	Room  string `validate:"required"`
	Body  string `validate:"required"`
	Token string `validate:"required"`
}

type PrivateMessageRequest struct {
	Room  string `validate:"required"`
	To    string `validate:"required"` // target nickname
	Body  string `validate:"required"`
	Token string `validate:"required"`
}

type SubjectRequest struct {
	Room    string `validate:"required"`
	Subject string `validate:"required,max=1024"`
	Token   string `validate:"required"`
}

type InviteRequest struct {
	Room   string `validate:"required"`
	To     string `validate:"required"` // bare JID of the invitee
	Reason string
	Token  string `validate:"required"`
}

type LockRequest struct {
	Room   string `validate:"required"`
	Locked bool
	Token  string `validate:"required"`
}

type DestroyRequest struct {
	Room          string `validate:"required"`
	AlternateRoom string
	Reason        string
	Token         string `validate:"required"`
}

type SearchRequest struct {
	Room  string `validate:"required"`
	Query string `validate:"required"`
	Limit int    `validate:"gte=0,lte=500"`
}

// MUCService validates incoming requests, resolves session tokens to JIDs
// and drives the room manager. All authorization decisions stay in the
// domain layer.
type MUCService struct {
	manager  *runtime.RoomManager
	sessions contract.SessionProvider
	searcher ITranscriptSearcher
	validate *validator.Validate
	log      *slog.Logger
}

func NewMUCService(manager *runtime.RoomManager, sessions contract.SessionProvider,
	searcher ITranscriptSearcher, log *slog.Logger) *MUCService {
	return &MUCService{
		manager:  manager,
		sessions: sessions,
		searcher: searcher,
		validate: validator.New(),
		log:      log,
	}
}

func (s *MUCService) CreateRoom(ctx context.Context, req CreateRoomRequest) (*muc.Room, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	creator, err := s.sessions.Resolve(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	return s.manager.CreateRoom(req.Room, creator)
}

func (s *MUCService) Join(ctx context.Context, req JoinRequest) (muc.JoinResult, []muc.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return muc.JoinResult{}, nil, fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	userJID, err := s.sessions.Resolve(ctx, req.Token)
	if err != nil {
		return muc.JoinResult{}, nil, err
	}
	return s.manager.Join(ctx, req.Room, req.Nickname, req.Password, userJID, req.History)
}

func (s *MUCService) Leave(ctx context.Context, req LeaveRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	return s.manager.Leave(ctx, req.Room, req.Nickname)
}

func (s *MUCService) Kick(ctx context.Context, req KickRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	target, err := muc.ParseJID(req.Target)
	if err != nil {
		return err
	}
	actor, err := s.sessions.Resolve(ctx, req.Token)
	if err != nil {
		return err
	}
	return s.manager.Kick(ctx, req.Room, target, actor, req.Reason)
}

func (s *MUCService) GrantAffiliation(ctx context.Context, req AffiliationRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	target, err := muc.ParseJID(req.Target)
	if err != nil {
		return err
	}
	room, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}

	var presences []muc.Presence
	switch req.Affiliation {
	case muc.AffiliationOwner:
		presences, err = room.AddOwner(target.Bare(), sender)
	case muc.AffiliationAdmin:
		presences, err = room.AddAdmin(target.Bare(), sender)
	case muc.AffiliationMember:
		presences, err = room.AddMember(target.Bare(), req.Nickname, sender)
	case muc.AffiliationOutcast:
		presences, err = room.AddOutcast(target.Bare(), req.Reason, sender)
	case muc.AffiliationNone:
		presences, err = room.AddNone(target.Bare(), sender)
	default:
		return errors.ErrNotAllowed
	}
	if err != nil {
		return err
	}
	s.manager.BroadcastPresences(ctx, req.Room, presences)
	return nil
}

func (s *MUCService) GrantRole(ctx context.Context, req RoleRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	target, err := muc.ParseJID(req.Target)
	if err != nil {
		return err
	}
	room, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}

	var presence *muc.Presence
	switch req.Role {
	case muc.RoleModerator:
		presence, err = room.AddModerator(target, sender)
	case muc.RoleParticipant:
		presence, err = room.AddParticipant(target, req.Reason, sender)
	case muc.RoleVisitor:
		presence, err = room.AddVisitor(target, sender)
	default:
		return errors.ErrNotAllowed
	}
	if err != nil {
		return err
	}
	if presence != nil {
		s.manager.BroadcastPresences(ctx, req.Room, []muc.Presence{*presence})
	}
	return nil
}

func (s *MUCService) SendMessage(ctx context.Context, req MessageRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	_, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}
	return s.manager.SendPublicMessage(ctx, req.Room, req.Body, sender)
}

func (s *MUCService) SendPrivateMessage(ctx context.Context, req PrivateMessageRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	_, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}
	return s.manager.SendPrivateMessage(ctx, req.Room, req.To, req.Body, sender)
}

func (s *MUCService) ChangeSubject(ctx context.Context, req SubjectRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	_, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}
	return s.manager.ChangeSubject(ctx, req.Room, req.Subject, sender)
}

func (s *MUCService) Invite(ctx context.Context, req InviteRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	invitee, err := muc.ParseJID(req.To)
	if err != nil {
		return err
	}
	_, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}
	return s.manager.SendInvitation(ctx, req.Room, invitee.Bare(), req.Reason, sender)
}

func (s *MUCService) SetLocked(ctx context.Context, req LockRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	room, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}
	if req.Locked {
		return room.Lock(sender)
	}
	return room.Unlock(sender)
}

func (s *MUCService) DestroyRoom(ctx context.Context, req DestroyRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	room, sender, err := s.senderOccupant(ctx, req.Room, req.Token)
	if err != nil {
		return err
	}
	// Only owners may destroy a room.
	if !room.Affiliations().Affiliation(sender.FullJID.Bare()).AtLeast(muc.AffiliationOwner) {
		return errors.ErrForbidden
	}
	return s.manager.DestroyRoom(ctx, req.Room, req.AlternateRoom, req.Reason)
}

func (s *MUCService) SaveRoom(ctx context.Context, room string) (int64, error) {
	return s.manager.SaveRoom(ctx, room)
}

func (s *MUCService) SearchTranscript(ctx context.Context, req SearchRequest) ([]muc.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrNotAllowed, err)
	}
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}
	return s.searcher.Search(ctx, req.Room, req.Query, limit)
}

// senderOccupant resolves a session token and finds the matching connected
// occupant in the room. Operations that require an occupant actor go
// through here.
func (s *MUCService) senderOccupant(ctx context.Context, roomName, token string) (*muc.Room, muc.Occupant, error) {
	userJID, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, muc.Occupant{}, err
	}
	room, err := s.manager.Room(roomName)
	if err != nil {
		return nil, muc.Occupant{}, err
	}
	occupant, err := room.Occupants().ByFullJID(userJID)
	if err != nil {
		return nil, muc.Occupant{}, fmt.Errorf("%w: not an occupant of %s", errors.ErrForbidden, roomName)
	}
	return room, occupant, nil
}
