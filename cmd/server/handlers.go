package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"muc-lab/errors"
	"muc-lab/observability"
	"muc-lab/services"
)

// adminServer exposes the room operations over a small JSON API. The
// service carries no XMPP transport; this surface is how operators and
// integration tooling drive the engine.
type adminServer struct {
	service services.IMUCService
	metrics *observability.RoomMetrics
	log     *slog.Logger
}

func newAdminServer(service services.IMUCService, metrics *observability.RoomMetrics,
	log *slog.Logger) *adminServer {
	return &adminServer{service: service, metrics: metrics, log: log}
}

func (s *adminServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	mux.HandleFunc("POST /rooms/{room}/join", s.handleJoin)
	mux.HandleFunc("POST /rooms/{room}/leave", s.handleLeave)
	mux.HandleFunc("POST /rooms/{room}/kick", s.handleKick)
	mux.HandleFunc("POST /rooms/{room}/affiliations", s.handleAffiliation)
	mux.HandleFunc("POST /rooms/{room}/roles", s.handleRole)
	mux.HandleFunc("POST /rooms/{room}/messages", s.handleMessage)
	mux.HandleFunc("POST /rooms/{room}/private-messages", s.handlePrivateMessage)
	mux.HandleFunc("POST /rooms/{room}/subject", s.handleSubject)
	mux.HandleFunc("POST /rooms/{room}/invitations", s.handleInvite)
	mux.HandleFunc("POST /rooms/{room}/lock", s.handleLock)
	mux.HandleFunc("POST /rooms/{room}/destroy", s.handleDestroy)
	mux.HandleFunc("POST /rooms/{room}/save", s.handleSave)
	mux.HandleFunc("GET /rooms/{room}/search", s.handleSearch)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return mux
}

func (s *adminServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req services.CreateRoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	room, err := s.service.CreateRoom(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusCreated, map[string]string{"room": room.Name()})
}

func (s *adminServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req services.JoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	result, history, err := s.service.Join(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]any{
		"nickname":     result.Occupant.Nickname,
		"affiliation":  result.Occupant.Affiliation,
		"role":         result.Occupant.Role,
		"room_created": result.RoomCreated,
		"history":      len(history),
	})
}

func (s *adminServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req services.LeaveRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.Leave(ctx, req) })
}

func (s *adminServer) handleKick(w http.ResponseWriter, r *http.Request) {
	var req services.KickRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.Kick(ctx, req) })
}

func (s *adminServer) handleAffiliation(w http.ResponseWriter, r *http.Request) {
	var req services.AffiliationRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.GrantAffiliation(ctx, req) })
}

func (s *adminServer) handleRole(w http.ResponseWriter, r *http.Request) {
	var req services.RoleRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.GrantRole(ctx, req) })
}

func (s *adminServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req services.MessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.SendMessage(ctx, req) })
}

func (s *adminServer) handlePrivateMessage(w http.ResponseWriter, r *http.Request) {
	var req services.PrivateMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.SendPrivateMessage(ctx, req) })
}

func (s *adminServer) handleSubject(w http.ResponseWriter, r *http.Request) {
	var req services.SubjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.ChangeSubject(ctx, req) })
}

func (s *adminServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req services.InviteRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.Invite(ctx, req) })
}

func (s *adminServer) handleLock(w http.ResponseWriter, r *http.Request) {
	var req services.LockRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.SetLocked(ctx, req) })
}

func (s *adminServer) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var req services.DestroyRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Room = r.PathValue("room")
	s.act(w, r.Context(), func(ctx context.Context) error { return s.service.DestroyRoom(ctx, req) })
}

func (s *adminServer) handleSave(w http.ResponseWriter, r *http.Request) {
	id, err := s.service.SaveRoom(r.Context(), r.PathValue("room"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *adminServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	req := services.SearchRequest{
		Room:  r.PathValue("room"),
		Query: r.URL.Query().Get("q"),
		Limit: limit,
	}
	messages, err := s.service.SearchTranscript(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, messages)
}

func (s *adminServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, s.metrics.Latest())
}

func (s *adminServer) act(w http.ResponseWriter, ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		s.fail(w, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *adminServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *adminServer) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *adminServer) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, errors.ErrUnauthorized):
		status = http.StatusUnauthorized
	case stderrors.Is(err, errors.ErrForbidden):
		status = http.StatusForbidden
	case stderrors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case stderrors.Is(err, errors.ErrConflict),
		stderrors.Is(err, errors.ErrNicknameTaken):
		status = http.StatusConflict
	case stderrors.Is(err, errors.ErrNotAllowed),
		stderrors.Is(err, errors.ErrRegistrationRequired),
		stderrors.Is(err, errors.ErrRoomLocked),
		stderrors.Is(err, errors.ErrInvalidJID):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}
