package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WorldSprites/websocket-server/auth"
	"github.com/WorldSprites/websocket-server/config"
	"github.com/WorldSprites/websocket-server/domain"
	"github.com/WorldSprites/websocket-server/metrics"
)

// Authenticator is the relay's view of the auth bridge.
type Authenticator interface {
	Authenticate(ctx context.Context, uuid, token string) auth.Result
}

// Relay owns the session and room registries and executes validated
// commands against them. One mutex serializes every command, tick, and
// lifecycle event end to end; the only point where it is released
// mid-command is the external auth call, after which the command
// re-validates its assumptions before committing.
type Relay struct {
	cfg  config.Config
	auth Authenticator
	met  *metrics.Metrics

	mu  sync.Mutex
	reg *registry
}

func New(cfg config.Config, authn Authenticator, met *metrics.Metrics) *Relay {
	return &Relay{
		cfg:  cfg,
		auth: authn,
		met:  met,
		reg:  newRegistry(),
	}
}

// Connect registers a fresh session for a transport link. The bootstrap
// identity is a generated uuid that also serves as the initial username;
// when auth mode is on the session stays unauthenticated until the auth
// command promotes it.
func (r *Relay) Connect(link domain.Transport) *Session {
	s := &Session{
		Identity:      uuid.NewString(),
		Room:          RoomNone,
		Link:          link,
		authenticated: !r.cfg.AuthEnabled,
		alive:         true,
	}
	s.Username = s.Identity

	r.mu.Lock()
	r.reg.add(s)
	_, sessions := r.reg.counts()
	r.mu.Unlock()

	r.met.ActiveSessions.Inc()
	slog.Info("session connected", "identity", s.Identity, "sessions", sessions)
	return s
}

// AnnounceIdentity pushes the bootstrap uuid to the client. In auth mode
// there is nothing to announce until authentication succeeds.
func (r *Relay) AnnounceIdentity(s *Session) {
	if r.cfg.AuthEnabled {
		return
	}
	r.push(s, domain.NewServerPacket(domain.Command{Type: domain.CommandUUID}, s.Identity, nowMillis(), nil))
}

// JoinInitialRoom handles the roomid connection query parameter. In auth
// mode the join is refused outright; otherwise it behaves like a room
// command whose response carries no correlation id.
func (r *Relay) JoinInitialRoom(s *Session, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.AuthEnabled {
		r.respond(s, domain.NewResponse(domain.StatusForbidden, nil, nil, domain.ResponseValidate, string(domain.CommandRoom)))
		return
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.respond(s, domain.NewResponse(domain.StatusBadPacket, nil, nil, domain.ResponseValidate, string(domain.CommandRoom)))
		return
	}

	status := r.validateRoom(id, s)
	if status.Rejected() {
		r.respond(s, domain.NewResponse(status, nil, nil, domain.ResponseValidate, string(domain.CommandRoom)))
		return
	}
	r.performJoin(s, id, status, nil)
}

// Disconnect tears a session out of both registries. Safe to call more
// than once; only the first call does anything.
func (r *Relay) Disconnect(s *Session) {
	r.mu.Lock()
	if _, ok := r.reg.lookup(s.Identity); !ok {
		r.mu.Unlock()
		return
	}
	r.reg.remove(s.Identity)
	r.reg.leaveRoom(s)
	_, sessions := r.reg.counts()
	r.mu.Unlock()

	r.met.ActiveSessions.Dec()
	slog.Info("session disconnected", "identity", s.Identity, "sessions", sessions)
}

// MarkAlive records a liveness acknowledgment from the peer.
func (r *Relay) MarkAlive(s *Session) {
	r.mu.Lock()
	s.alive = true
	r.mu.Unlock()
}

// Stats reports registry sizes for the stats endpoint.
func (r *Relay) Stats() (rooms, sessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.counts()
}

// HandlePacket processes one raw inbound frame from a session: rate
// accounting, validation, then execution. A panic anywhere in here is
// answered with a generic error packet instead of crashing the process.
func (r *Relay) HandlePacket(s *Session, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("packet handling failed", "identity", s.Identity, "panic", rec)
			r.pushError(s)
		}
	}()

	r.met.PacketsReceived.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	// The counter moves before parsing so garbage traffic still counts
	// toward the cap. Crossing it earns exactly one warning per window.
	s.packets++
	if s.packets > r.cfg.MaxPacketsPerInterval && !s.rateLimited {
		s.rateLimited = true
		slog.Warn("session over soft rate cap", "identity", s.Identity, "packets", s.packets)
		r.respond(s, domain.NewResponse(domain.StatusRateLimited, nil, nil, domain.ResponseValidate, ""))
	}

	var pkt domain.ClientPacket
	if err := json.Unmarshal(raw, &pkt); err != nil {
		slog.Warn("undecodable packet", "identity", s.Identity, "error", err)
		r.met.RejectedStatus(int(domain.StatusBadPacket))
		r.respond(s, domain.NewResponse(domain.StatusBadPacket, nil, nil, domain.ResponseValidate, domain.OriginInvalid))
		return
	}

	status, cmd := r.validate(&pkt, s)
	if status.Rejected() {
		origin := domain.OriginInvalid
		if cmd != nil {
			origin = string(cmd.Type)
		}
		r.met.RejectedStatus(int(status))
		r.respond(s, domain.NewResponse(status, nil, &pkt.ID, domain.ResponseValidate, origin))
		return
	}

	r.execute(s, &pkt, cmd, status)
}

// execute runs a validated command. Called and completed under the relay
// lock, except that the auth path releases it around the bridge call.
func (r *Relay) execute(s *Session, pkt *domain.ClientPacket, cmd *command, status domain.Status) {
	switch cmd.Type {
	case domain.CommandPacket:
		r.forward(s, pkt, cmd)

	case domain.CommandRoom:
		r.performJoin(s, cmd.Room, status, &pkt.ID)

	case domain.CommandUsername:
		s.Username = cmd.Username
		r.respond(s, domain.NewResponse(status, nil, &pkt.ID, domain.ResponseValidate, string(cmd.Type)))

	case domain.CommandInfo:
		info := struct {
			UUID     string `json:"uuid"`
			Username string `json:"username"`
			Room     int64  `json:"room"`
		}{s.Identity, s.Username, s.Room}
		r.respond(s, domain.NewResponse(status, info, &pkt.ID, domain.ResponseInfo, string(cmd.Type)))

	case domain.CommandAuth:
		r.finishAuth(s, pkt, cmd)
	}
}

// forward resolves the delivery set at send time and fans the wrapped
// packet out. Failures are isolated per target.
func (r *Relay) forward(s *Session, pkt *domain.ClientPacket, cmd *command) {
	var targets []*Session

	switch cmd.Targets.kind {
	case targetsCurrentRoom:
		if room := r.reg.room(s.Room); room != nil {
			for _, id := range room.members {
				if id == s.Identity {
					continue
				}
				if member, ok := r.reg.lookup(id); ok {
					targets = append(targets, member)
				}
			}
		}

	case targetsRooms:
		for _, roomID := range cmd.Targets.rooms {
			room := r.reg.room(roomID)
			if room == nil {
				continue
			}
			for _, id := range room.members {
				if member, ok := r.reg.lookup(id); ok {
					targets = append(targets, member)
				}
			}
		}

	case targetsUsers:
		for _, id := range cmd.Targets.users {
			if member, ok := r.reg.lookup(id); ok {
				targets = append(targets, member)
			}
		}
	}

	if len(targets) == 0 {
		return
	}

	sender := s.Identity
	wrapped := domain.NewServerPacket(
		domain.Command{Type: domain.CommandPacket, Meta: cmd.Meta},
		pkt.Data,
		nowMillis(),
		&sender,
	)
	frame, err := json.Marshal(wrapped)
	if err != nil {
		slog.Error("forward marshal failed", "identity", s.Identity, "error", err)
		return
	}

	for _, target := range targets {
		if err := target.Link.Send(frame); err != nil {
			slog.Warn("forward delivery failed", "from", s.Identity, "to", target.Identity, "error", err)
			continue
		}
		r.met.PacketsForwarded.Inc()
	}
}

// performJoin moves the sender between rooms and pushes fresh membership
// snapshots to everyone affected, old room and new.
func (r *Relay) performJoin(s *Session, roomID int64, status domain.Status, respID *int64) {
	old, dest, created := r.reg.joinRoom(s, roomID, time.Now())
	if created {
		r.met.Rooms.Inc()
		slog.Info("room created", "room", roomID)
	}

	if old != nil && old != dest {
		r.pushUserlist(old)
	}
	r.pushUserlist(dest)

	slog.Info("session joined room", "identity", s.Identity, "room", roomID)
	r.respond(s, domain.NewResponse(status, nil, respID, domain.ResponseValidate, string(domain.CommandRoom)))
}

// finishAuth performs the only suspending step in the relay. The lock is
// released for the bridge call; on resume nothing observed before the call
// is trusted — the session must still be registered, roomless, and the
// authenticated identity unclaimed before the re-key commits.
func (r *Relay) finishAuth(s *Session, pkt *domain.ClientPacket, cmd *command) {
	r.mu.Unlock()
	result := r.safeAuthenticate(cmd.UUID, cmd.Token)
	r.mu.Lock()

	if !result.Result {
		slog.Warn("authentication denied", "identity", s.Identity, "status", int(result.Status))
		r.respond(s, domain.NewResponse(result.Status, false, &pkt.ID, domain.ResponseValidate, string(cmd.Type)))
		return
	}

	if _, ok := r.reg.lookup(s.Identity); !ok {
		// Closed while the bridge call was in flight.
		return
	}
	if s.Room != RoomNone {
		r.respond(s, domain.NewResponse(domain.StatusWrongState, false, &pkt.ID, domain.ResponseValidate, string(cmd.Type)))
		return
	}
	if other, ok := r.reg.lookup(cmd.UUID); ok && other != s {
		slog.Warn("authenticated identity already registered", "identity", cmd.UUID)
		r.respond(s, domain.NewResponse(domain.StatusConflict, false, &pkt.ID, domain.ResponseValidate, string(cmd.Type)))
		return
	}

	r.reg.rekey(s, cmd.UUID)
	s.Username = cmd.UUID
	s.authenticated = true
	slog.Info("session authenticated", "identity", s.Identity)
	r.respond(s, domain.NewResponse(result.Status, true, &pkt.ID, domain.ResponseValidate, string(cmd.Type)))
}

// safeAuthenticate shields the router from a misbehaving bridge: the
// contract says the bridge never raises, but a panic here would otherwise
// unwind past the unlocked section of finishAuth.
func (r *Relay) safeAuthenticate(uuid, token string) (result auth.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("auth bridge panicked", "panic", rec)
			result = auth.Result{Status: domain.StatusInternal}
		}
	}()
	return r.auth.Authenticate(context.Background(), uuid, token)
}

// pushUserlist sends a membership snapshot to every member of a room.
func (r *Relay) pushUserlist(room *Room) {
	pkt := domain.NewServerPacket(
		domain.Command{Type: domain.CommandUserlist},
		r.reg.userlist(room),
		nowMillis(),
		nil,
	)
	frame, err := json.Marshal(pkt)
	if err != nil {
		slog.Error("userlist marshal failed", "room", room.ID, "error", err)
		return
	}
	for _, id := range room.members {
		if member, ok := r.reg.lookup(id); ok {
			if err := member.Link.Send(frame); err != nil {
				slog.Warn("userlist delivery failed", "to", id, "error", err)
			}
		}
	}
}

func (r *Relay) respond(s *Session, resp domain.Response) {
	frame, err := json.Marshal(resp)
	if err != nil {
		slog.Error("response marshal failed", "identity", s.Identity, "error", err)
		return
	}
	if err := s.Link.Send(frame); err != nil {
		slog.Warn("response delivery failed", "identity", s.Identity, "error", err)
	}
}

func (r *Relay) push(s *Session, pkt domain.ServerPacket) {
	frame, err := json.Marshal(pkt)
	if err != nil {
		slog.Error("push marshal failed", "identity", s.Identity, "error", err)
		return
	}
	if err := s.Link.Send(frame); err != nil {
		slog.Warn("push delivery failed", "identity", s.Identity, "error", err)
	}
}

// pushError emits the generic internal-error packet. The link may already
// be unwritable, or may be the thing that panicked in the first place.
func (r *Relay) pushError(s *Session) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("error packet delivery panicked", "identity", s.Identity, "panic", rec)
		}
	}()
	r.push(s, domain.NewServerPacket(domain.Command{Type: domain.CommandError}, domain.StatusInternal, nowMillis(), nil))
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
