package relay

import (
	"bytes"
	"encoding/json"

	"github.com/WorldSprites/websocket-server/domain"
)

type targetKind int

const (
	targetsNone targetKind = iota
	targetsCurrentRoom
	targetsRooms
	targetsUsers
)

// targetSet is the decoded form of the targets field: null, the literal
// true, a list of room ids, or a list of identities.
type targetSet struct {
	kind  targetKind
	rooms []int64
	users []string
}

// command is the fully resolved interpretation of a validated packet; the
// router executes it without re-probing the raw JSON.
type command struct {
	Type    domain.CommandType
	Meta    json.RawMessage
	Targets targetSet

	Room     int64  // room command
	Username string // username command
	UUID     string // auth command
	Token    string // auth command
}

// validate checks a packet against the sender's current state and returns
// an HTTP-style status plus the resolved command. It never mutates
// anything. The returned command carries the claimed type whenever the
// header decoded, even on rejection, so responses can echo it as
// originType; a nil command means the header itself was unusable.
func (r *Relay) validate(pkt *domain.ClientPacket, s *Session) (domain.Status, *command) {
	if len(pkt.Data) > r.cfg.MaxPacketBytes {
		return domain.StatusTooLarge, nil
	}

	var hdr domain.Command
	if len(pkt.Command) == 0 || json.Unmarshal(pkt.Command, &hdr) != nil {
		return domain.StatusBadPacket, nil
	}
	if !bytes.HasPrefix(bytes.TrimSpace(pkt.Command), []byte("{")) {
		return domain.StatusBadPacket, nil
	}
	if hdr.Type == "" {
		return domain.StatusBadPacket, nil
	}

	cmd := &command{Type: hdr.Type, Meta: hdr.Meta}

	if !hdr.Type.Recognized() {
		return domain.StatusBadPacket, cmd
	}
	if len(pkt.Targets) == 0 {
		return domain.StatusBadPacket, cmd
	}
	if pkt.ID == 0 {
		return domain.StatusBadPacket, cmd
	}
	targets, ok := decodeTargets(pkt.Targets)
	if !ok {
		return domain.StatusBadPacket, cmd
	}
	cmd.Targets = targets

	switch hdr.Type {
	case domain.CommandPacket:
		return r.validateForward(pkt, cmd, s), cmd

	case domain.CommandRoom:
		if s.Room != RoomNone && !r.cfg.AllowRoomChange {
			return domain.StatusForbidden, cmd
		}
		if r.cfg.AuthEnabled && !s.authenticated {
			return domain.StatusUnauthenticated, cmd
		}
		if targets.kind != targetsRooms || len(targets.rooms) == 0 {
			return domain.StatusBadPacket, cmd
		}
		cmd.Room = targets.rooms[0]
		return r.validateRoom(cmd.Room, s), cmd

	case domain.CommandUsername:
		return r.validateUsername(pkt, cmd, s), cmd

	case domain.CommandInfo:
		return domain.StatusOK, cmd

	case domain.CommandAuth:
		return r.validateAuth(pkt, cmd, s), cmd

	default:
		// userlist and uuid are outbound-only.
		return domain.StatusUnimplemented, cmd
	}
}

func (r *Relay) validateForward(pkt *domain.ClientPacket, cmd *command, s *Session) domain.Status {
	if emptyData(pkt.Data) {
		return domain.StatusBadPacket
	}

	switch cmd.Targets.kind {
	case targetsCurrentRoom:
		if s.Room == RoomNone {
			return domain.StatusBadPacket
		}

	case targetsRooms:
		if !r.cfg.AllowCrossRoomMessaging {
			return domain.StatusForbidden
		}
		for _, id := range cmd.Targets.rooms {
			if !r.reg.roomExists(id) {
				return domain.StatusUnknownTarget
			}
		}

	case targetsUsers:
		for _, identity := range cmd.Targets.users {
			if _, ok := r.reg.lookup(identity); !ok {
				return domain.StatusUnknownTarget
			}
		}
	}

	return domain.StatusOK
}

// validateRoom grades a join: 304 when already there, 201 when the room
// will be created, 200 when it exists.
func (r *Relay) validateRoom(id int64, s *Session) domain.Status {
	if s.Room == id {
		return domain.StatusNotModified
	}
	if !r.reg.roomExists(id) {
		return domain.StatusCreated
	}
	return domain.StatusOK
}

func (r *Relay) validateUsername(pkt *domain.ClientPacket, cmd *command, s *Session) domain.Status {
	var name string
	if len(pkt.Data) == 0 || json.Unmarshal(pkt.Data, &name) != nil {
		return domain.StatusBadPacket
	}
	if r.reg.usernameTaken(name) {
		return domain.StatusConflict
	}
	if len(name) > r.cfg.MaxUsernameBytes {
		return domain.StatusTooLarge
	}
	if s.Username != s.Identity && !r.cfg.AllowUsernameChange {
		return domain.StatusLocked
	}
	cmd.Username = name
	return domain.StatusOK
}

func (r *Relay) validateAuth(pkt *domain.ClientPacket, cmd *command, s *Session) domain.Status {
	if !r.cfg.AuthEnabled {
		return domain.StatusLocked
	}
	if s.Room != RoomNone {
		return domain.StatusWrongState
	}
	var creds struct {
		UUID  *string `json:"uuid"`
		Token *string `json:"token"`
	}
	if emptyData(pkt.Data) || json.Unmarshal(pkt.Data, &creds) != nil {
		return domain.StatusBadPacket
	}
	if creds.UUID == nil || creds.Token == nil {
		return domain.StatusBadPacket
	}
	cmd.UUID = *creds.UUID
	cmd.Token = *creds.Token
	return domain.StatusOK
}

func emptyData(data json.RawMessage) bool {
	return len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// decodeTargets accepts null, true, an array of room ids, or an array of
// identities. Mixed arrays and every other shape are rejected.
func decodeTargets(raw json.RawMessage) (targetSet, bool) {
	switch string(bytes.TrimSpace(raw)) {
	case "null":
		return targetSet{kind: targetsNone}, true
	case "true":
		return targetSet{kind: targetsCurrentRoom}, true
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return targetSet{}, false
	}
	if len(elems) == 0 {
		return targetSet{kind: targetsUsers}, true
	}

	// The first element decides the list's type.
	var room int64
	if json.Unmarshal(elems[0], &room) == nil {
		set := targetSet{kind: targetsRooms, rooms: make([]int64, 0, len(elems))}
		for _, el := range elems {
			var id int64
			if json.Unmarshal(el, &id) != nil {
				return targetSet{}, false
			}
			set.rooms = append(set.rooms, id)
		}
		return set, true
	}

	set := targetSet{kind: targetsUsers, users: make([]string, 0, len(elems))}
	for _, el := range elems {
		var identity string
		if json.Unmarshal(el, &identity) != nil {
			return targetSet{}, false
		}
		set.users = append(set.users, identity)
	}
	return set, true
}
