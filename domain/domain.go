package domain

import "encoding/json"

// CommandType names what an inbound packet asks the relay to do. The
// userlist and uuid types only ever travel server-to-client; a client
// sending one gets 501.
type CommandType string

const (
	CommandUsername CommandType = "username"
	CommandPacket   CommandType = "packet"
	CommandRoom     CommandType = "room"
	CommandUserlist CommandType = "userlist"
	CommandUUID     CommandType = "uuid"
	CommandInfo     CommandType = "info"
	CommandAuth     CommandType = "auth"

	// CommandError is pushed when packet handling fails internally.
	CommandError CommandType = "error"
)

// Recognized reports whether t belongs to the protocol's command set.
func (t CommandType) Recognized() bool {
	switch t {
	case CommandUsername, CommandPacket, CommandRoom, CommandUserlist,
		CommandUUID, CommandInfo, CommandAuth:
		return true
	}
	return false
}

// OriginInvalid is the originType of responses to packets whose command
// header could not be decoded at all.
const OriginInvalid = "INVALID"

type ResponseType string

const (
	ResponseForward  ResponseType = "forward"
	ResponseValidate ResponseType = "validate"
	ResponseInfo     ResponseType = "info"
)

// PacketState distinguishes direct responses from unsolicited pushes.
type PacketState int

const (
	StateResponse PacketState = 0
	StatePacket   PacketState = 1
)

// ClosePolicyViolation is the websocket close code used when a connection
// is dropped for sustained rate-limit abuse.
const ClosePolicyViolation = 1008

// Command is the decoded command header of a packet. Meta is carried
// through to forwarded packets untouched.
type Command struct {
	Type CommandType     `json:"type"`
	Meta json.RawMessage `json:"meta"`
}

// ClientPacket is the inbound wire frame. Command and Targets stay raw so
// shape violations can be answered per field instead of failing the whole
// decode: targets may be an array, null, or the literal true.
type ClientPacket struct {
	Command json.RawMessage `json:"command"`
	Targets json.RawMessage `json:"targets"`
	Data    json.RawMessage `json:"data"`
	ID      int64           `json:"id"`
}

// Response answers one specific inbound packet by id. A nil ID marks
// responses that were not triggered by a well-formed packet, such as the
// bootstrap room join or the rate-limit warning.
type Response struct {
	Status      Status       `json:"status"`
	Data        any          `json:"data"`
	ID          *int64       `json:"id"`
	Type        ResponseType `json:"type"`
	OriginType  string       `json:"originType"`
	PacketState PacketState  `json:"packetState"`
}

func NewResponse(status Status, data any, id *int64, rt ResponseType, origin string) Response {
	return Response{
		Status:      status,
		Data:        data,
		ID:          id,
		Type:        rt,
		OriginType:  origin,
		PacketState: StateResponse,
	}
}

// ServerPacket is an unsolicited push. A nil Sender means the relay itself
// originated the packet.
type ServerPacket struct {
	Command     Command     `json:"command"`
	Data        any         `json:"data"`
	ID          int64       `json:"id"`
	PacketState PacketState `json:"packetState"`
	Sender      *string     `json:"sender"`
}

func NewServerPacket(cmd Command, data any, id int64, sender *string) ServerPacket {
	return ServerPacket{
		Command:     cmd,
		Data:        data,
		ID:          id,
		PacketState: StatePacket,
		Sender:      sender,
	}
}

// UserEntry is one row of a room membership snapshot.
type UserEntry struct {
	Username string `json:"username"`
	UUID     string `json:"uuid"`
}

// Transport is the write side of one live client connection. It is owned by
// the transport layer; the relay only emits through it. Implementations must
// be safe for concurrent use and Send must never block.
type Transport interface {
	Send(data []byte) error
	Ping() error
	Close(code int, reason string) error
	Terminate() error
}
