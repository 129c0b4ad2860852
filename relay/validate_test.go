package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WorldSprites/websocket-server/config"
	"github.com/WorldSprites/websocket-server/domain"
)

func mustPacket(t *testing.T, raw string) *domain.ClientPacket {
	t.Helper()
	var pkt domain.ClientPacket
	require.NoError(t, json.Unmarshal([]byte(raw), &pkt))
	return &pkt
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   func(*config.Config)
		setup func(t *testing.T, rel *Relay, sender *Session)
		raw   string
		want  domain.Status
	}{
		{
			name: "oversized data",
			cfg:  func(c *config.Config) { c.MaxPacketBytes = 10 },
			raw:  fmt.Sprintf(`{"command":{"type":"packet"},"targets":null,"data":%q,"id":1}`, strings.Repeat("x", 32)),
			want: domain.StatusTooLarge,
		},
		{
			name: "missing command",
			raw:  `{"targets":null,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "command not an object",
			raw:  `{"command":"packet","targets":null,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "command null",
			raw:  `{"command":null,"targets":null,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "empty command type",
			raw:  `{"command":{"meta":1},"targets":null,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "unknown command type",
			raw:  `{"command":{"type":"frobnicate"},"targets":null,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "missing targets",
			raw:  `{"command":{"type":"info"},"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "missing id",
			raw:  `{"command":{"type":"info"},"targets":null}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "targets false",
			raw:  `{"command":{"type":"info"},"targets":false,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "targets bare number",
			raw:  `{"command":{"type":"info"},"targets":7,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "mixed target array",
			raw:  `{"command":{"type":"packet"},"targets":[1,"a"],"data":"x","id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "forward without data",
			raw:  `{"command":{"type":"packet"},"targets":null,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "forward null data",
			raw:  `{"command":{"type":"packet"},"targets":null,"data":null,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "forward to room broadcast while roomless",
			raw:  `{"command":{"type":"packet"},"targets":true,"data":"x","id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "forward to room broadcast while in a room",
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				rel.reg.joinRoom(sender, 7, time.Now())
			},
			raw:  `{"command":{"type":"packet"},"targets":true,"data":"x","id":1}`,
			want: domain.StatusOK,
		},
		{
			name: "cross-room messaging disabled",
			raw:  `{"command":{"type":"packet"},"targets":[5],"data":"x","id":1}`,
			want: domain.StatusForbidden,
		},
		{
			name: "cross-room target room missing",
			cfg:  func(c *config.Config) { c.AllowCrossRoomMessaging = true },
			raw:  `{"command":{"type":"packet"},"targets":[5],"data":"x","id":1}`,
			want: domain.StatusUnknownTarget,
		},
		{
			name: "cross-room target room exists",
			cfg:  func(c *config.Config) { c.AllowCrossRoomMessaging = true },
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				other := rel.Connect(&mockLink{})
				rel.reg.joinRoom(other, 5, time.Now())
			},
			raw:  `{"command":{"type":"packet"},"targets":[5],"data":"x","id":1}`,
			want: domain.StatusOK,
		},
		{
			name: "identity target missing",
			raw:  `{"command":{"type":"packet"},"targets":["ghost"],"data":"x","id":1}`,
			want: domain.StatusUnknownTarget,
		},
		{
			name: "room change disabled while in a room",
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				rel.reg.joinRoom(sender, 7, time.Now())
			},
			raw:  `{"command":{"type":"room"},"targets":[8],"id":1}`,
			want: domain.StatusForbidden,
		},
		{
			name: "room join unauthenticated in auth mode",
			cfg:  func(c *config.Config) { c.AuthEnabled = true },
			raw:  `{"command":{"type":"room"},"targets":[5],"id":1}`,
			want: domain.StatusUnauthenticated,
		},
		{
			name: "room target not numeric",
			raw:  `{"command":{"type":"room"},"targets":["lobby"],"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "room target true",
			raw:  `{"command":{"type":"room"},"targets":true,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "rejoining current room",
			cfg:  func(c *config.Config) { c.AllowRoomChange = true },
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				rel.reg.joinRoom(sender, 7, time.Now())
			},
			raw:  `{"command":{"type":"room"},"targets":[7],"id":1}`,
			want: domain.StatusNotModified,
		},
		{
			name: "joining a room that will be created",
			raw:  `{"command":{"type":"room"},"targets":[7],"id":1}`,
			want: domain.StatusCreated,
		},
		{
			name: "joining an existing room",
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				other := rel.Connect(&mockLink{})
				rel.reg.joinRoom(other, 9, time.Now())
			},
			raw:  `{"command":{"type":"room"},"targets":[9],"id":1}`,
			want: domain.StatusOK,
		},
		{
			name: "username not a string",
			raw:  `{"command":{"type":"username"},"targets":null,"data":5,"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "username taken",
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				other := rel.Connect(&mockLink{})
				other.Username = "taken"
			},
			raw:  `{"command":{"type":"username"},"targets":null,"data":"taken","id":1}`,
			want: domain.StatusConflict,
		},
		{
			name: "username too long",
			cfg:  func(c *config.Config) { c.MaxUsernameBytes = 5 },
			raw:  `{"command":{"type":"username"},"targets":null,"data":"much-too-long","id":1}`,
			want: domain.StatusTooLarge,
		},
		{
			name: "username already customized",
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				sender.Username = "custom"
			},
			raw:  `{"command":{"type":"username"},"targets":null,"data":"another","id":1}`,
			want: domain.StatusLocked,
		},
		{
			name: "username first set",
			raw:  `{"command":{"type":"username"},"targets":null,"data":"alice","id":1}`,
			want: domain.StatusOK,
		},
		{
			name: "info",
			raw:  `{"command":{"type":"info"},"targets":null,"id":1}`,
			want: domain.StatusOK,
		},
		{
			name: "auth while auth mode disabled",
			raw:  `{"command":{"type":"auth"},"targets":null,"data":{"uuid":"u","token":"t"},"id":1}`,
			want: domain.StatusLocked,
		},
		{
			name: "auth while in a room",
			cfg:  func(c *config.Config) { c.AuthEnabled = true },
			setup: func(t *testing.T, rel *Relay, sender *Session) {
				rel.reg.joinRoom(sender, 7, time.Now())
			},
			raw:  `{"command":{"type":"auth"},"targets":null,"data":{"uuid":"u","token":"t"},"id":1}`,
			want: domain.StatusWrongState,
		},
		{
			name: "auth missing token",
			cfg:  func(c *config.Config) { c.AuthEnabled = true },
			raw:  `{"command":{"type":"auth"},"targets":null,"data":{"uuid":"u"},"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "auth credentials not strings",
			cfg:  func(c *config.Config) { c.AuthEnabled = true },
			raw:  `{"command":{"type":"auth"},"targets":null,"data":{"uuid":5,"token":"t"},"id":1}`,
			want: domain.StatusBadPacket,
		},
		{
			name: "auth well formed",
			cfg:  func(c *config.Config) { c.AuthEnabled = true },
			raw:  `{"command":{"type":"auth"},"targets":null,"data":{"uuid":"u","token":"t"},"id":1}`,
			want: domain.StatusOK,
		},
		{
			name: "userlist is outbound only",
			raw:  `{"command":{"type":"userlist"},"targets":null,"id":1}`,
			want: domain.StatusUnimplemented,
		},
		{
			name: "uuid is outbound only",
			raw:  `{"command":{"type":"uuid"},"targets":null,"id":1}`,
			want: domain.StatusUnimplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			rel := newTestRelay(cfg)
			sender := rel.Connect(&mockLink{})
			if tt.setup != nil {
				tt.setup(t, rel, sender)
			}

			status, _ := rel.validate(mustPacket(t, tt.raw), sender)

			assert.Equal(t, tt.want, status)
		})
	}
}

func TestValidateIsPure(t *testing.T) {
	rel := newTestRelay(config.Default())
	sender := rel.Connect(&mockLink{})
	other := rel.Connect(&mockLink{})
	other.Username = "taken"

	before := sender.Username
	status, _ := rel.validate(mustPacket(t, `{"command":{"type":"username"},"targets":null,"data":"taken","id":1}`), sender)

	require.Equal(t, domain.StatusConflict, status)
	assert.Equal(t, before, sender.Username)
	rooms, sessions := rel.reg.counts()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 2, sessions)
}

func TestValidateEchoesClaimedType(t *testing.T) {
	rel := newTestRelay(config.Default())
	sender := rel.Connect(&mockLink{})

	status, cmd := rel.validate(mustPacket(t, `{"command":{"type":"frobnicate"},"targets":null,"id":1}`), sender)

	require.Equal(t, domain.StatusBadPacket, status)
	require.NotNil(t, cmd)
	assert.Equal(t, domain.CommandType("frobnicate"), cmd.Type)
}
