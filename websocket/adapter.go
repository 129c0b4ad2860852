package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WorldSprites/websocket-server/config"
	"github.com/WorldSprites/websocket-server/relay"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errSendBufferFull = errors.New("send buffer full")

// Conn adapts one gorilla websocket connection to the relay's Transport.
// Outbound frames go through a buffered channel drained by the write pump;
// control frames (pings, closes) use WriteControl, which gorilla permits
// concurrently with the pump.
type Conn struct {
	ws       *websocket.Conn
	send     chan []byte
	relay    *relay.Relay
	sess     *relay.Session
	readWait time.Duration
}

// Handler upgrades HTTP requests and wires the resulting connection into
// the relay: register, optional bootstrap room join from the roomid query
// parameter, identity announcement, then the pumps.
func Handler(rel *relay.Relay, cfg config.Config) http.HandlerFunc {
	// The relay pings every keepalive interval; a peer silent for three
	// windows is dead to the read loop as well.
	readWait := 3 * cfg.KeepAliveInterval
	readLimit := int64(4*cfg.MaxPacketBytes + 2048)

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		c := &Conn{
			ws:       ws,
			send:     make(chan []byte, 256),
			relay:    rel,
			readWait: readWait,
		}
		ws.SetReadLimit(readLimit)

		c.sess = rel.Connect(c)
		if roomid := r.URL.Query().Get("roomid"); roomid != "" {
			rel.JoinInitialRoom(c.sess, roomid)
		}
		rel.AnnounceIdentity(c.sess)

		go c.writePump()
		go c.readPump()
	}
}

func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		slog.Debug("close message not delivered", "error", err)
	}
	return c.ws.Close()
}

func (c *Conn) Terminate() error {
	return c.ws.Close()
}

func (c *Conn) readPump() {
	defer func() {
		c.relay.Disconnect(c.sess)
		close(c.send)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(c.readWait))
	c.ws.SetPongHandler(func(string) error {
		c.relay.MarkAlive(c.sess)
		c.ws.SetReadDeadline(time.Now().Add(c.readWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.readWait))
		c.relay.HandlePacket(c.sess, data)
	}
}

func (c *Conn) writePump() {
	defer c.ws.Close()

	for {
		message, ok := <-c.send
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if !ok {
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
