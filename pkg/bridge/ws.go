package bridge

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Command is the JSON message format for the client control channel.
type Command struct {
	Type    string          `json:"type"` // "subscribe_channel", "unsubscribe_channel", "subscribe_minion", "unsubscribe_minion"
	Payload json.RawMessage `json:"payload"`
}

// ChannelPayload is the payload for channel subscription commands.
type ChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

// MinionPayload is the payload for minion subscription commands.
type MinionPayload struct {
	MinionID string `json:"minion_id"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a websocket connection to the Conn interface. Bus
// handlers and the command loop both write, so writes are serialized.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(n)
}

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and processes client subscription commands until the
// connection closes. Closing always clears the connection from every
// subscription set.
func HandleWebSocket(br *Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		c := &wsConn{conn: conn}
		br.Connect(c)
		defer br.Disconnect(c)

		for {
			var cmd Command
			if err := conn.ReadJSON(&cmd); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket read error: %v", err)
				}
				return
			}

			switch cmd.Type {
			case "subscribe_channel", "unsubscribe_channel":
				var p ChannelPayload
				if err := json.Unmarshal(cmd.Payload, &p); err != nil || p.ChannelID == "" {
					writeCommandError(c, "invalid channel payload")
					continue
				}
				if cmd.Type == "subscribe_channel" {
					br.SubscribeChannel(c, p.ChannelID)
				} else {
					br.UnsubscribeChannel(c, p.ChannelID)
				}
				ack(c, cmd.Type, map[string]any{"channel_id": p.ChannelID})

			case "subscribe_minion", "unsubscribe_minion":
				var p MinionPayload
				if err := json.Unmarshal(cmd.Payload, &p); err != nil || p.MinionID == "" {
					writeCommandError(c, "invalid minion payload")
					continue
				}
				if cmd.Type == "subscribe_minion" {
					br.SubscribeMinion(c, p.MinionID)
				} else {
					br.UnsubscribeMinion(c, p.MinionID)
				}
				ack(c, cmd.Type, map[string]any{"minion_id": p.MinionID})

			default:
				writeCommandError(c, "unknown command type: "+cmd.Type)
			}
		}
	}
}

func ack(c *wsConn, cmdType string, data map[string]any) {
	_ = c.Send(Notification{Name: cmdType + ".ok", Data: data})
}

func writeCommandError(c *wsConn, message string) {
	_ = c.Send(Notification{Name: "command.error", Data: map[string]any{"error": message}})
}
