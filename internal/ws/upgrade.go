package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UpgradeOverlayWS upgrades a subscriber connection. ?room=obs joins the
// overlay room; every subscriber receives broadcast-to-all events.
func UpgradeOverlayWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		room := ""
		if c.Query("room") == RoomOBS {
			room = RoomOBS
		}
		client := NewClient(room)
		hub.Register(client)
		defer client.Close()
		slog.Info("websocket subscriber connected", "room", room, "ip", c.ClientIP())

		hello, _ := json.Marshal(Envelope{
			Event:     "connected",
			Message:   "Connected to donation notifications",
			Timestamp: time.Now().UnixMilli(),
		})
		client.Send <- hello
		go writePump(client, conn)
		readPump(conn)
		slog.Info("websocket subscriber disconnected", "room", room)
	}
}

// writePump copies messages from client.Send to the connection.
func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn) {
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
