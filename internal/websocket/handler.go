package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/logger"
)

func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// BroadcastBatchReport sends {"type":"batch_completed","data":report,"message":...}.
func BroadcastBatchReport(hub *Hub, report *interfaces.BatchReport) error {
	message, err := json.Marshal(map[string]interface{}{
		"type":    "batch_completed",
		"data":    report,
		"message": report.Message(),
	})
	if err != nil {
		return err
	}

	hub.Broadcast(message)
	return nil
}
