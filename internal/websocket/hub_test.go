package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/websocket"
)

func TestHub_BroadcastsBatchReports(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		websocket.HandleWebSocket(hub, w, r)
	}))
	defer srv.Close()

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	report := &interfaces.BatchReport{BatchID: "b-9", JobsProcessed: 2}

	// Registration is asynchronous; keep publishing until the client sees one.
	got := make(chan []byte, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- msg
		}
	}()

	var msg []byte
	require.Eventually(t, func() bool {
		assert.NoError(t, hub.BatchFinished(ctx, report))
		select {
		case msg = <-got:
			return true
		default:
			return false
		}
	}, 2*time.Second, 25*time.Millisecond)

	var decoded struct {
		Type    string                 `json:"type"`
		Data    interfaces.BatchReport `json:"data"`
		Message string                 `json:"message"`
	}
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, "batch_completed", decoded.Type)
	assert.Equal(t, "b-9", decoded.Data.BatchID)
	assert.Equal(t, report.Message(), decoded.Message)
}
