// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWebSocketServerRelaysEvents(t *testing.T) {
	source := func(ctx context.Context) <-chan Event {
		ch := make(chan Event, 1)
		ch <- Event{Type: "position_set", Data: map[string]int{"row": 1}, Timestamp: time.Now()}
		close(ch)
		return ch
	}

	srv := httptest.NewServer(NewWebSocketServer(source))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "position_set", ev.Type)
}

func TestSSEServerWritesEventStream(t *testing.T) {
	source := func(ctx context.Context) <-chan Event {
		ch := make(chan Event, 1)
		ch <- Event{Type: "status", Data: "paused", Timestamp: time.Now()}
		close(ch)
		return ch
	}

	srv := httptest.NewServer(NewSSEServer(source))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
}
