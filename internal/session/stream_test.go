package session

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"startup-analyst/internal/poller"
)

func TestHubBroadcastAndUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- client

	hub.Broadcast(poller.Status{State: poller.StatePolling, Percent: 40, Message: "Extracting"})
	select {
	case received := <-client.send:
		var st poller.Status
		if err := json.Unmarshal(received, &st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.State != poller.StatePolling || st.Percent != 40 {
			t.Fatalf("unexpected status %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive broadcast in time")
	}

	hub.unregister <- client
	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatalf("expected send channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("client was not unregistered")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	client.send <- []byte("pending")
	hub.register <- client
	hub.Broadcast(poller.Status{State: poller.StatePolling})

	for len(hub.broadcast) > 0 {
		time.Sleep(time.Millisecond)
	}
	// Run is back in select once it accepts another registration.
	hub.register <- &Client{hub: hub, send: make(chan []byte, 1)}

	if msg := <-client.send; string(msg) != "pending" {
		t.Fatalf("unexpected buffered message %s", msg)
	}
	if _, ok := <-client.send; ok {
		t.Fatalf("expected slow client to be closed")
	}
}

func TestServeWSStreamsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	r := gin.New()
	r.GET("/stream", func(c *gin.Context) {
		hub.ServeWS(c, []byte(`{"state":"idle"}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if string(first) != `{"state":"idle"}` {
		t.Fatalf("unexpected initial message %s", first)
	}

	// The initial message is written after registration completes.
	hub.Broadcast(poller.Status{State: poller.StateCompleted, Percent: 100})
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var st poller.Status
	if err := json.Unmarshal(msg, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != poller.StateCompleted || st.Percent != 100 {
		t.Fatalf("unexpected status %+v", st)
	}
}
