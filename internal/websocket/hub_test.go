package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"volleystat/internal/redis"
	"volleystat/internal/services"
	volley_errors "volleystat/pkg/errors"
	"volleystat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastReachesSubscribersOnly(t *testing.T) {
	hub := runHub(t)

	alice := &Client{ID: "a", UserID: "alice", Send: make(chan []byte, 4), channels: map[string]bool{}}
	bob := &Client{ID: "b", UserID: "bob", Send: make(chan []byte, 4), channels: map[string]bool{}}
	hub.Register(alice, "uploads:alice")
	hub.Register(bob, "uploads:bob")

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("uploads:alice", []byte(`{"type":"upload.progress"}`))

	select {
	case msg := <-alice.Send:
		assert.JSONEq(t, `{"type":"upload.progress"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("alice got nothing")
	}
	assert.Len(t, bob.Send, 0)

	hub.Unregister(alice)
	require.Eventually(t, func() bool { return hub.SubscriberCount("uploads:alice") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-alice.Send
	assert.False(t, open)
}

type fakeSubscriber struct {
	messages map[string][]byte
}

func (f fakeSubscriber) Subscribe(ctx context.Context, patterns []string, handler func(string, []byte)) error {
	for ch, payload := range f.messages {
		handler(ch, payload)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRedisBridge_RelaysToHub(t *testing.T) {
	hub := runHub(t)
	c := &Client{ID: "a", UserID: "alice", Send: make(chan []byte, 4), channels: map[string]bool{}}
	hub.Register(c, "uploads:alice")
	require.Eventually(t, func() bool { return hub.SubscriberCount("uploads:alice") == 1 }, time.Second, 5*time.Millisecond)

	bridge := NewRedisBridge(fakeSubscriber{messages: map[string][]byte{"uploads:alice": []byte("hi")}}, hub)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx, []string{redis.UploadChannelPattern}) }()

	select {
	case msg := <-c.Send:
		assert.Equal(t, "hi", string(msg))
	case <-time.After(time.Second):
		t.Fatal("message not relayed")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type staticParser struct {
	userID uuid.UUID
}

func (p staticParser) ParseAccessToken(_ context.Context, token string) (services.AccessClaims, error) {
	if token != "good" {
		return services.AccessClaims{}, volley_errors.ErrUnauthorized
	}
	return services.AccessClaims{UserID: p.userID.String()}, nil
}

func TestHandler_StreamsUserChannel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := runHub(t)
	userID := uuid.New()

	h := NewHandler(staticParser{userID: userID}, hub, nil, NewLogger(logger.NewNop()))
	r := gin.New()
	r.GET("/v1/ws", h.Connect)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	channel := redis.UploadChannel(userID.String())
	require.Eventually(t, func() bool { return hub.SubscriberCount(channel) == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(channel, []byte(`{"type":"upload.state","state":"succeeded"}`))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "succeeded")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
