package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/middleware"
	"debtapproval/internal/service"
	"debtapproval/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("ws-secret")

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, id middleware.Identity, frame Inbound) (interface{}, error) {
	if frame.Type != FrameEvent {
		return nil, apperror.Validation("Unknown frame type.")
	}
	return map[string]string{"user": id.UserID.String(), "echo": string(frame.Data)}, nil
}

func startServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(logger.Discard())
	hub.SetDispatcher(echoDispatcher{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c, secret) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID.String(), "role": "cashier"}).SignedString(secret)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out Outbound
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestServeWsRejectsMissingOrBadToken(t *testing.T) {
	_, srv := startServer(t)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=nope", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendReachesEveryConnectionOfTheUser(t *testing.T) {
	hub, srv := startServer(t)
	userID := uuid.New()
	a := dial(t, srv, userID)
	b := dial(t, srv, userID)
	require.Eventually(t, func() bool { return hub.Online(userID) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), userID, service.Prompt{Kind: service.PromptApproval, Text: "R-202603-00001 awaits you"}))
	for _, conn := range []*websocket.Conn{a, b} {
		out := readFrame(t, conn)
		assert.Equal(t, FramePrompt, out.Type)
		data, err := json.Marshal(out.Data)
		require.NoError(t, err)
		assert.Contains(t, string(data), "R-202603-00001 awaits you")
	}

	assert.NoError(t, hub.Send(context.Background(), uuid.New(), service.Prompt{Text: "nobody home"}))
}

func TestInboundFramesAreDispatched(t *testing.T) {
	hub, srv := startServer(t)
	userID := uuid.New()
	conn := dial(t, srv, userID)
	require.Eventually(t, func() bool { return hub.Online(userID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Inbound{Type: FrameEvent, ID: "1", Data: json.RawMessage(`{"kind":"start"}`)}))
	out := readFrame(t, conn)
	assert.Equal(t, FrameReply, out.Type)
	assert.Equal(t, "1", out.ID)
	assert.Equal(t, userID.String(), out.Data.(map[string]interface{})["user"])

	require.NoError(t, conn.WriteJSON(Inbound{Type: "bogus", ID: "2"}))
	out = readFrame(t, conn)
	assert.Equal(t, FrameError, out.Type)
	assert.Equal(t, "2", out.ID)
	assert.Equal(t, "CSE-4001", out.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	out = readFrame(t, conn)
	assert.Equal(t, FrameError, out.Type)
}

func TestClosedConnectionIsUnregistered(t *testing.T) {
	hub, srv := startServer(t)
	userID := uuid.New()
	conn := dial(t, srv, userID)
	require.Eventually(t, func() bool { return hub.Online(userID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Online(userID) == 0 }, 2*time.Second, 10*time.Millisecond)
}
