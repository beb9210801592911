package websocket

import (
	"context"
	"net/http"

	"volleystat/internal/redis"
	"volleystat/internal/services"
	"volleystat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenParser validates the token passed in the query string.
type TokenParser interface {
	ParseAccessToken(ctx context.Context, token string) (services.AccessClaims, error)
}

// Handler upgrades authenticated requests and streams the user's upload
// events to them.
type Handler struct {
	auth     TokenParser
	hub      *Hub
	upgrader websocket.Upgrader
	log      *Logger
}

func NewHandler(auth TokenParser, hub *Hub, checkOrigin func(r *http.Request) bool, log *Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		auth:     auth,
		hub:      hub,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		log:      log,
	}
}

func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	claims, err := h.auth.ParseAccessToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("upgrade", userID, "", err)
		return
	}

	client := NewClient(conn, userID.String())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client, redis.UploadChannel(userID.String()))
	h.log.Info("connected", userID, client.ID)
	go client.WriteLoop(ctx)

	err = client.ReadLoop()
	h.hub.Unregister(client)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		h.log.Warn("disconnected", userID, client.ID, zap.Error(err))
		return
	}
	h.log.Info("disconnected", userID, client.ID)
}
