package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mwork/credits-api/internal/middleware"
	"github.com/mwork/credits-api/internal/pkg/jwt"
	"github.com/mwork/credits-api/internal/pkg/response"
)

// WebSocket constants
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	// EventSnapshot carries the caller's state right after connecting and on
	// explicit "sync" requests.
	EventSnapshot = "credits:snapshot"
)

// SnapshotFunc returns the state pushed to a freshly connected client.
type SnapshotFunc func(ctx context.Context, userID uuid.UUID) (interface{}, error)

// Handler serves the /ws endpoint.
type Handler struct {
	hub         *Hub
	jwt         *jwt.Service
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	snapshot    SnapshotFunc
}

// RateLimiter limits inbound client messages with a Redis counter per user.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  30,
		window: time.Minute,
	}
}

// Allow checks if the user may send another message
func (rl *RateLimiter) Allow(userID uuid.UUID) bool {
	if rl.redis == nil {
		return true
	}

	key := fmt.Sprintf("ratelimit:ws:%s", userID)
	ctx := context.Background()

	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return true // Fail open
	}

	if count == 1 {
		rl.redis.Expire(ctx, key, rl.window)
	}

	return count <= int64(rl.limit)
}

// NewHandler creates the websocket handler
func NewHandler(hub *Hub, jwtService *jwt.Service, redisClient *redis.Client, allowedOrigins []string) *Handler {
	return &Handler{
		hub:         hub,
		jwt:         jwtService,
		rateLimiter: NewRateLimiter(redisClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				// Allow all in development
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}

				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}

				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// SetSnapshot sets the state sent on connect.
func (h *Handler) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

// Authenticate resolves the caller from ?token= (browsers cannot set headers
// on a WebSocket handshake) or the Authorization header.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				token = parts[1]
			}
		}
		if token == "" {
			response.Unauthorized(w, "Authentication required")
			return
		}

		claims, err := h.jwt.ValidateAccessToken(token)
		if err != nil {
			response.Unauthorized(w, "Invalid token")
			return
		}
		if claims.IsBanned {
			response.Forbidden(w, "Your account has been banned")
			return
		}

		next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), claims.UserID, claims.Role)))
	})
}

// WebSocket handles WS /ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}

	h.hub.Register(client)
	h.sendSnapshot(client)

	go h.wsReader(client)
	go h.wsWriter(client)
}

func (h *Handler) sendSnapshot(client *Connection) {
	if h.snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := h.snapshot(ctx, client.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", client.UserID.String()).Msg("WebSocket snapshot failed")
		return
	}
	payload, err := json.Marshal(map[string]interface{}{"type": EventSnapshot, "data": data})
	if err != nil {
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}

func (h *Handler) wsReader(client *Connection) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", client.UserID.String()).Msg("WebSocket read error")
			}
			break
		}

		if !h.rateLimiter.Allow(client.UserID) {
			continue
		}

		var event struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		switch event.Type {
		case "sync":
			h.sendSnapshot(client)
		}
	}
}

func (h *Handler) wsWriter(client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
