package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/models"
)

// defaultOrigins are allowed when no allow-list is configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultOrigins
	}
	wildcard := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			if origin == "" || wildcard {
				return true
			}
			_, ok := set[strings.ToLower(origin)]
			return ok
		},
	}
}

// Handler upgrades HTTP requests into topic subscriptions.
type Handler struct {
	b        *Broadcaster
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler creates a Handler that accepts connections from allowedOrigins.
func NewHandler(b *Broadcaster, allowedOrigins []string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{b: b, upgrader: newUpgrader(allowedOrigins), log: log.Named("ws")}
}

// ServeTopic returns the handler for one topic's subscription endpoint.
// Clients only listen; anything they send is discarded.
func (h *Handler) ServeTopic(topic models.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", zap.String("topic", string(topic)), zap.Error(err))
			return
		}

		id, err := h.b.Subscribe(topic, conn)
		if err != nil {
			_ = conn.Close()
			return
		}
		h.log.Debug("subscriber connected", zap.String("topic", string(topic)), zap.String("subscriber", id))

		defer func() {
			h.b.Unsubscribe(topic, id)
			_ = conn.Close()
			h.log.Debug("subscriber disconnected", zap.String("topic", string(topic)), zap.String("subscriber", id))
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}
}
