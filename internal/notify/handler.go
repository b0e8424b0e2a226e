package notify

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"KURA-backend/internal/platform/auth"
)

// クライアントからの ping を待つ最大時間
const pongWait = 60 * time.Second

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// RegisterRoutes: r は RequireAuth 済み。ブラウザからは ?token= で渡す
func RegisterRoutes(r gin.IRoutes, hub *Hub, allowOrigin func(r *http.Request) bool) {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowOrigin,
		},
	}
	r.GET("/ws", h.ServeWs)
}

func (h *Handler) ServeWs(c *gin.Context) {
	p, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WARN] websocket upgrade failed: %v", err)
		return
	}
	unregister := h.hub.Register(p.StructureID, p.ID, conn)
	defer func() {
		unregister()
		conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	// 読み取りは切断検知のためだけに回す
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WARN] websocket closed unexpectedly: %v", err)
			}
			return
		}
	}
}
