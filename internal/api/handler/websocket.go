package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/artgen_go_server/internal/pkg/jwt"
	"github.com/qs3c/artgen_go_server/internal/pkg/ws"
)

// WebSocketHandler 建立任务进度推送连接。浏览器的 WebSocket API
// 不能带自定义头，token 走查询参数。
type WebSocketHandler struct {
	hub            *ws.Hub
	jwtSecret      string
	allowedOrigins map[string]bool
}

func NewWebSocketHandler(hub *ws.Hub, jwtSecret string, allowedOrigins []string) *WebSocketHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &WebSocketHandler{
		hub:            hub,
		jwtSecret:      jwtSecret,
		allowedOrigins: origins,
	}
}

func (h *WebSocketHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 白名单为空时放行（本地开发）
			if len(h.allowedOrigins) == 0 {
				return true
			}
			return h.allowedOrigins[r.Header.Get("Origin")]
		},
	}
}

// Handle WebSocket 连接处理
// GET /api/v1/ws?token=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := jwt.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &ws.Client{
		UserID: claims.UserID,
		Conn:   conn,
	}

	h.hub.Register(client)

	// 读循环只用于检测断开，客户端不上行业务消息
	go func() {
		defer h.hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
