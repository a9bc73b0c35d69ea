package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"vera-go/internal/service"
	"vera-go/pkg/log"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理问答请求，包括一次性回答和 WebSocket 流式回答。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 定义了问答接口的请求体结构。
type ChatRequest struct {
	Question string `json:"question"`
}

// Chat 处理一次性问答请求。回答失败时依然返回 200，由响应体描述降级或错误。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "question must not be empty", "data": nil})
		return
	}

	c.JSON(http.StatusOK, h.chatService.Answer(c.Request.Context(), question))
}

// Handle 处理一个传入的 WebSocket 连接。每条文本消息是一个问题，可以是纯文本或 {"question":"..."}。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		question := parseQuestion(message)
		if question == "" {
			writeFrame(conn, map[string]string{"error": "question must not be empty"})
			continue
		}
		log.Infof("收到 WebSocket 问题: %s", question)

		if err := h.chatService.StreamResponse(c.Request.Context(), question, conn); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeFrame(conn, map[string]string{"error": "AI服务暂时不可用，请稍后重试"})
			// 错误时也发送 completion 通知
			writeFrame(conn, map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			})
			break
		}
	}
}

func parseQuestion(message []byte) string {
	text := strings.TrimSpace(string(message))
	if strings.HasPrefix(text, "{") {
		var req ChatRequest
		if err := json.Unmarshal([]byte(text), &req); err == nil {
			return strings.TrimSpace(req.Question)
		}
	}
	return text
}

func writeFrame(conn *websocket.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
