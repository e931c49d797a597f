// Package ws 提供实时推送网关：连接以档位身份接入，订阅全局事件通道（Redis Pub/Sub），
// 把 message:new / message:status 事件不加过滤地透传给客户端——相关性判断与
// 方向重投影由客户端按自身查看者完成，与 REST 读取路径的投影规则一致。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"wachat/internal/cache"
	"wachat/internal/metrics"
	"wachat/internal/ratelimit"
	"wachat/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server 是 WebSocket 网关服务。
// - 注入 ChatSvc 处理上行 send 动作（与 REST 发送同一条路径）
// - 基于 Redis 令牌桶对上行发送限速
// - 每个连接使用单独的写锁，避免并发写触发 gorilla/websocket 冲突
type Server struct {
	ChatSvc *services.ChatService

	SendQPS   int
	SendBurst int
	Limiter   *ratelimit.TokenBucketLimiter
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage 统一封装上行动作与数据载荷。action 目前支持：send
type WSMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// SendPayload 客户端经 WS 发送消息的载荷。
type SendPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Handle 处理 HTTP 升级为 WebSocket 及该连接的读/写循环。
// - 身份：profile 查询参数指定查看者档位，未知档位拒绝升级
// - 下行：订阅全局事件通道，将 Redis 消息原样写回客户端
func (s *Server) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	handle := c.Query("profile")
	if _, err := s.ChatSvc.Contacts(handle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrUnknownViewer.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	log.Printf("WS connected: profile=%s", handle)
	defer log.Printf("WS disconnected: profile=%s", handle)

	// 每个连接的写锁，序列化所有写操作，避免 concurrent write
	writeMu := &sync.Mutex{}

	// 订阅全局事件通道
	sub := cache.Client().Subscribe(ctx, cache.EventsChannel())
	defer sub.Close()

	// 读循环：处理客户端上行动作
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("WS read error: profile=%s err=%v", handle, err)
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			var m WSMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Printf("WS unmarshal error: profile=%s err=%v data=%q", handle, err, string(data))
				continue
			}
			metrics.WSActionsTotal.WithLabelValues(m.Action).Inc()
			s.handleInbound(ctx, handle, conn, writeMu, &m)
		}
	}()

	// 写循环：将 Redis 收到的事件发给客户端
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			log.Printf("WS redis receive error: profile=%s err=%v", handle, err)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload))
		writeMu.Unlock()
		if err != nil {
			log.Printf("WS write error: profile=%s err=%v", handle, err)
			return
		}
	}
}

// rateLimitAllow 使用 Redis 令牌桶对档位维度的发送限速，出错时放行。
func (s *Server) rateLimitAllow(ctx context.Context, handle string) bool {
	qps := s.SendQPS
	burst := s.SendBurst
	if qps <= 0 {
		qps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	if s.Limiter == nil {
		return true
	}
	allowed, _, _ := s.Limiter.Allow(ctx, "wa:tb:ws:send:"+handle, qps, burst)
	return allowed
}

// handleInbound 分发上行动作：
// - send：限速 → ChatSvc.Send 入库与广播 → 返回 ack；校验失败返回具体 code
func (s *Server) handleInbound(ctx context.Context, handle string, conn *websocket.Conn, writeMu *sync.Mutex, m *WSMessage) {
	switch m.Action {
	case "send":
		if !s.rateLimitAllow(ctx, handle) {
			writeMu.Lock()
			conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"error","data":{"code":"RATE_LIMIT"}}`))
			writeMu.Unlock()
			log.Printf("WS send blocked by rate limit: profile=%s", handle)
			return
		}
		var p SendPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			log.Printf("WS send payload unmarshal error: profile=%s err=%v", handle, err)
			return
		}
		msg, err := s.ChatSvc.Send(ctx, handle, p.To, p.Text)
		if err != nil {
			code := "SEND_FAILED"
			if errors.Is(err, services.ErrEmptyBody) || errors.Is(err, services.ErrSelfChat) || errors.Is(err, services.ErrUnknownViewer) {
				code = "INVALID_SEND"
			}
			b, _ := json.Marshal(gin.H{"action": "error", "data": gin.H{"code": code, "message": err.Error()}})
			writeMu.Lock()
			conn.WriteMessage(websocket.TextMessage, b)
			writeMu.Unlock()
			log.Printf("WS send failed: profile=%s to=%s err=%v", handle, p.To, err)
			return
		}
		b, _ := json.Marshal(gin.H{"action": "ack", "data": msg})
		writeMu.Lock()
		werr := conn.WriteMessage(websocket.TextMessage, b)
		writeMu.Unlock()
		log.Printf("WS send ack: profile=%s id=%s writeErr=%v", handle, msg.MsgID, werr)
	}
}
