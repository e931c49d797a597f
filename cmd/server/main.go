package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"wachat/internal/broadcast"
	"wachat/internal/cache"
	"wachat/internal/config"
	"wachat/internal/identity"
	"wachat/internal/metrics"
	"wachat/internal/mq"
	"wachat/internal/ratelimit"
	"wachat/internal/services"
	"wachat/internal/store"
	"wachat/internal/store/mongostore"
	"wachat/internal/transport/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	cache.InitRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if cfg.EnableMetrics {
		metrics.Init()
	}

	// 根据配置选择消息存储：mongodb 或 memory
	var msgStore store.MessageStoreInterface
	switch cfg.MessageDB {
	case "memory":
		msgStore = store.NewMemMessageStore()
	default: // mongodb
		mongoDB, err := mongostore.Connect(cfg.MongoURI)
		if err != nil {
			panic(fmt.Sprintf("MongoDB connection failed: %v", err))
		}
		msgStore = store.NewMongoMessageStore(mongoDB)
	}

	dir := identity.NewStaticDirectory(cfg.Profiles)
	bcast := broadcast.NewRedisBroadcaster()

	ingestSvc := services.NewIngestService(msgStore, bcast)
	chatSvc := services.NewChatService(msgStore, dir, bcast)
	chatSvc.DeliverDelay = time.Duration(cfg.DeliverDelayMS) * time.Millisecond

	if cfg.KafkaBrokers != "" {
		p, err := mq.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		if err == nil {
			ingestSvc.Producer = p
			defer p.Close()
		} else {
			log.Printf("Kafka producer init failed: err=%v", err)
		}
	}

	limiter := ratelimit.NewTokenBucketLimiter(cache.Client())

	r := gin.Default()
	// 健康/指标
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	if cfg.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// 入站事件回调：部分识别也不拒绝，返回确认式响应
	r.POST("/webhook", func(c *gin.Context) {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(400, gin.H{"error": "invalid body"})
			return
		}
		res, err := ingestSvc.Process(c, payload)
		if err != nil {
			c.JSON(500, gin.H{"error": "processing error"})
			return
		}
		switch {
		case res.Stored > 0:
			c.JSON(201, gin.H{"inserted": res.Stored, "created": res.Created, "modified": res.StatusApplied})
		case res.StatusApplied > 0:
			c.JSON(200, gin.H{"modified": res.StatusApplied})
		default:
			c.JSON(200, gin.H{"ok": true, "note": "No recognized data in payload"})
		}
	})

	// 会话摘要列表
	r.GET("/api/conversations", func(c *gin.Context) {
		sums, err := chatSvc.Conversations(c, c.Query("profile"))
		if err != nil {
			respondErr(c, err, "Failed to fetch conversations")
			return
		}
		c.JSON(200, sums)
	})

	// 单会话历史（副作用：已读回执）
	r.GET("/api/conversations/:wa_id/messages", func(c *gin.Context) {
		msgs, err := chatSvc.History(c, c.Query("profile"), c.Param("wa_id"))
		if err != nil {
			respondErr(c, err, "Failed to fetch messages")
			return
		}
		c.JSON(200, msgs)
	})

	// 本地发送
	r.POST("/api/conversations/:wa_id/messages", func(c *gin.Context) {
		var req struct {
			Text    string `json:"text"`
			Profile string `json:"profile"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if allowed, _, _ := limiter.Allow(c, "wa:tb:send:"+req.Profile, cfg.SendQPS, cfg.SendBurst); !allowed {
			c.JSON(429, gin.H{"error": "rate limited"})
			return
		}
		msg, err := chatSvc.Send(c, req.Profile, c.Param("wa_id"), req.Text)
		if err != nil {
			respondErr(c, err, "Failed to send message")
			return
		}
		c.JSON(201, msg)
	})

	// 可聊对象
	r.GET("/api/contacts", func(c *gin.Context) {
		contacts, err := chatSvc.Contacts(c.Query("profile"))
		if err != nil {
			respondErr(c, err, "Failed to fetch contacts")
			return
		}
		c.JSON(200, contacts)
	})

	// 实时通道
	wsSrv := &ws.Server{ChatSvc: chatSvc, SendQPS: cfg.SendQPS, SendBurst: cfg.SendBurst, Limiter: limiter}
	r.GET("/ws", wsSrv.Handle)

	log.Printf("Server listening: addr=%s messageDB=%s", cfg.ListenAddr, cfg.MessageDB)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// respondErr 把内部错误收敛为少量调用方可见的原因：
// 校验类错误 400 + 具体原因；其余 500 + 通用提示，不泄露内部细节。
func respondErr(c *gin.Context, err error, generic string) {
	if errors.Is(err, services.ErrUnknownViewer) || errors.Is(err, services.ErrEmptyBody) || errors.Is(err, services.ErrSelfChat) {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	c.JSON(500, gin.H{"error": generic})
}
