// Package services 实现业务服务：入站事件摄取、会话聚合/阅读、本地发送与投递模拟。
package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"wachat/internal/broadcast"
	"wachat/internal/ingest"
	"wachat/internal/metrics"
	"wachat/internal/mq"
	"wachat/internal/store"
)

// IngestService 消费规范化结果并落库：
// - 每条消息按幂等键 InsertIfAbsent（重复投递是 no-op，这就是去重保证）
// - 无论新建还是命中既有记录都广播 message:new，冗余投递下观察者也保持同步
// - 每条状态回执按主键/关联键批量更新，命中零条也按元组广播 message:status
// 依赖：MessageStoreInterface + Broadcaster（可选 KafkaProducer 镜像事件）
type IngestService struct {
	Store    store.MessageStoreInterface
	Bcast    broadcast.Broadcaster
	Producer *mq.KafkaProducer // 可选
}

func NewIngestService(ms store.MessageStoreInterface, b broadcast.Broadcaster) *IngestService {
	return &IngestService{Store: ms, Bcast: b}
}

// IngestResult 一次摄取的结果计数。
type IngestResult struct {
	Stored        int `json:"inserted"`      // 处理的消息条数（含命中既有记录）
	Created       int `json:"created"`       // 其中实际新建条数
	StatusApplied int `json:"statusApplied"` // 应用的状态回执元组数
}

// Recognized 载荷中是否含有可识别内容。
func (r *IngestResult) Recognized() bool { return r.Stored > 0 || r.StatusApplied > 0 }

// Process 处理一份入站载荷。解析失败等同于「零事件」，不是错误；
// 存储不可用才向调用方返回失败。
func (s *IngestService) Process(ctx context.Context, payload []byte) (*IngestResult, error) {
	res := ingest.Normalize(payload, time.Now())
	out := &IngestResult{}

	for _, m := range res.Messages {
		stored, created, err := s.Store.InsertIfAbsent(ctx, m)
		if err != nil {
			log.Printf("Ingest.Process insert error: id=%s err=%v", m.MsgID, err)
			return nil, err
		}
		result := "duplicate"
		if created {
			result = "stored"
			out.Created++
		}
		metrics.IngestMessagesTotal.WithLabelValues(result).Inc()
		out.Stored++
		log.Printf("Ingest.Process message: id=%s wa_id=%s result=%s", stored.MsgID, stored.PeerID, result)

		// 广播无条件进行：即使是重复投递，观察者也要拿到当前库内记录
		s.Bcast.MessageCreated(ctx, stored)
		s.mirror(stored.PeerID, broadcast.EventMessageNew, stored)
	}

	for _, u := range res.Statuses {
		n, err := s.Store.UpdateStatus(ctx, u.TargetKey, u.NewStatus)
		if err != nil {
			log.Printf("Ingest.Process status error: key=%s status=%s err=%v", u.TargetKey, u.NewStatus, err)
			return nil, err
		}
		metrics.StatusUpdatesTotal.Inc()
		out.StatusApplied++
		log.Printf("Ingest.Process status: key=%s status=%s matched=%d", u.TargetKey, u.NewStatus, n)

		// 命中零条也广播：未匹配即静默成功，观察者自行决定是否关心该键
		s.Bcast.StatusChanged(ctx, u.TargetKey, u.NewStatus)
		s.mirror(u.TargetKey, broadcast.EventMessageStatus, u)
	}

	return out, nil
}

// mirror 把事件异步镜像到 Kafka（未配置 Producer 时为 no-op）。
func (s *IngestService) mirror(key, event string, data any) {
	if s.Producer == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		return
	}
	s.Producer.Publish(payload, []byte(key))
}
