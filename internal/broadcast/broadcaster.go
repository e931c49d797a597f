// Package broadcast 实现实时扇出：把新消息与状态变更事件推给全部在线观察者。
// 广播层不做按观察者过滤——每个观察者收到全部事件，自行按
// (查看者, 对端) 判断相关性并重新投影方向。观察者规模小，冗余投递可接受。
package broadcast

import (
	"context"
	"encoding/json"
	"log"

	"wachat/internal/cache"
	"wachat/internal/metrics"
	"wachat/internal/models"
)

// 事件类型：与前端约定的两种通知。
const (
	EventMessageNew    = "message:new"
	EventMessageStatus = "message:status"
)

// Envelope 广播信封：{event, data}。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// StatusEvent 状态变更事件载荷（仅键与新状态，不含整条记录）。
type StatusEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Broadcaster 扇出接口：消息创建与状态变更两种通知。
// 广播是尽力而为的，失败只记日志，不回传给触发方。
type Broadcaster interface {
	MessageCreated(ctx context.Context, m *models.Message)
	StatusChanged(ctx context.Context, key, status string)
}

// RedisBroadcaster 经由 Redis Pub/Sub 的生产实现：
// 所有事件发布到全局通道，WS 网关为每个连接订阅该通道并透传。
type RedisBroadcaster struct{}

func NewRedisBroadcaster() *RedisBroadcaster { return &RedisBroadcaster{} }

func (b *RedisBroadcaster) MessageCreated(ctx context.Context, m *models.Message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("Broadcast.MessageCreated marshal error: id=%s err=%v", m.MsgID, err)
		return
	}
	b.publish(ctx, EventMessageNew, data)
}

func (b *RedisBroadcaster) StatusChanged(ctx context.Context, key, status string) {
	data, _ := json.Marshal(StatusEvent{ID: key, Status: status})
	b.publish(ctx, EventMessageStatus, data)
}

func (b *RedisBroadcaster) publish(ctx context.Context, event string, data json.RawMessage) {
	payload, _ := json.Marshal(Envelope{Event: event, Data: data})
	if err := cache.Client().Publish(ctx, cache.EventsChannel(), payload).Err(); err != nil {
		log.Printf("Broadcast.publish error: event=%s err=%v", event, err)
		return
	}
	metrics.BroadcastEventsTotal.WithLabelValues(event).Inc()
}
