package models

import "time"

// Message 为系统中唯一的持久化实体：一条双方消息。
// - MsgID 为幂等键（全局唯一），重复写入以第一次为准
// - CorrelID 为次级关联键：异步状态回执引用的 ID 可能与原始消息 ID 不同
// - From/To 为绝对地址；Direction 仅保留写入时的快照（兼容旧数据），
//   读取侧一律通过 DirectionFor 按查看者重新投影，不得信任存储值
type Message struct {
	PeerID    string         `json:"wa_id" bson:"wa_id"`                                 // 对端地址（会话分组键）
	PeerName  string         `json:"name" bson:"name"`                                   // 对端展示名，缺省 "Unknown"
	Number    string         `json:"number" bson:"number"`                               // 对端号码（与 wa_id 一致）
	MsgID     string         `json:"id" bson:"msg_id"`                                   // 幂等键，唯一索引
	CorrelID  string         `json:"meta_msg_id,omitempty" bson:"meta_msg_id,omitempty"` // 关联键
	From      string         `json:"from" bson:"from"`                                   // 发送方地址
	To        string         `json:"to" bson:"to"`                                       // 接收方地址
	Text      string         `json:"text" bson:"text"`                                   // 正文，可为空
	Media     map[string]any `json:"media" bson:"media,omitempty"`                       // 媒体引用（不透明），可空
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`                         // 事件时间或入库时间
	Status    string         `json:"status" bson:"status"`                               // pending/sent/delivered/read
	Direction string         `json:"direction" bson:"direction"`                         // 写入时方向快照，仅兼容用
}

// 投递状态常量。常规迁移为 sent → delivered → read，
// 但外部回执可能乱序到达，存储层不做迁移校验。
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// DefaultPeerName 对端展示名缺省值。
const DefaultPeerName = "Unknown"

// DirectionFor 按查看者投影方向：发送方即查看者则为 out，否则为 in。
// 方向永远不是记录的绝对属性——同一条记录被双方以相反方向渲染。
func (m *Message) DirectionFor(viewer string) string {
	if m.From == viewer {
		return DirectionOut
	}
	return DirectionIn
}

// PeerOf 返回相对查看者的对端地址。
func (m *Message) PeerOf(viewer string) string {
	if m.From == viewer {
		return m.To
	}
	return m.From
}

// IsSelfPair 判断是否自发自收（此类记录不进入任何会话视图）。
func (m *Message) IsSelfPair() bool { return m.From == m.To }

// UnreadFor 未读判定：查看者为接收方且状态未达 read。
func (m *Message) UnreadFor(viewer string) bool {
	return m.From != viewer && m.Status != StatusRead
}

// Clone 返回浅拷贝，读取侧投影在拷贝上进行，不回写存储对象。
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// StatusUpdate 为规范化后的状态回执：目标键（主键或关联键均可命中）与新状态。
type StatusUpdate struct {
	TargetKey string `json:"id"`
	NewStatus string `json:"status"`
}

// ConversationSummary 会话摘要行：每个对端一行。
// LatestMessage 已按查看者完成方向/展示名投影。
type ConversationSummary struct {
	PeerID        string   `json:"wa_id"`
	LatestMessage *Message `json:"latestMessage"`
	UnreadCount   int64    `json:"unreadCount"`
}

// Contact 可发起会话的对端条目。
type Contact struct {
	PeerID  string `json:"wa_id"`
	Name    string `json:"name"`
	Profile string `json:"profile,omitempty"`
}
