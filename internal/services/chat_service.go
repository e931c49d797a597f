package services

import (
	"context"
	"log"
	"strings"
	"time"

	"wachat/internal/broadcast"
	"wachat/internal/identity"
	"wachat/internal/metrics"
	"wachat/internal/models"
	"wachat/internal/store"

	"github.com/google/uuid"
)

// ChatService 面向查看者的会话读写：
// - Conversations：每个对端一行摘要（最新消息 + 未读数），方向为读取时投影
// - History：按 (查看者, 对端) 拉取全量历史，并以批量已读回执为副作用
// - Send：本地发送，校验后入库并广播，随后模拟异步投递回执
// - Contacts：目录中除查看者外的可聊对象
// 方向与对端展示名永远在读取时按查看者计算，绝不信任存储快照。
type ChatService struct {
	Store store.MessageStoreInterface
	Dir   identity.Directory
	Bcast broadcast.Broadcaster

	// 模拟投递回执的延迟；零值回退 1s
	DeliverDelay time.Duration
}

func NewChatService(ms store.MessageStoreInterface, dir identity.Directory, b broadcast.Broadcaster) *ChatService {
	return &ChatService{Store: ms, Dir: dir, Bcast: b}
}

// Conversations 返回查看者的会话摘要列表（最新消息时间倒序）。
// 无任何记录时返回空列表而非错误。
func (s *ChatService) Conversations(ctx context.Context, handle string) ([]*models.ConversationSummary, error) {
	viewer, ok := s.Dir.Lookup(handle)
	if !ok {
		return nil, ErrUnknownViewer
	}
	sums, err := s.Store.SummarizeByViewer(ctx, viewer.Phone)
	if err != nil {
		log.Printf("Chat.Conversations summarize error: viewer=%s err=%v", viewer.Phone, err)
		return nil, err
	}
	for _, sum := range sums {
		sum.LatestMessage = s.project(sum.LatestMessage, viewer.Phone)
	}
	if sums == nil {
		sums = []*models.ConversationSummary{}
	}
	return sums, nil
}

// History 返回 (查看者, 对端) 之间按时间升序的完整历史，每条记录重新投影方向。
// 副作用：把对端→查看者且未 read 的记录批量置为 read。该更新幂等且尽力而为，
// 失败只记日志，不影响已取回历史的返回；成功则按键逐条广播 read 状态。
func (s *ChatService) History(ctx context.Context, handle, peer string) ([]*models.Message, error) {
	viewer, ok := s.Dir.Lookup(handle)
	if !ok {
		return nil, ErrUnknownViewer
	}
	msgs, err := s.Store.ListBetween(ctx, viewer.Phone, peer)
	if err != nil {
		log.Printf("Chat.History list error: viewer=%s peer=%s err=%v", viewer.Phone, peer, err)
		return nil, err
	}

	out := make([]*models.Message, 0, len(msgs))
	var unreadKeys []string
	for _, m := range msgs {
		if m.From == peer && m.To == viewer.Phone && m.Status != models.StatusRead {
			unreadKeys = append(unreadKeys, m.MsgID)
		}
		out = append(out, s.project(m, viewer.Phone))
	}

	// 查看会话即构成「已读」：读路径与写副作用在此有意耦合
	if n, err := s.Store.MarkRead(ctx, peer, viewer.Phone); err != nil {
		log.Printf("Chat.History mark read error: viewer=%s peer=%s err=%v", viewer.Phone, peer, err)
	} else if n > 0 {
		log.Printf("Chat.History mark read: viewer=%s peer=%s n=%d", viewer.Phone, peer, n)
		for _, key := range unreadKeys {
			s.Bcast.StatusChanged(ctx, key, models.StatusRead)
		}
	}
	return out, nil
}

// Send 本地发送一条消息：
// - 拒绝空白正文与发给自己（不入库，不广播）
// - 幂等键取 local_ 命名空间 + UUID，与外部渠道的键不会冲突
// - 入库后立即广播原始记录，各观察者自行投影方向
// - 延迟后分离地把状态迁移为 delivered 并重新广播（尽力而为，失败只记日志）
func (s *ChatService) Send(ctx context.Context, handle, peer, text string) (*models.Message, error) {
	viewer, ok := s.Dir.Lookup(handle)
	if !ok {
		return nil, ErrUnknownViewer
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyBody
	}
	if peer == viewer.Phone {
		return nil, ErrSelfChat
	}

	start := time.Now()
	m := &models.Message{
		PeerID:    peer,
		PeerName:  identity.DisplayName(s.Dir, peer),
		Number:    peer,
		MsgID:     "local_" + uuid.NewString(),
		From:      viewer.Phone,
		To:        peer,
		Text:      text,
		Timestamp: time.Now(),
		Status:    models.StatusSent,
		Direction: models.DirectionOut, // 快照；读取侧按查看者重算
	}
	stored, _, err := s.Store.InsertIfAbsent(ctx, m)
	if err != nil {
		log.Printf("Chat.Send insert error: viewer=%s peer=%s err=%v", viewer.Phone, peer, err)
		return nil, err
	}
	log.Printf("Chat.Send stored: id=%s viewer=%s peer=%s", stored.MsgID, viewer.Phone, peer)

	s.Bcast.MessageCreated(ctx, stored)
	metrics.SendLatency.Observe(float64(time.Since(start).Milliseconds()))

	s.scheduleDelivered(stored.MsgID)
	return s.project(stored, viewer.Phone), nil
}

// scheduleDelivered 模拟外部渠道的异步投递确认：
// 分离的、不可取消的一次性任务。到期时存储不可用则记录保持 sent，
// 不重试——这是明确接受的 at-most-once 尽力语义。进程重启前未触发则静默丢弃。
func (s *ChatService) scheduleDelivered(msgID string) {
	delay := s.DeliverDelay
	if delay <= 0 {
		delay = time.Second
	}
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.Store.UpdateStatus(ctx, msgID, models.StatusDelivered); err != nil {
			log.Printf("Chat.deliver status error: id=%s err=%v", msgID, err)
			return
		}
		s.Bcast.StatusChanged(ctx, msgID, models.StatusDelivered)
	})
}

// Contacts 返回查看者可发起会话的对端列表（排除自己）。
func (s *ChatService) Contacts(handle string) ([]models.Contact, error) {
	viewer, ok := s.Dir.Lookup(handle)
	if !ok {
		return nil, ErrUnknownViewer
	}
	return s.Dir.Contacts(viewer.Phone), nil
}

// project 返回按查看者投影后的展示拷贝：方向重算、对端展示名解析。
// 目录未收录的地址保留入站时记录的联系人名，两者皆缺回退为地址本身。
func (s *ChatService) project(m *models.Message, viewer string) *models.Message {
	if m == nil {
		return nil
	}
	c := m.Clone()
	c.Direction = c.DirectionFor(viewer)
	peer := c.PeerOf(viewer)
	if p, ok := s.Dir.ByAddress(peer); ok {
		c.PeerName = p.Name
	} else if c.PeerID != peer || c.PeerName == "" {
		c.PeerName = peer
	}
	c.PeerID = peer
	c.Number = peer
	return c
}
