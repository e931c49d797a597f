package store

import (
	"context"
	"sort"
	"sync"

	"wachat/internal/models"
)

// MemMessageStore 纯内存实现：本地演示（messageDB: memory）与测试用。
// 语义与 MongoMessageStore 对齐：幂等写入、批量状态更新、会话聚合。
// 互斥锁保证与文档库同级的操作原子性。
type MemMessageStore struct {
	mu    sync.Mutex
	byKey map[string]*models.Message
	order []*models.Message // 入库顺序，用于同时间戳的平局裁决
}

func NewMemMessageStore() *MemMessageStore {
	return &MemMessageStore{byKey: make(map[string]*models.Message)}
}

func (s *MemMessageStore) InsertIfAbsent(_ context.Context, m *models.Message) (*models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[m.MsgID]; ok {
		return existing.Clone(), false, nil
	}
	c := m.Clone()
	s.byKey[c.MsgID] = c
	s.order = append(s.order, c)
	return c.Clone(), true, nil
}

func (s *MemMessageStore) UpdateStatus(_ context.Context, key, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.order {
		if (m.MsgID == key || (m.CorrelID != "" && m.CorrelID == key)) && m.Status != status {
			m.Status = status
			n++
		}
	}
	return n, nil
}

func (s *MemMessageStore) MarkRead(_ context.Context, from, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.order {
		if m.From == from && m.To == to && m.Status != models.StatusRead {
			m.Status = models.StatusRead
			n++
		}
	}
	return n, nil
}

func (s *MemMessageStore) ListBetween(_ context.Context, a, b string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.order {
		if (m.From == a && m.To == b) || (m.From == b && m.To == a) {
			out = append(out, m.Clone())
		}
	}
	// 入库顺序已是稳定基序，按时间升序稳定排序即保平局裁决
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *MemMessageStore) SummarizeByViewer(_ context.Context, viewer string) ([]*models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := make(map[string]*models.ConversationSummary)
	for _, m := range s.order {
		if m.From != viewer && m.To != viewer {
			continue
		}
		if m.IsSelfPair() {
			continue
		}
		peer := m.PeerOf(viewer)
		g, ok := groups[peer]
		if !ok {
			g = &models.ConversationSummary{PeerID: peer}
			groups[peer] = g
		}
		// 同时间戳时后入库者胜出
		if g.LatestMessage == nil || !m.Timestamp.Before(g.LatestMessage.Timestamp) {
			g.LatestMessage = m.Clone()
		}
		if m.UnreadFor(viewer) {
			g.UnreadCount++
		}
	}
	out := make([]*models.ConversationSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LatestMessage.Timestamp.After(out[j].LatestMessage.Timestamp)
	})
	return out, nil
}
