package store

import (
	"context"

	"wachat/internal/models"
)

// MessageStoreInterface 抽象消息存储，便于切换 MongoDB/内存实现：
// - InsertIfAbsent：幂等写入（要求底层对 msg_id 提供唯一约束）
// - UpdateStatus：按主键或关联键批量更新状态
// - MarkRead：已读回执批量迁移
// - ListBetween/SummarizeByViewer：读取侧查询
type MessageStoreInterface interface {
	// InsertIfAbsent 按幂等键写入；键已存在时不修改任何字段，
	// 返回最终存储的记录（重复写入即返回第一次写入的记录）与是否新建。
	// 重复不是错误。
	InsertIfAbsent(ctx context.Context, m *models.Message) (*models.Message, bool, error)
	// UpdateStatus 将 msg_id 或 meta_msg_id 命中 key 的全部记录更新为 status，
	// 返回修改条数；零命中为静默成功。
	UpdateStatus(ctx context.Context, key, status string) (int64, error)
	// MarkRead 将 from→to 且状态未达 read 的记录批量置为 read，返回修改条数。
	// 幂等且可重试，失败由调用方决定是否降级。
	MarkRead(ctx context.Context, from, to string) (int64, error)
	// ListBetween 返回 a、b 两地址之间的全部消息，按时间升序（同时间按入库顺序）。
	ListBetween(ctx context.Context, a, b string) ([]*models.Message, error)
	// SummarizeByViewer 按查看者聚合会话摘要：每个对端一行，
	// 排除自发自收，未读按「接收且未 read」计数，按最新消息时间倒序。
	// 返回的 LatestMessage 为存储原样，方向/展示名投影由上层完成。
	SummarizeByViewer(ctx context.Context, viewer string) ([]*models.ConversationSummary, error)
}
