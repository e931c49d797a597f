package store

import (
	"context"
	"time"

	"wachat/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMessageStore 基于 MongoDB 的消息存储实现。
// - NewMongoMessageStore 在 messages 集合上创建 msg_id 唯一索引，幂等由存储层强制
// - InsertIfAbsent 使用 FindOneAndUpdate + $setOnInsert（upsert），
//   并发重复写入同一 msg_id 最多产生一条记录，且总能取回已存的那条
// - SummarizeByViewer 使用聚合管道在库内完成分组/未读计数/排序
type MongoMessageStore struct {
	DB *mongo.Database
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	ms := &MongoMessageStore{DB: db}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// 唯一索引保障幂等（容错：重复创建无害）
	_, _ = ms.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "msg_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_msg_id"),
	})
	// 读取侧常用索引：按会话双方与时间
	_, _ = ms.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "from", Value: 1}, {Key: "to", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetName("idx_pair_ts"),
	})
	return ms
}

func (s *MongoMessageStore) collection() *mongo.Collection {
	return s.DB.Collection("messages")
}

// InsertIfAbsent 幂等写入：$setOnInsert 保证第一次写入获胜，
// 返回库内最终记录（新写入或既有）与是否新建。重复键不是错误。
func (s *MongoMessageStore) InsertIfAbsent(ctx context.Context, m *models.Message) (*models.Message, bool, error) {
	filter := bson.D{{Key: "msg_id", Value: m.MsgID}}
	update := bson.D{{Key: "$setOnInsert", Value: m}}
	opts := options.Update().SetUpsert(true)

	res, err := s.collection().UpdateOne(ctx, filter, update, opts)
	if err != nil {
		// 并发 upsert 同一幂等键时落败方会收到重复键错误：
		// 这不是失败，而是预期的去重结果，取回已存记录即可
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, err
		}
		var stored models.Message
		if ferr := s.collection().FindOne(ctx, filter).Decode(&stored); ferr != nil {
			return nil, false, ferr
		}
		return &stored, false, nil
	}
	if res.UpsertedCount > 0 {
		return m, true, nil
	}
	var stored models.Message
	if err := s.collection().FindOne(ctx, filter).Decode(&stored); err != nil {
		return nil, false, err
	}
	return &stored, false, nil
}

// UpdateStatus 按主键或关联键批量更新状态；零命中静默成功。
func (s *MongoMessageStore) UpdateStatus(ctx context.Context, key, status string) (int64, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "msg_id", Value: key}},
		bson.D{{Key: "meta_msg_id", Value: key}},
	}}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: status}}}}
	res, err := s.collection().UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkRead 将 from→to 且未 read 的记录批量置为 read（幂等）。
func (s *MongoMessageStore) MarkRead(ctx context.Context, from, to string) (int64, error) {
	filter := bson.D{
		{Key: "from", Value: from},
		{Key: "to", Value: to},
		{Key: "status", Value: bson.D{{Key: "$ne", Value: models.StatusRead}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: models.StatusRead}}}}
	res, err := s.collection().UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ListBetween 拉取两地址之间的完整历史，时间升序，同时间按 _id（入库顺序）。
func (s *MongoMessageStore) ListBetween(ctx context.Context, a, b string) ([]*models.Message, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "from", Value: a}, {Key: "to", Value: b}},
		bson.D{{Key: "from", Value: b}, {Key: "to", Value: a}},
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*models.Message
	for cursor.Next(ctx) {
		var doc models.Message
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		result = append(result, &doc)
	}
	return result, cursor.Err()
}

// SummarizeByViewer 聚合会话摘要：
// 1) 匹配查看者为任一方且排除自发自收
// 2) 计算对端字段并按时间倒序取组内首条为最新消息
// 3) 未读 = 接收方为查看者且状态 != read 的条数
// 4) 按最新消息时间倒序输出
func (s *MongoMessageStore) SummarizeByViewer(ctx context.Context, viewer string) ([]*models.ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "from", Value: viewer}},
				bson.D{{Key: "to", Value: viewer}},
			}},
			{Key: "$expr", Value: bson.D{{Key: "$ne", Value: bson.A{"$from", "$to"}}}},
		}}},
		bson.D{{Key: "$addFields", Value: bson.D{
			{Key: "peer", Value: bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: bson.D{{Key: "$eq", Value: bson.A{"$from", viewer}}}},
				{Key: "then", Value: "$to"},
				{Key: "else", Value: "$from"},
			}}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$peer"},
			{Key: "latestMessage", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
			{Key: "unreadCount", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$and", Value: bson.A{
					bson.D{{Key: "$ne", Value: bson.A{"$from", viewer}}},
					bson.D{{Key: "$ne", Value: bson.A{"$status", models.StatusRead}}},
				}}},
				1,
				0,
			}}}}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "latestMessage.timestamp", Value: -1}}}},
	}

	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*models.ConversationSummary
	for cursor.Next(ctx) {
		var row struct {
			PeerID        string         `bson:"_id"`
			LatestMessage models.Message `bson:"latestMessage"`
			UnreadCount   int64          `bson:"unreadCount"`
		}
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		result = append(result, &models.ConversationSummary{
			PeerID:        row.PeerID,
			LatestMessage: &row.LatestMessage,
			UnreadCount:   row.UnreadCount,
		})
	}
	return result, cursor.Err()
}
