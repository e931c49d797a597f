package cache

import (
	"github.com/redis/go-redis/v9"
)

// 本包封装 Redis 客户端与实时广播通道键：
// - 全局事件通道 wa:events，所有实时订阅者都订阅同一通道，
//   相关性过滤与方向投影由观察者本地完成（广播层无按观察者状态）。
var (
	redisClient *redis.Client
)

func InitRedis(addr, pass string, db int) {
	redisClient = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
}

func Client() *redis.Client { return redisClient }

// EventsChannel 返回全局事件通道键。
func EventsChannel() string { return "wa:events" }
