// seed_payloads 批量导入工具：读取目录下的渠道回调样例 JSON，
// 走与在线回调完全相同的规范化 + 摄取管道写入存储（幂等，可重复执行）。
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"wachat/internal/broadcast"
	"wachat/internal/cache"
	"wachat/internal/config"
	"wachat/internal/services"
	"wachat/internal/store"
	"wachat/internal/store/mongostore"
)

func main() {
	cfg := config.Load()

	dir := "sample_payloads"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	cache.InitRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	var msgStore store.MessageStoreInterface
	switch cfg.MessageDB {
	case "memory":
		msgStore = store.NewMemMessageStore()
	default:
		mongoDB, err := mongostore.Connect(cfg.MongoURI)
		if err != nil {
			log.Fatal(err)
		}
		msgStore = store.NewMongoMessageStore(mongoDB)
	}

	svc := services.NewIngestService(msgStore, broadcast.NewRedisBroadcaster())
	ctx := context.Background()

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("seed read error: file=%s err=%v", path, err)
			continue
		}
		res, err := svc.Process(ctx, data)
		if err != nil {
			log.Printf("seed process error: file=%s err=%v", path, err)
			continue
		}
		log.Printf("seed done: file=%s inserted=%d created=%d statuses=%d", e.Name(), res.Stored, res.Created, res.StatusApplied)
	}
	log.Println("Seeding done")
}
