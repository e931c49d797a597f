// status_consumer 独立进程：消费外部渠道经 Kafka 投递的状态回执，
// 按主键/关联键应用到消息存储并广播 message:status，与 HTTP 回调路径语义一致。
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wachat/internal/broadcast"
	"wachat/internal/cache"
	"wachat/internal/config"
	"wachat/internal/models"
	"wachat/internal/store"
	"wachat/internal/store/mongostore"

	"github.com/IBM/sarama"
)

type handler struct {
	ctx   context.Context
	store store.MessageStoreInterface
	bcast broadcast.Broadcaster
}

func (h *handler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }
func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var u models.StatusUpdate
		if err := json.Unmarshal(msg.Value, &u); err != nil || u.TargetKey == "" || u.NewStatus == "" {
			log.Printf("status_consumer skip: offset=%d err=%v", msg.Offset, err)
			sess.MarkMessage(msg, "")
			continue
		}
		n, err := h.store.UpdateStatus(h.ctx, u.TargetKey, u.NewStatus)
		if err != nil {
			log.Printf("status_consumer update error: key=%s status=%s err=%v", u.TargetKey, u.NewStatus, err)
			// 存储不可用时不标记位点，等待重试
			continue
		}
		log.Printf("status_consumer applied: key=%s status=%s matched=%d", u.TargetKey, u.NewStatus, n)
		h.bcast.StatusChanged(h.ctx, u.TargetKey, u.NewStatus)
		sess.MarkMessage(msg, "")
	}
	return nil
}

func main() {
	cfg := config.Load()
	if cfg.KafkaBrokers == "" {
		log.Fatal("WA_KAFKA_BROKERS 未配置")
	}

	cache.InitRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	mongoDB, err := mongostore.Connect(cfg.MongoURI)
	if err != nil {
		log.Fatal(err)
	}
	msgStore := store.NewMongoMessageStore(mongoDB)

	ctx, cancel := context.WithCancel(context.Background())
	h := &handler{ctx: ctx, store: msgStore, bcast: broadcast.NewRedisBroadcaster()}

	client, err := sarama.NewConsumerGroup(splitCSV(cfg.KafkaBrokers), "wa-status-consumer", sarama.NewConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	topic := cfg.KafkaStatusTopic
	go func() {
		for {
			if err := client.Consume(ctx, []string{topic}, h); err != nil {
				log.Printf("consume error: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}

func splitCSV(s string) []string {
	var out []string
	var cur string
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
		} else {
			cur += string(s[i])
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
