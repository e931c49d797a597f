package config

import (
	"os"
	"strconv"

	"wachat/internal/identity"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	RedisAddr  string `yaml:"redisAddr"`
	RedisDB    int    `yaml:"redisDB"`
	RedisPass  string `yaml:"redisPass"`
	MongoURI   string `yaml:"mongoURI"`

	// 消息存储选择：mongodb 或 memory（本地调试/演示）
	MessageDB string `yaml:"messageDB"`

	// Kafka 配置（可选）：入站事件镜像与外部状态回执消费
	KafkaBrokers     string `yaml:"kafkaBrokers"` // 逗号分隔
	KafkaEventTopic  string `yaml:"kafkaEventTopic"`
	KafkaStatusTopic string `yaml:"kafkaStatusTopic"`

	// 模拟投递回执的延迟（毫秒）
	DeliverDelayMS int `yaml:"deliverDelayMS"`

	// 速率限制（发送）
	SendQPS   int `yaml:"sendQPS"`
	SendBurst int `yaml:"sendBurst"`

	// 指标开关
	EnableMetrics bool `yaml:"enableMetrics"`

	// 身份档位表（静态目录）
	Profiles []identity.Profile `yaml:"profiles"`
}

func Load() *Config {
	// 1) 默认值
	cfg := &Config{
		ListenAddr: ":8080",
		RedisAddr:  "127.0.0.1:6379",
		RedisPass:  "",
		MongoURI:   "mongodb://127.0.0.1:27017/wachat",

		MessageDB: "mongodb",

		KafkaBrokers:     "",
		KafkaEventTopic:  "wa-inbound-events",
		KafkaStatusTopic: "wa-status-updates",

		DeliverDelayMS: 1000,

		SendQPS:       20,
		SendBurst:     40,
		EnableMetrics: true,

		Profiles: []identity.Profile{
			{Handle: "profile1", Phone: "919937320320", Name: "Ravi Kumar"},
			{Handle: "profile2", Phone: "919876543210", Name: "Neha Joshi"},
		},
	}

	// 2) YAML 覆盖（如果有）
	configPath := getEnv("WA_CONFIG_FILE", getEnv("CONFIG_FILE", "config.yml"))
	if st, err := os.Stat(configPath); err == nil && !st.IsDir() {
		if data, err2 := os.ReadFile(configPath); err2 == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	// 3) 环境变量覆盖 YAML
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = (v == "true" || v == "1" || v == "yes")
		}
	}

	setStr("WA_LISTEN_ADDR", &cfg.ListenAddr)
	setStr("WA_REDIS_ADDR", &cfg.RedisAddr)
	setStr("WA_REDIS_PASS", &cfg.RedisPass)
	setInt("WA_REDIS_DB", &cfg.RedisDB)
	setStr("WA_MONGO_URI", &cfg.MongoURI)

	setStr("WA_MESSAGE_DB", &cfg.MessageDB)

	setStr("WA_KAFKA_BROKERS", &cfg.KafkaBrokers)
	setStr("WA_KAFKA_EVENT_TOPIC", &cfg.KafkaEventTopic)
	setStr("WA_KAFKA_STATUS_TOPIC", &cfg.KafkaStatusTopic)

	setInt("WA_DELIVER_DELAY_MS", &cfg.DeliverDelayMS)

	setInt("WA_SEND_QPS", &cfg.SendQPS)
	setInt("WA_SEND_BURST", &cfg.SendBurst)
	setBool("WA_ENABLE_METRICS", &cfg.EnableMetrics)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
