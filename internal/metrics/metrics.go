package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wachat_ingest_messages_total", Help: "入站消息处理数"},
		[]string{"result"}, // stored / duplicate
	)
	StatusUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "wachat_status_updates_total", Help: "状态回执应用数"},
	)
	BroadcastEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wachat_broadcast_events_total", Help: "实时广播事件数"},
		[]string{"event"},
	)
	WSActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wachat_ws_actions_total", Help: "WS上行动作数"},
		[]string{"action"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "wachat_send_latency_ms", Help: "本地发送入库+广播延迟(毫秒)", Buckets: prometheus.LinearBuckets(5, 5, 20)},
	)
)

func Init() {
	prometheus.MustRegister(IngestMessagesTotal)
	prometheus.MustRegister(StatusUpdatesTotal)
	prometheus.MustRegister(BroadcastEventsTotal)
	prometheus.MustRegister(WSActionsTotal)
	prometheus.MustRegister(SendLatency)
}
