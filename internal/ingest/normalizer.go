// Package ingest 将外部渠道的异构入站载荷规范化为标准消息记录与状态回执。
// 解析是宽容的：字段缺失按规则回退，结构不符只记日志并产出空序列，
// 绝不让渠道侧把一次不认识的载荷当成摄取故障。
package ingest

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	"wachat/internal/models"
)

// webhookPayload 渠道回调的嵌套批量结构：metaData.entry[].changes[].value。
type webhookPayload struct {
	MetaData struct {
		Entry []struct {
			Changes []struct {
				Value changeValue `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	} `json:"metaData"`
}

type changeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WAID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []inboundMessage `json:"messages"`
	Statuses []inboundStatus  `json:"statuses"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp any    `json:"timestamp"` // 秒级时间戳，可能是数字或数字字符串
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

// inboundStatus 的键与状态字段在不同渠道版本里命名不一，全部按别名兜底。
type inboundStatus struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Ref       string `json:"ref"`
	Status    string `json:"status"`
	Event     string `json:"event"`
	State     string `json:"state"`
}

// Result 一次规范化的产物：标准消息序列 + 状态回执序列（可同时为空）。
type Result struct {
	Messages []*models.Message
	Statuses []models.StatusUpdate
}

// Normalize 解析入站载荷。字段推导规则：
// - wa_id（对端地址）回退链：contacts[0].wa_id → messages[0].from → messages[0].to → ""
// - to 缺失时回退为渠道自身号码（metadata.display_phone_number）
// - direction 仅为写入时快照：from 等于渠道自身号码则 out，否则 in
// - timestamp 为秒级时间戳（数字或数字字符串）；缺失/非法时取 now
func Normalize(payload []byte, now time.Time) *Result {
	res := &Result{}
	var doc webhookPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		log.Printf("Ingest.Normalize unmarshal error: err=%v size=%d", err, len(payload))
		return res
	}

	for _, entry := range doc.MetaData.Entry {
		for _, ch := range entry.Changes {
			v := ch.Value

			name := models.DefaultPeerName
			waID := ""
			if len(v.Contacts) > 0 {
				if v.Contacts[0].Profile.Name != "" {
					name = v.Contacts[0].Profile.Name
				}
				waID = v.Contacts[0].WAID
			}
			if waID == "" && len(v.Messages) > 0 {
				waID = v.Messages[0].From
				if waID == "" {
					waID = v.Messages[0].To
				}
			}

			for _, im := range v.Messages {
				if im.ID == "" {
					log.Printf("Ingest.Normalize skip message without id: wa_id=%s", waID)
					continue
				}
				to := im.To
				if to == "" {
					to = v.Metadata.DisplayPhoneNumber
				}
				direction := models.DirectionIn
				if im.From != "" && v.Metadata.DisplayPhoneNumber != "" && im.From == v.Metadata.DisplayPhoneNumber {
					direction = models.DirectionOut
				}
				res.Messages = append(res.Messages, &models.Message{
					PeerID:    waID,
					PeerName:  name,
					Number:    waID,
					MsgID:     im.ID,
					CorrelID:  im.ID,
					From:      im.From,
					To:        to,
					Text:      im.Text.Body,
					Timestamp: coerceEpoch(im.Timestamp, now),
					Status:    models.StatusSent,
					Direction: direction,
				})
			}

			for _, is := range v.Statuses {
				key := firstNonEmpty(is.ID, is.MessageID, is.Ref)
				status := firstNonEmpty(is.Status, is.Event, is.State)
				if key == "" || status == "" {
					log.Printf("Ingest.Normalize skip status without key/status: raw=%+v", is)
					continue
				}
				res.Statuses = append(res.Statuses, models.StatusUpdate{TargetKey: key, NewStatus: status})
			}
		}
	}
	return res
}

// coerceEpoch 把渠道时间戳（秒，数字或字符串）转为 time.Time，非法时回退 now。
func coerceEpoch(v any, now time.Time) time.Time {
	switch t := v.(type) {
	case float64:
		if t > 0 {
			return time.Unix(int64(t), 0)
		}
	case string:
		if n, err := strconv.ParseFloat(t, 64); err == nil && n > 0 {
			return time.Unix(int64(n), 0)
		}
	}
	return now
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
