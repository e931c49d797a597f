package ingest

import (
	"testing"
	"time"

	"wachat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExtractsMessages(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	payload := []byte(`{
		"metaData": {
			"entry": [{
				"changes": [{
					"value": {
						"metadata": {"display_phone_number": "919876543210"},
						"contacts": [{"profile": {"name": "Ravi Kumar"}, "wa_id": "919937320320"}],
						"messages": [{
							"id": "wamid.1",
							"from": "919937320320",
							"timestamp": "1690000000",
							"text": {"body": "hello"}
						}]
					}
				}]
			}]
		}
	}`)

	res := Normalize(payload, now)
	require.Len(t, res.Messages, 1)
	assert.Empty(res.Statuses)

	m := res.Messages[0]
	assert.Equal("wamid.1", m.MsgID)
	assert.Equal("wamid.1", m.CorrelID)
	assert.Equal("919937320320", m.PeerID)
	assert.Equal("Ravi Kumar", m.PeerName)
	assert.Equal("919937320320", m.From)
	// to 缺失时回退为渠道自身号码
	assert.Equal("919876543210", m.To)
	assert.Equal("hello", m.Text)
	assert.Equal(models.StatusSent, m.Status)
	assert.Equal(models.DirectionIn, m.Direction)
	assert.Equal(time.Unix(1690000000, 0), m.Timestamp)
}

func TestNormalizePeerFallbackChain(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	// 无 contacts：wa_id 回退到 messages[0].from
	res := Normalize([]byte(`{"metaData":{"entry":[{"changes":[{"value":{
		"messages":[{"id":"a1","from":"111","to":"222","text":{"body":"x"}}]
	}}]}]}}`), now)
	assert.Len(res.Messages, 1)
	assert.Equal("111", res.Messages[0].PeerID)
	assert.Equal(models.DefaultPeerName, res.Messages[0].PeerName)

	// from 也缺失：回退到 to
	res = Normalize([]byte(`{"metaData":{"entry":[{"changes":[{"value":{
		"messages":[{"id":"a2","to":"222","text":{"body":"x"}}]
	}}]}]}}`), now)
	assert.Len(res.Messages, 1)
	assert.Equal("222", res.Messages[0].PeerID)
}

func TestNormalizeOutboundDirectionSnapshot(t *testing.T) {
	assert := assert.New(t)
	res := Normalize([]byte(`{"metaData":{"entry":[{"changes":[{"value":{
		"metadata":{"display_phone_number":"555"},
		"messages":[{"id":"b1","from":"555","to":"666","text":{"body":"hi"}}]
	}}]}]}}`), time.Now())
	assert.Len(res.Messages, 1)
	assert.Equal(models.DirectionOut, res.Messages[0].Direction)
}

func TestNormalizeTimestamps(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	// 数字形式的秒级时间戳
	res := Normalize([]byte(`{"metaData":{"entry":[{"changes":[{"value":{
		"messages":[{"id":"t1","from":"1","timestamp":1690000000,"text":{"body":"x"}}]
	}}]}]}}`), now)
	assert.Equal(time.Unix(1690000000, 0), res.Messages[0].Timestamp)

	// 缺失/非法时间戳回退为摄取时间
	res = Normalize([]byte(`{"metaData":{"entry":[{"changes":[{"value":{
		"messages":[{"id":"t2","from":"1","text":{"body":"x"}},
		            {"id":"t3","from":"1","timestamp":"not-a-number","text":{"body":"y"}}]
	}}]}]}}`), now)
	assert.Equal(now, res.Messages[0].Timestamp)
	assert.Equal(now, res.Messages[1].Timestamp)
}

func TestNormalizeStatusAliases(t *testing.T) {
	assert := assert.New(t)
	res := Normalize([]byte(`{"metaData":{"entry":[{"changes":[{"value":{
		"statuses":[
			{"id":"s1","status":"delivered"},
			{"message_id":"s2","event":"read"},
			{"ref":"s3","state":"sent"},
			{"status":"delivered"}
		]
	}}]}]}}`), time.Now())
	assert.Empty(res.Messages)
	// 缺键的第 4 条被跳过
	assert.Equal([]models.StatusUpdate{
		{TargetKey: "s1", NewStatus: "delivered"},
		{TargetKey: "s2", NewStatus: "read"},
		{TargetKey: "s3", NewStatus: "sent"},
	}, res.Statuses)
}

func TestNormalizeMalformedInput(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	for _, payload := range []string{
		``,
		`not json at all`,
		`{"metaData": "unexpected-shape"}`,
		`{"metaData": {"entry": "nope"}}`,
		`{}`,
		`{"metaData":{"entry":[{"changes":[{"value":{}}]}]}}`,
	} {
		res := Normalize([]byte(payload), now)
		assert.Empty(res.Messages, "payload=%q", payload)
		assert.Empty(res.Statuses, "payload=%q", payload)
	}
}

func TestNormalizeSkipsMessageWithoutID(t *testing.T) {
	assert := assert.New(t)
	res := Normalize([]byte(`{"metaData":{"entry":[{"changes":[{"value":{
		"messages":[{"from":"1","to":"2","text":{"body":"x"}},
		            {"id":"ok","from":"1","to":"2","text":{"body":"y"}}]
	}}]}]}}`), time.Now())
	assert.Len(res.Messages, 1)
	assert.Equal("ok", res.Messages[0].MsgID)
}
