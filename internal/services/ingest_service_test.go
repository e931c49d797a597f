package services

import (
	"context"
	"sync"
	"testing"

	"wachat/internal/models"
	"wachat/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBroadcaster 测试用扇出实现：记录全部事件。
// 延迟投递任务在独立 goroutine 里触发广播，因此加锁。
type recordingBroadcaster struct {
	mu       sync.Mutex
	created  []*models.Message
	statuses []statusRec
}

type statusRec struct {
	key    string
	status string
}

func (b *recordingBroadcaster) MessageCreated(_ context.Context, m *models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, m.Clone())
}

func (b *recordingBroadcaster) StatusChanged(_ context.Context, key, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, statusRec{key: key, status: status})
}

func (b *recordingBroadcaster) createdCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.created)
}

func (b *recordingBroadcaster) statusList() []statusRec {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]statusRec, len(b.statuses))
	copy(out, b.statuses)
	return out
}

const inboundPayload = `{
	"metaData": {
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"display_phone_number": "919876543210"},
					"contacts": [{"profile": {"name": "Ravi Kumar"}, "wa_id": "919937320320"}],
					"messages": [{
						"id": "wamid.100",
						"from": "919937320320",
						"to": "919876543210",
						"timestamp": "1690000000",
						"text": {"body": "namaste"}
					}]
				}
			}]
		}]
	}
}`

func TestProcessIdempotentIngestion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ms := store.NewMemMessageStore()
	bc := &recordingBroadcaster{}
	svc := NewIngestService(ms, bc)

	// 同一事件投递 N 次：只落一条记录，但每次都广播
	for i := 0; i < 3; i++ {
		res, err := svc.Process(ctx, []byte(inboundPayload))
		require.NoError(t, err)
		assert.Equal(1, res.Stored)
		if i == 0 {
			assert.Equal(1, res.Created)
		} else {
			assert.Equal(0, res.Created)
		}
	}

	list, err := ms.ListBetween(ctx, "919937320320", "919876543210")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal("namaste", list[0].Text)

	assert.Equal(3, bc.createdCount())
}

func TestProcessStatusCorrelation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ms := store.NewMemMessageStore()
	bc := &recordingBroadcaster{}
	svc := NewIngestService(ms, bc)

	_, err := svc.Process(ctx, []byte(inboundPayload))
	require.NoError(t, err)

	// 回执以关联键（meta_msg_id = 原始 id）引用该消息
	statusPayload := `{"metaData":{"entry":[{"changes":[{"value":{
		"statuses":[{"message_id":"wamid.100","status":"read"}]
	}}]}]}}`
	res, err := svc.Process(ctx, []byte(statusPayload))
	require.NoError(t, err)
	assert.Equal(0, res.Stored)
	assert.Equal(1, res.StatusApplied)

	list, _ := ms.ListBetween(ctx, "919937320320", "919876543210")
	assert.Equal(models.StatusRead, list[0].Status)

	sts := bc.statusList()
	require.Len(t, sts, 1)
	assert.Equal(statusRec{key: "wamid.100", status: "read"}, sts[0])
}

func TestProcessUnmatchedStatusSilentSuccess(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ms := store.NewMemMessageStore()
	bc := &recordingBroadcaster{}
	svc := NewIngestService(ms, bc)

	payload := `{"metaData":{"entry":[{"changes":[{"value":{
		"statuses":[{"id":"ghost","status":"delivered"}]
	}}]}]}}`
	res, err := svc.Process(ctx, []byte(payload))
	require.NoError(t, err)
	assert.Equal(1, res.StatusApplied)

	// 命中零条仍按元组广播
	sts := bc.statusList()
	require.Len(t, sts, 1)
	assert.Equal("ghost", sts[0].key)
}

func TestProcessUnrecognizedPayload(t *testing.T) {
	assert := assert.New(t)
	svc := NewIngestService(store.NewMemMessageStore(), &recordingBroadcaster{})

	res, err := svc.Process(context.Background(), []byte(`{"unrelated": true}`))
	require.NoError(t, err)
	assert.False(res.Recognized())
	assert.Equal(0, res.Stored)
	assert.Equal(0, res.StatusApplied)
}
