package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionProjection(t *testing.T) {
	assert := assert.New(t)
	m := &Message{MsgID: "m1", From: "a", To: "b", Status: StatusDelivered, Direction: DirectionIn}

	// 方向是读取时投影，与存储快照无关
	assert.Equal(DirectionOut, m.DirectionFor("a"))
	assert.Equal(DirectionIn, m.DirectionFor("b"))

	assert.Equal("b", m.PeerOf("a"))
	assert.Equal("a", m.PeerOf("b"))
}

func TestUnreadFor(t *testing.T) {
	assert := assert.New(t)
	m := &Message{From: "a", To: "b", Status: StatusDelivered}

	assert.True(m.UnreadFor("b"))  // 接收方且未 read
	assert.False(m.UnreadFor("a")) // 发送方永不未读

	m.Status = StatusRead
	assert.False(m.UnreadFor("b"))
}

func TestIsSelfPair(t *testing.T) {
	assert := assert.New(t)
	assert.True((&Message{From: "a", To: "a"}).IsSelfPair())
	assert.False((&Message{From: "a", To: "b"}).IsSelfPair())
}

func TestCloneIsolation(t *testing.T) {
	assert := assert.New(t)
	m := &Message{MsgID: "m1", Status: StatusSent}
	c := m.Clone()
	c.Status = StatusRead
	assert.Equal(StatusSent, m.Status)
}
