package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPrivate(t *testing.T) {
	m := &Message{SenderID: "a", TargetID: "b"}
	assert.Equal(t, StatusSent, m.Status(2))

	m.DeliveredTo = []string{"b"}
	assert.Equal(t, StatusDelivered, m.Status(2))

	m.ReadBy = []string{"b"}
	assert.Equal(t, StatusRead, m.Status(2))
}

func TestStatusGroupThresholds(t *testing.T) {
	// Sender plus three recipients.
	m := &Message{SenderID: "a", TargetID: "g", IsGroup: true}
	const size = 4

	assert.Equal(t, StatusSent, m.Status(size))

	m.DeliveredTo = []string{"b", "c"}
	assert.Equal(t, StatusSent, m.Status(size), "partial delivery stays sent")

	m.DeliveredTo = []string{"b", "c", "d"}
	assert.Equal(t, StatusDelivered, m.Status(size))

	m.ReadBy = []string{"b", "c"}
	assert.Equal(t, StatusDelivered, m.Status(size), "partial reads stay delivered")

	m.ReadBy = []string{"b", "c", "d"}
	assert.Equal(t, StatusRead, m.Status(size))
}

func TestStatusGroupNeverRegresses(t *testing.T) {
	m := &Message{IsGroup: true, DeliveredTo: []string{"b"}, ReadBy: []string{"b"}}
	// Growing the sets can only move sent -> delivered -> read.
	assert.Equal(t, StatusRead, m.Status(2))
	m.DeliveredTo = append(m.DeliveredTo, "c")
	m.ReadBy = append(m.ReadBy, "c")
	assert.Equal(t, StatusRead, m.Status(3))
}

func TestReactionBy(t *testing.T) {
	m := &Message{Reactions: []Reaction{{UserID: "a", Emoji: "👍"}}}

	emoji, ok := m.ReactionBy("a")
	assert.True(t, ok)
	assert.Equal(t, "👍", emoji)

	_, ok = m.ReactionBy("b")
	assert.False(t, ok)
}

func TestDeletedForUser(t *testing.T) {
	m := &Message{DeletedFor: []string{"a"}}
	assert.True(t, m.DeletedForUser("a"))
	assert.False(t, m.DeletedForUser("b"))
}
