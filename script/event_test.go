package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusOrder(t *testing.T) {
	var b EventBus
	b.Publish(Event{Topic: 1, Data: Trigger(1)})
	b.Publish(Event{Topic: 2, Data: Message("open")})
	assert.Equal(t, 2, b.Len())

	ev, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), ev.Topic)

	b.Publish(Event{Topic: 3, Data: Trigger(3)})

	ev, _ = b.Next()
	assert.Equal(t, "topic 2 message(\"open\")", ev.String())
	ev, _ = b.Next()
	assert.Equal(t, uint32(3), ev.Topic)

	_, ok = b.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestEventBusReset(t *testing.T) {
	var b EventBus
	b.Publish(Event{Topic: 1})
	b.Publish(Event{Topic: 2})
	b.Next()
	assert.Equal(t, 1, b.Reset())
	assert.Equal(t, 0, b.Len())
}

func TestEntityEventString(t *testing.T) {
	assert.Equal(t, "killed", EntityKilled.String())
}
