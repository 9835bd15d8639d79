package script

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSetFiresInArmingOrder(t *testing.T) {
	var s TimerSet
	s.Arm(TimerKey{Name: 1}, 30*time.Millisecond, nil)
	s.Arm(TimerKey{Name: 2}, 10*time.Millisecond, nil)
	s.Arm(TimerKey{Name: 3}, 50*time.Millisecond, nil)

	assert.Empty(t, s.Advance(5*time.Millisecond))

	fired := s.Advance(25 * time.Millisecond)
	require.Len(t, fired, 2)
	assert.Equal(t, uint32(1), fired[0].Key.Name)
	assert.Equal(t, uint32(2), fired[1].Key.Name)
	assert.Equal(t, 1, s.Len())

	left, ok := s.Remaining(TimerKey{Name: 3})
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, left)
}

func TestTimerSetRearmReplaces(t *testing.T) {
	var s TimerSet
	s.Arm(TimerKey{Name: 7}, time.Second, nil)
	s.Arm(TimerKey{Name: 8}, time.Second, nil)
	s.Arm(TimerKey{Name: 7}, 2*time.Second, nil)

	timers := s.Timers()
	require.Len(t, timers, 2)
	assert.Equal(t, uint32(8), timers[0].Key.Name)
	assert.Equal(t, uint32(7), timers[1].Key.Name)
	assert.Equal(t, 2*time.Second, timers[1].Remaining)
}

func TestTimerSetOwnersAreSeparate(t *testing.T) {
	var s TimerSet
	s.Arm(TimerKey{Name: 1, Owner: OwnerScript}, time.Second, nil)
	s.Arm(TimerKey{Name: 1, Owner: OwnerHost}, time.Second, RemoveAfter("Rolling"))
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.Cancel(TimerKey{Name: 1, Owner: OwnerScript}))
	assert.False(t, s.Cancel(TimerKey{Name: 1, Owner: OwnerScript}))

	fired := s.Advance(time.Second)
	require.Len(t, fired, 1)
	assert.Equal(t, OwnerHost, fired[0].Key.Owner)
	assert.Equal(t, ActionRemoveComponent, fired[0].Action.Kind)
	assert.Equal(t, "Rolling", fired[0].Action.Component)
}

func TestTimerSetZeroDelayFiresOnNextAdvance(t *testing.T) {
	var s TimerSet
	s.Arm(TimerKey{Name: 4}, 0, nil)
	require.Len(t, s.Advance(0), 1)
	assert.Empty(t, s.Advance(time.Second))
}
