package ecubridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestShouldSend(t *testing.T) {
	var ms = time.Millisecond

	assert.False(t, shouldSend(50*ms, true))
	assert.False(t, shouldSend(96*ms, true))
	assert.False(t, shouldSend(98*ms, false))
	assert.True(t, shouldSend(97*ms, true))
	assert.True(t, shouldSend(99*ms, false))
	assert.True(t, shouldSend(150*ms, false))
}

func TestNextSleep(t *testing.T) {
	var ms = time.Millisecond

	var cases = []struct {
		since time.Duration
		sleep time.Duration
		alarm cadenceAlarm
	}{
		{0, 99 * ms, alarmNone},
		{40 * ms, 59 * ms, alarmNone},
		{99 * ms, 0, alarmNone},
		{99*ms + 500*time.Microsecond, 500 * time.Microsecond, alarmNone},
		{105 * ms, 0, alarmNone},
		{110 * ms, 0, alarmNone},
		{111 * ms, 0, alarmDrift},
		{-5 * ms, 100 * ms, alarmClamp},
	}

	for _, c := range cases {
		var sleep, alarm = nextSleep(c.since)
		assert.Equal(t, c.sleep, sleep, "since %s", c.since)
		assert.Equal(t, c.alarm, alarm, "since %s", c.since)
	}
}

func TestNextSleepBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var since = time.Duration(rapid.Int64Range(int64(-time.Second), int64(time.Second)).Draw(t, "since"))

		var sleep, _ = nextSleep(since)

		assert.GreaterOrEqual(t, sleep, time.Duration(0))
		assert.LessOrEqual(t, sleep, SEND_INTERVAL)

		// Never sleep past the next send.
		if since >= 0 && since <= SEND_INTERVAL {
			assert.LessOrEqual(t, since+sleep, SEND_INTERVAL)
		}
	})
}

func TestLateSend(t *testing.T) {
	assert.False(t, lateSend(SEND_INTERVAL))
	assert.False(t, lateSend(SEND_INTERVAL+DRIFT_ALARM))
	assert.True(t, lateSend(SEND_INTERVAL+DRIFT_ALARM+time.Millisecond))
	assert.True(t, lateSend(250*time.Millisecond))
}
