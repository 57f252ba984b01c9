package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Timing for the 10 Hz SoloDL send.
 *
 * Description:	Everything is measured from the last send, not from a
 *		fixed clock, so one late send doesn't make the next few
 *		bunch up.  The sleep is a little short on purpose; waking
 *		early and waiting again is fine, waking late is not.
 *
 *---------------------------------------------------------------*/

import "time"

const (
	SEND_INTERVAL     = 100 * time.Millisecond
	SEND_NOW_WINDOW   = 1 * time.Millisecond
	SEND_EARLY_WINDOW = 3 * time.Millisecond
	SLEEP_SLACK       = 1 * time.Millisecond
	DRIFT_ALARM       = 10 * time.Millisecond
)

// shouldSend decides whether to send now.  inputReady means a DL-32 read
// is waiting, which would likely eat what is left of the window.
func shouldSend(sinceLastSend time.Duration, inputReady bool) bool {
	var remaining = SEND_INTERVAL - sinceLastSend

	if remaining <= SEND_NOW_WINDOW {
		return true
	}

	return remaining <= SEND_EARLY_WINDOW && inputReady
}

// lateSend reports a send that came too long after the one before.
func lateSend(sinceLastSend time.Duration) bool {
	return sinceLastSend > SEND_INTERVAL+DRIFT_ALARM
}

type cadenceAlarm int

const (
	alarmNone cadenceAlarm = iota
	alarmDrift
	alarmClamp
)

// nextSleep is how long to wait before looking at the send again.
func nextSleep(sinceLastSend time.Duration) (time.Duration, cadenceAlarm) {
	var sleepFor = SEND_INTERVAL - sinceLastSend

	if sleepFor >= SLEEP_SLACK {
		sleepFor -= SLEEP_SLACK
	}

	if sleepFor < 0 {
		var alarm = alarmNone
		if lateSend(sinceLastSend) {
			alarm = alarmDrift
		}

		return 0, alarm
	}

	if sleepFor > SEND_INTERVAL {
		// Clock went backwards.
		return SEND_INTERVAL, alarmClamp
	}

	return sleepFor, alarmNone
}
