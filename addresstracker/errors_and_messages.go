package addresstracker

const (
	logMsgThrottled      = "Address cache was refreshed at %s; skipping update (next due at %s)"
	logMsgScheduledAfter = "Update %s; next attempt scheduled for %s"
	logMsgStartIgnored   = "Periodic updates already running; ignoring redundant Start call"
	logMsgStopped        = "Stopped periodic address cache updates"
)
