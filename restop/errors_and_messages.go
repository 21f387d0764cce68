package restop

const (
	logMsgAttempt       = "%s[%s]: attempt %d/%d against %s"
	logMsgBuildFailed   = "%s: request construction failed: %s"
	logMsgAuthFailed    = "%s: authorization failed: %s"
	logMsgTransientKeep = "%s: transient local error, keeping endpoint %s"
	logMsgRotating      = "%s: rotating past %s"
	logMsgExhausted     = "%s: exhausted after %d attempt(s): %s"
	logMsgBackoff       = "%s: backing off for %s before the next attempt"
	logMsgCancelled     = "%s: cancelled"
)
