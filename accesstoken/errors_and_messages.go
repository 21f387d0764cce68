package accesstoken

const (
	logMsgCacheHit          = "access token for %s is cached and valid until %s"
	logMsgCacheMiss         = "no cached access token for %s, obtaining one"
	logMsgCacheExpired      = "cached access token for %s expired at %s, refreshing"
	logMsgObtainFailed      = "access token obtain for %s failed: %s"
	logMsgCoalesced         = "access token obtain for %s coalesced onto an in-flight request"
	logMsgScheduledEviction = "access token for %s will be evicted at %s"
	logMsgEvicted           = "access token for %s evicted after expiry"
)
