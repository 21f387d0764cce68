// Package accesstoken implements the per-account access-token cache: obtain-on-miss,
// refresh-on-expiry, with coalescing so concurrent callers for the same account never trigger
// more than one in-flight obtain.
package accesstoken

import (
	"time"

	"github.com/mullvad/api-core/internal/masking"
)

// TokenRecord is one cached access token for an account.
type TokenRecord struct {
	AccountID string
	Token     string
	Expiry    time.Time
}

// Valid reports whether the record is still usable at now. The comparison is strict: a token
// with Expiry == now counts as expired.
func (r TokenRecord) Valid(now time.Time) bool {
	return r.Expiry.After(now)
}

// String renders the record with both the account ID and the token masked, so a stray %v or
// %+v of a TokenRecord never leaks a usable credential into a log line.
func (r TokenRecord) String() string {
	return "TokenRecord{AccountID: " + masking.Obscure(r.AccountID) + ", Token: " + masking.Obscure(r.Token) + ", Expiry: " + r.Expiry.String() + "}"
}
