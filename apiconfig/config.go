// Package apiconfig collects every configuration knob of the REST client runtime into one
// struct, loadable from the environment the way the rest of this codebase's configuration is.
package apiconfig

import (
	"time"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/mullvad/api-core/addresscache"
	"github.com/mullvad/api-core/addresstracker"
)

// AddressCacheUpdateInterval and AddressCacheRetryInterval are fixed, not configurable, per
// the external-interfaces design.
const (
	AddressCacheUpdateInterval = addresstracker.UpdateInterval
	AddressCacheRetryInterval  = addresstracker.RetryInterval
)

// DefaultNetworkTimeout is used when NetworkTimeout is left unset.
const DefaultNetworkTimeout = 10 * time.Second

// Config collects the runtime's external configuration knobs.
//
// This corresponds to the [Main] section a host application would load from its own
// environment or config file; ValidateConfig should be called after any programmatic
// construction, the same way relay's config.ValidateConfig is.
type Config struct {
	APIHostname        ct.OptString   `conf:"API_HOSTNAME"`
	NetworkTimeout     ct.OptDuration `conf:"NETWORK_TIMEOUT"`
	DefaultAPIEndpoint string         `conf:"DEFAULT_API_ENDPOINT"`
	CacheDir           ct.OptString   `conf:"CACHE_DIR"`
}

// DefaultConfig is a ready-to-use Config matching the built-in fallbacks documented in the
// external-interfaces design: the logical API hostname and the default bootstrap endpoint.
var DefaultConfig = Config{
	APIHostname:        ct.NewOptString("api.mullvad.net"),
	DefaultAPIEndpoint: addresscache.DefaultEndpoint.String(),
}

// NetworkTimeoutOrDefault returns the configured network timeout, or DefaultNetworkTimeout if
// unset.
func (c Config) NetworkTimeoutOrDefault() time.Duration {
	return c.NetworkTimeout.GetOrElse(DefaultNetworkTimeout)
}

// LoadConfigFromEnvironment populates c from the process environment, following the same
// conf-tag-driven reflection LoadConfigFromEnvironment in the teacher's config package uses.
// c should be initialized with default values first (see DefaultConfig).
func LoadConfigFromEnvironment(c *Config, loggers ldlog.Loggers) error {
	reader := ct.NewVarReaderFromEnvironment()
	reader.ReadStruct(c, false)

	if !reader.Result().OK() {
		return reader.Result().GetError()
	}
	return ValidateConfig(c)
}

// ValidateConfig checks constraints that per-field parsing can't express on its own.
func ValidateConfig(c *Config) error {
	var result ct.ValidationResult

	if c.DefaultAPIEndpoint == "" {
		result.AddError(nil, errMissingDefaultEndpoint)
	}
	if c.NetworkTimeout.IsDefined() && c.NetworkTimeout.GetOrElse(0) <= 0 {
		result.AddError(ct.ValidationPath{"NETWORK_TIMEOUT"}, errNonPositiveNetworkTimeout)
	}

	return result.GetError()
}
