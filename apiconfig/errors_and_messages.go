package apiconfig

import "errors"

var (
	errMissingDefaultEndpoint    = errors.New("default API endpoint is required")
	errNonPositiveNetworkTimeout = errors.New("network timeout must be positive if set")
)
