package addresscache

import "fmt"

// Log messages and error constructors for this package are collected here, following the
// convention of internal/filedata; RotateAfterFailure's persist-failure message is inline.

const (
	logMsgBootstrapFromDisk    = "Loaded %d endpoint(s) from the on-disk cache"
	logMsgBootstrapFromBundle  = "On-disk cache unavailable (%s); falling back to the bundled seed (%d endpoint(s))"
	logMsgBootstrapFromDefault = "No usable on-disk cache or bundle; falling back to the built-in default endpoint"
	logMsgPersistAfterBundle   = "Failed to persist the bundled seed to disk: %s"
	logMsgRotated              = "Rotated past %s; new current endpoint is %s"
	logMsgRotateStale          = "Rotation request for %s ignored; it is no longer the current endpoint"
	logMsgReplacedUnchanged    = "New endpoint list has the same members as the current one; only refreshing the timestamp"
	logMsgReplaced             = "Replaced endpoint list with %d endpoint(s)"
)

// ErrEmptyList is returned by ReplaceEndpoints when given an empty candidate list.
type ErrEmptyList struct{}

func (ErrEmptyList) Error() string { return "replace_endpoints: candidate list must not be empty" }

func errReadCache(path string, cause error) error {
	return fmt.Errorf("read_cache: unable to read %q: %w", path, cause)
}

func errDecodeCache(path string, cause error) error {
	return fmt.Errorf("decode_cache: unable to decode %q: %w", path, cause)
}

func errReadBundle(path string, cause error) error {
	return fmt.Errorf("read_bundle: unable to read %q: %w", path, cause)
}

func errDecodeBundle(path string, cause error) error {
	return fmt.Errorf("decode_bundle: unable to decode %q: %w", path, cause)
}

func errEncodeCache(cause error) error {
	return fmt.Errorf("encode_cache: unable to encode snapshot: %w", cause)
}

func errWriteCache(path string, cause error) error {
	return fmt.Errorf("write_cache: unable to write %q: %w", path, cause)
}
