package tracking

import (
	"errors"
	"fmt"
)

// ErrUpstream matches every UpstreamError.
var ErrUpstream = errors.New("UPSTREAM_FAILURE")

// UpstreamError reports a failed store, cache or bus operation.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

// Upstream operation names.
const (
	OpGeoUpsert  = "geo index upsert"
	OpGeoSearch  = "geo index search"
	OpCacheSet   = "metadata cache set"
	OpCacheGet   = "metadata cache get"
	OpBusPublish = "bus publish"
)
