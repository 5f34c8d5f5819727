package tracking

import (
	"context"
	"time"

	"github.com/geotrack/geotrack/internal/bus"
	"github.com/geotrack/geotrack/internal/geostore"
	"github.com/geotrack/geotrack/internal/metacache"
)

// AuditLogger records the outcome of every ingest.
type AuditLogger interface {
	LogAction(ctx context.Context, action, deviceID string, params map[string]interface{}, err error, latency time.Duration)
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Geo       geostore.Store
	Cache     metacache.Cache
	Publisher bus.Publisher
	Audit     AuditLogger
}
