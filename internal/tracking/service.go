package tracking

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/location"
)

// Update is the accepted location update returned by UpdateLocation.
type Update = location.Update

// DefaultOperationTimeout bounds an ingest or query when none is configured.
const DefaultOperationTimeout = 10 * time.Second

// Service runs ingest and nearby queries against its dependencies.
type Service struct {
	deps    Dependencies
	timeout time.Duration
	log     logrus.FieldLogger

	// now stamps new updates; replaced in tests.
	now func() time.Time
}

// NewService creates a tracking service. A zero timeout uses
// DefaultOperationTimeout; a nil Audit disables auditing.
func NewService(deps Dependencies, timeout time.Duration, log logrus.FieldLogger) *Service {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		deps:    deps,
		timeout: timeout,
		log:     log.WithField("component", "tracking"),
		now:     time.Now,
	}
}
