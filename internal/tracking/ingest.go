package tracking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/location"
)

// ActionUpdateLocation is the audit action recorded for ingests.
const ActionUpdateLocation = "updateLocation"

// UpdateLocation validates and stores a position, then publishes it.
//
// The geo index and the metadata cache are both written before the publish;
// if either write fails nothing is published. The work is detached from ctx's
// cancellation so a client hanging up mid-request cannot leave the stores
// half-written, and is bounded by the operation timeout instead.
func (s *Service) UpdateLocation(ctx context.Context, deviceID string, lat, lon float64) (Update, error) {
	start := time.Now()
	params := map[string]interface{}{"lat": lat, "lon": lon}

	update, err := location.NewUpdate(deviceID, lat, lon, s.now())
	if err != nil {
		s.audit(ctx, deviceID, params, err, start)
		return Update{}, err
	}

	payload, err := update.Marshal()
	if err != nil {
		s.audit(ctx, deviceID, params, err, start)
		return Update{}, err
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.deps.Geo.Upsert(opCtx, deviceID, update.Coordinate()); err != nil {
		return Update{}, s.fail(ctx, deviceID, params, upstream(OpGeoUpsert, err), start)
	}

	if err := s.deps.Cache.Set(opCtx, deviceID, payload); err != nil {
		return Update{}, s.fail(ctx, deviceID, params, upstream(OpCacheSet, err), start)
	}

	if err := s.deps.Publisher.Publish(opCtx, payload); err != nil {
		return Update{}, s.fail(ctx, deviceID, params, upstream(OpBusPublish, err), start)
	}

	s.audit(ctx, deviceID, params, nil, start)
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"lat":       lat,
		"lon":       lon,
	}).Debug("Location updated")

	return update, nil
}

func (s *Service) fail(ctx context.Context, deviceID string, params map[string]interface{}, err error, start time.Time) error {
	s.log.WithError(err).WithField("device_id", deviceID).Error("Location update failed")
	s.audit(ctx, deviceID, params, err, start)
	return err
}

func (s *Service) audit(ctx context.Context, deviceID string, params map[string]interface{}, err error, start time.Time) {
	if s.deps.Audit == nil {
		return
	}
	s.deps.Audit.LogAction(ctx, ActionUpdateLocation, deviceID, params, err, time.Since(start))
}
