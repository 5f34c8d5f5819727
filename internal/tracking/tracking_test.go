package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/geotrack/internal/bus"
	"github.com/geotrack/geotrack/internal/geostore"
	"github.com/geotrack/geotrack/internal/location"
	"github.com/geotrack/geotrack/internal/metacache"
)

var fixedNow = time.Unix(1700000000, 250000000)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// callLog records the order in which collaborators are touched.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeGeo struct {
	log  *callLog
	err  error
	geo  *geostore.Memory
	// ctxErrs and deadlines capture the upsert context at call time.
	ctxErrs   []error
	deadlines []bool
	searchCtx []error
}

func (f *fakeGeo) Upsert(ctx context.Context, id string, c location.Coordinate) error {
	f.log.add("geo")
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	if f.err != nil {
		return f.err
	}
	return f.geo.Upsert(ctx, id, c)
}

func (f *fakeGeo) Search(ctx context.Context, c location.Coordinate, r float64) ([]geostore.Match, error) {
	f.searchCtx = append(f.searchCtx, ctx.Err())
	if f.err != nil {
		return nil, f.err
	}
	return f.geo.Search(ctx, c, r)
}

type fakeCache struct {
	log    *callLog
	setErr error
	getErr error
	cache  *metacache.Memory
}

func (f *fakeCache) Set(ctx context.Context, id string, payload []byte) error {
	f.log.add("cache")
	if f.setErr != nil {
		return f.setErr
	}
	return f.cache.Set(ctx, id, payload)
}

func (f *fakeCache) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.cache.Get(ctx, id)
}

type fakePublisher struct {
	log      *callLog
	err      error
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, payload []byte) error {
	f.log.add("publish")
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	f.mu.Unlock()
	return nil
}

type auditRecord struct {
	action   string
	deviceID string
	params   map[string]interface{}
	err      error
}

type fakeAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (f *fakeAudit) LogAction(_ context.Context, action, deviceID string, params map[string]interface{}, err error, _ time.Duration) {
	f.mu.Lock()
	f.records = append(f.records, auditRecord{action, deviceID, params, err})
	f.mu.Unlock()
}

type fixture struct {
	log   *callLog
	geo   *fakeGeo
	cache *fakeCache
	pub   *fakePublisher
	audit *fakeAudit
	svc   *Service
}

func newFixture() *fixture {
	log := &callLog{}
	f := &fixture{
		log:   log,
		geo:   &fakeGeo{log: log, geo: geostore.NewMemory()},
		cache: &fakeCache{log: log, cache: metacache.NewMemory()},
		pub:   &fakePublisher{log: log},
		audit: &fakeAudit{},
	}
	f.svc = NewService(Dependencies{
		Geo:       f.geo,
		Cache:     f.cache,
		Publisher: f.pub,
		Audit:     f.audit,
	}, time.Second, quietLogger())
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func TestUpdateLocationWritesThenPublishes(t *testing.T) {
	f := newFixture()

	update, err := f.svc.UpdateLocation(context.Background(), "d1", 37.5, -122.25)
	require.NoError(t, err)

	assert.Equal(t, []string{"geo", "cache", "publish"}, f.log.snapshot())
	assert.Equal(t, "d1", update.DeviceID)
	assert.Equal(t, location.TypeLocationUpdate, update.Type)

	want := `{"device_id":"d1","type":"location_update","lat":37.5,"lon":-122.25,"timestamp":1700000000.25}`
	require.Len(t, f.pub.payloads, 1)
	assert.JSONEq(t, want, string(f.pub.payloads[0]))

	cached, found, err := f.cache.cache.Get(context.Background(), "d1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, f.pub.payloads[0], cached, "cache and bus carry identical bytes")

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, ActionUpdateLocation, f.audit.records[0].action)
	assert.NoError(t, f.audit.records[0].err)
}

func TestUpdateLocationValidation(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		lat, lon float64
	}{
		{"empty device", "", 0, 0},
		{"latitude high", "d1", 90.5, 0},
		{"latitude low", "d1", -91, 0},
		{"longitude high", "d1", 0, 180.1},
		{"longitude low", "d1", 0, -181},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.UpdateLocation(context.Background(), tt.deviceID, tt.lat, tt.lon)
			require.Error(t, err)
			assert.ErrorIs(t, err, location.ErrInvalid)
			assert.Empty(t, f.log.snapshot(), "no store touched")
			require.Len(t, f.audit.records, 1)
			assert.Error(t, f.audit.records[0].err)
		})
	}
}

func TestUpdateLocationGeoFailureStopsEverything(t *testing.T) {
	f := newFixture()
	f.geo.err = errors.New("connection refused")

	_, err := f.svc.UpdateLocation(context.Background(), "d1", 1, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, OpGeoUpsert, upErr.Op)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, []string{"geo"}, f.log.snapshot())
}

func TestUpdateLocationCacheFailureSkipsPublish(t *testing.T) {
	f := newFixture()
	f.cache.setErr = errors.New("OOM")

	_, err := f.svc.UpdateLocation(context.Background(), "d1", 1, 2)
	require.ErrorIs(t, err, ErrUpstream)

	assert.Equal(t, []string{"geo", "cache"}, f.log.snapshot())
	assert.Empty(t, f.pub.payloads)
	require.Len(t, f.audit.records, 1)
	assert.ErrorIs(t, f.audit.records[0].err, ErrUpstream)
}

func TestUpdateLocationPublishFailure(t *testing.T) {
	f := newFixture()
	f.pub.err = bus.ErrClosed

	_, err := f.svc.UpdateLocation(context.Background(), "d1", 1, 2)
	require.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, bus.ErrClosed)

	// Stores were already written.
	_, found, _ := f.cache.cache.Get(context.Background(), "d1")
	assert.True(t, found)
}

func TestUpdateLocationIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.UpdateLocation(ctx, "d1", 10, 20)
	require.NoError(t, err)
	_, err = f.svc.UpdateLocation(ctx, "d1", 10, 20)
	require.NoError(t, err)

	assert.Equal(t, 1, f.geo.geo.Len())
	assert.Len(t, f.pub.payloads, 2)

	matches, err := f.geo.geo.Search(ctx, location.Coordinate{Lat: 10, Lon: 20}, 0.001)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].DeviceID)
}

func TestUpdateLocationSurvivesCallerCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.UpdateLocation(ctx, "d1", 1, 2)
	require.NoError(t, err)

	require.Len(t, f.geo.ctxErrs, 1)
	assert.NoError(t, f.geo.ctxErrs[0])
	assert.True(t, f.geo.deadlines[0])
}

func TestNearbySurvivesCallerCancel(t *testing.T) {
	f := newFixture()
	_, err := f.svc.UpdateLocation(context.Background(), "d1", 1, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	devices, err := f.svc.Nearby(ctx, 1, 2, 1)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].DeviceID)
	require.Len(t, f.geo.searchCtx, 1)
	assert.NoError(t, f.geo.searchCtx[0])
}

func TestNearbyEnrichesFromCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.UpdateLocation(ctx, "d1", 37, -122)
	require.NoError(t, err)

	devices, err := f.svc.Nearby(ctx, 37, -122, 1)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].DeviceID)
	assert.InDelta(t, 37, devices[0].Lat, 1e-9)
	assert.InDelta(t, -122, devices[0].Lon, 1e-9)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(devices[0].Metadata, &meta))
	assert.Equal(t, "d1", meta["device_id"])
	assert.Equal(t, "location_update", meta["type"])

	far, err := f.svc.Nearby(ctx, 0, 0, 0.0001)
	require.NoError(t, err)
	assert.NotNil(t, far)
	assert.Empty(t, far)

	encoded, err := json.Marshal(far)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(encoded))
}

func TestNearbyMissingMetadata(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.geo.geo.Upsert(ctx, "ghost", location.Coordinate{Lat: 1, Lon: 1}))

	devices, err := f.svc.Nearby(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.JSONEq(t, `{}`, string(devices[0].Metadata))
}

func TestNearbyNonObjectMetadata(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.geo.geo.Upsert(ctx, "a", location.Coordinate{Lat: 1, Lon: 1}))
	require.NoError(t, f.geo.geo.Upsert(ctx, "b", location.Coordinate{Lat: 1, Lon: 1.001}))
	require.NoError(t, f.cache.cache.Set(ctx, "a", []byte("not json")))
	require.NoError(t, f.cache.cache.Set(ctx, "b", []byte(`[1,2]`)))

	devices, err := f.svc.Nearby(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	for _, d := range devices {
		assert.JSONEq(t, `{}`, string(d.Metadata), d.DeviceID)
	}
}

func TestNearbyOrderedByDistance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.UpdateLocation(ctx, "far", 0, 0.005)
	require.NoError(t, err)
	_, err = f.svc.UpdateLocation(ctx, "center", 0, 0)
	require.NoError(t, err)
	_, err = f.svc.UpdateLocation(ctx, "near", 0, 0.001)
	require.NoError(t, err)

	devices, err := f.svc.Nearby(ctx, 0, 0, 1)
	require.NoError(t, err)

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.DeviceID)
	}
	assert.Equal(t, []string{"center", "near", "far"}, ids)
}

func TestNearbyValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, r := range []float64{0, -1} {
		_, err := f.svc.Nearby(ctx, 0, 0, r)
		assert.ErrorIs(t, err, location.ErrInvalid)
	}
	_, err := f.svc.Nearby(ctx, 91, 0, 1)
	assert.ErrorIs(t, err, location.ErrInvalid)
}

func TestNearbyUpstreamFailures(t *testing.T) {
	t.Run("geo", func(t *testing.T) {
		f := newFixture()
		f.geo.err = errors.New("down")
		_, err := f.svc.Nearby(context.Background(), 0, 0, 1)
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("cache", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.geo.geo.Upsert(context.Background(), "d1", location.Coordinate{}))
		f.cache.getErr = errors.New("down")
		_, err := f.svc.Nearby(context.Background(), 0, 0, 1)
		var upErr *UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, OpCacheGet, upErr.Op)
	})
}

func TestServiceAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	redisBus := bus.NewRedis(client, bus.DefaultChannel)
	ctx := context.Background()
	sub, err := redisBus.Subscribe(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	svc := NewService(Dependencies{
		Geo:       geostore.NewRedis(client, geostore.DefaultKey),
		Cache:     metacache.NewRedis(client, metacache.DefaultPrefix, 0),
		Publisher: redisBus,
	}, time.Second, quietLogger())

	update, err := svc.UpdateLocation(ctx, "d1", 37, -122)
	require.NoError(t, err)

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	published, err := sub.Receive(recvCtx)
	require.NoError(t, err)
	expected, err := update.Marshal()
	require.NoError(t, err)
	assert.Equal(t, expected, published)

	raw, err := mr.Get("device_meta:d1")
	require.NoError(t, err)
	assert.Equal(t, string(expected), raw)

	devices, err := svc.Nearby(ctx, 37, -122, 1)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].DeviceID)
	assert.InDelta(t, 37, devices[0].Lat, 1e-4)
	assert.InDelta(t, -122, devices[0].Lon, 1e-4)
	assert.JSONEq(t, string(expected), string(devices[0].Metadata))

	empty, err := svc.Nearby(ctx, 0, 0, 0.0001)
	require.NoError(t, err)
	assert.Empty(t, empty)

	mr.Close()
	_, err = svc.UpdateLocation(ctx, "d1", 1, 1)
	assert.ErrorIs(t, err, ErrUpstream)
	_, err = svc.Nearby(ctx, 37, -122, 1)
	assert.ErrorIs(t, err, ErrUpstream)
}
