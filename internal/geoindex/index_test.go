package geoindex

import (
	"context"
	"testing"

	"github.com/google/uuid"

	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/redis"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

type stubGeoStore struct {
	members map[string]types.Coordinate
	results []redis.GeoMember
}

func newStubGeoStore() *stubGeoStore {
	return &stubGeoStore{members: make(map[string]types.Coordinate)}
}

func (s *stubGeoStore) GeoUpsert(ctx context.Context, member string, lat, lng float64) error {
	s.members[member] = types.Coordinate{Lat: lat, Lng: lng}
	return nil
}

func (s *stubGeoStore) GeoRemove(ctx context.Context, member string) error {
	delete(s.members, member)
	return nil
}

func (s *stubGeoStore) GeoRadius(ctx context.Context, lat, lng, radiusMeters float64, count int) ([]redis.GeoMember, error) {
	return s.results, nil
}

func TestUpsertValidatesInput(t *testing.T) {
	idx, err := NewIndex(newStubGeoStore(), nil)
	if err != nil {
		t.Fatalf("index build failed: %v", err)
	}

	ctx := context.Background()
	if err := idx.Upsert(ctx, uuid.Nil, types.Coordinate{Lat: 10, Lng: 10}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for nil agent, got %v", err)
	}
	if err := idx.Upsert(ctx, uuid.New(), types.Coordinate{Lat: 95, Lng: 10}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for bad latitude, got %v", err)
	}
	if err := idx.Upsert(ctx, uuid.New(), types.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryRadiusSkipsMalformedMembers(t *testing.T) {
	store := newStubGeoStore()
	good := uuid.New()
	store.results = []redis.GeoMember{
		{Member: good.String(), DistanceM: 120, Lat: 12.9, Lng: 77.6},
		{Member: "not-a-uuid", DistanceM: 300},
	}

	idx, err := NewIndex(store, nil)
	if err != nil {
		t.Fatalf("index build failed: %v", err)
	}

	candidates, err := idx.QueryRadius(context.Background(), types.Coordinate{Lat: 12.9, Lng: 77.6}, 5000, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].AgentID != good {
		t.Fatalf("unexpected candidate %+v", candidates[0])
	}
	if candidates[0].DistanceM != 120 {
		t.Fatalf("distance not carried through: %+v", candidates[0])
	}
}

func TestQueryRadiusValidation(t *testing.T) {
	idx, err := NewIndex(newStubGeoStore(), nil)
	if err != nil {
		t.Fatalf("index build failed: %v", err)
	}

	if _, err := idx.QueryRadius(context.Background(), types.Coordinate{Lat: 0, Lng: 200}, 5000, 10); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := idx.QueryRadius(context.Background(), types.Coordinate{Lat: 12.9, Lng: 77.6}, 0, 10); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for radius, got %v", err)
	}
}
