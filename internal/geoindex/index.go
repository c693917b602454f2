package geoindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/logger"
	"github.com/swiftfleet/dispatch-backend/pkg/redis"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

// Candidate is an agent discovered near a pickup point, nearest first.
type Candidate struct {
	AgentID   uuid.UUID
	DistanceM float64
	Location  types.Coordinate
}

// Index tracks live agent positions and answers radius queries. A limit of
// zero or less returns every member inside the radius.
type Index interface {
	Upsert(ctx context.Context, agentID uuid.UUID, location types.Coordinate) error
	Remove(ctx context.Context, agentID uuid.UUID) error
	QueryRadius(ctx context.Context, center types.Coordinate, radiusMeters float64, limit int) ([]Candidate, error)
}

type geoStore interface {
	GeoUpsert(ctx context.Context, member string, lat, lng float64) error
	GeoRemove(ctx context.Context, member string) error
	GeoRadius(ctx context.Context, lat, lng, radiusMeters float64, count int) ([]redis.GeoMember, error)
}

type index struct {
	store geoStore
	logg  *logger.Logger
}

// NewIndex builds a Redis-backed geo index.
func NewIndex(store geoStore, logg *logger.Logger) (Index, error) {
	if store == nil {
		return nil, fmt.Errorf("geo store required")
	}
	return &index{store: store, logg: logg}, nil
}

func (i *index) Upsert(ctx context.Context, agentID uuid.UUID, location types.Coordinate) error {
	if agentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}
	if err := location.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid location")
	}
	if err := i.store.GeoUpsert(ctx, agentID.String(), location.Lat, location.Lng); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating geo index")
	}
	return nil
}

func (i *index) Remove(ctx context.Context, agentID uuid.UUID) error {
	if agentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}
	if err := i.store.GeoRemove(ctx, agentID.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "removing from geo index")
	}
	return nil
}

func (i *index) QueryRadius(ctx context.Context, center types.Coordinate, radiusMeters float64, limit int) ([]Candidate, error) {
	if err := center.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid center")
	}
	if radiusMeters <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "radius must be positive")
	}
	members, err := i.store.GeoRadius(ctx, center.Lat, center.Lng, radiusMeters, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "querying geo index")
	}

	candidates := make([]Candidate, 0, len(members))
	for _, member := range members {
		agentID, parseErr := uuid.Parse(member.Member)
		if parseErr != nil {
			// Malformed members are skipped; the index is rebuilt by heartbeats.
			if i.logg != nil {
				i.logg.Warn(i.logg.WithField(ctx, "member", member.Member), "dropping malformed geo index member")
			}
			continue
		}
		candidates = append(candidates, Candidate{
			AgentID:   agentID,
			DistanceM: member.DistanceM,
			Location:  types.Coordinate{Lat: member.Lat, Lng: member.Lng},
		})
	}
	return candidates, nil
}
