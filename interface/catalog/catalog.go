package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/go-spatial/geom"
)

// Query is one catalog search: a collection over a geographic boundary and a
// time range, with provider-specific filters. Page/Limit window the results
// (0-based page, Limit=0 for the provider default).
type Query struct {
	Collection common.Collection
	AOI        geom.Polygon // lon/lat boundary of the footprint
	StartTime  time.Time
	EndTime    time.Time
	Filters    map[string]string
	Page       int
	Limit      int
}

// SceneProvider is the interface of a scene catalog.
type SceneProvider interface {
	// SearchScenes returns the scenes of the collection intersecting the query.
	SearchScenes(ctx context.Context, query Query) ([]common.Scene, error)

	// Name of the provider
	Name() string
}

// ErrCollectionNotFound is returned by a provider that does not serve the
// requested collection; the next provider is tried.
type ErrCollectionNotFound struct {
	Collection string
}

func (e ErrCollectionNotFound) Error() string {
	return fmt.Sprintf("collection not found: %s", e.Collection)
}
