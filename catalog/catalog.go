package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/footprint"
	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/airbusgeo/minicube/service"
	"github.com/airbusgeo/minicube/service/log"
)

// Catalog resolves the scenes of a cube request, trying each provider in turn
// until one of them hosts the collection and answers.
type Catalog struct {
	Providers []catalog.SceneProvider
}

// ResolveScenes lists the scenes covering the AOI of the query over its time
// interval. The inventory is deduplicated, restricted to the scenes really
// intersecting the AOI and sorted by acquisition date.
func (c *Catalog) ResolveScenes(ctx context.Context, query catalog.Query) ([]common.Scene, error) {
	if len(c.Providers) == 0 {
		return nil, fmt.Errorf("ResolveScenes: no catalog is configured")
	}

	var err, e error
	var scenes []common.Scene
	for _, sceneProvider := range c.Providers {
		scenes, e = sceneProvider.SearchScenes(ctx, query)
		if err = service.MergeErrors(false, err, e); err == nil {
			break
		}
		log.Logger(ctx).Sugar().Debugf("ResolveScenes(%s): %v", sceneProvider.Name(), e)
	}
	if err != nil {
		return nil, fmt.Errorf("ResolveScenes.%w", err)
	}

	scenes, err = refineInventory(scenes, query)
	if err != nil {
		return nil, fmt.Errorf("ResolveScenes.%w", err)
	}

	log.Logger(ctx).Sugar().Debugf("%d scenes found for %s", len(scenes), query.Collection.String())
	return scenes, nil
}

// Query builds the scene query matching a cube request over a footprint.
func Query(req common.CubeRequest, fp *footprint.Footprint) catalog.Query {
	return catalog.Query{
		Collection: req.Collection,
		AOI:        fp.Polygon,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Filters:    req.Filters,
	}
}

// PatchRequests maps the scenes onto the footprint window, one patch request
// per timestep.
func PatchRequests(fp *footprint.Footprint, scenes []common.Scene, bands common.Bands) []common.PatchRequest {
	requests := make([]common.PatchRequest, len(scenes))
	for i, scene := range scenes {
		requests[i] = fp.PatchRequest(scene.SourceID, scene.Data.Date, bands)
	}
	return requests
}

// TimeSpan returns the acquisition interval covered by the scenes.
func TimeSpan(scenes []common.Scene) (from, to time.Time) {
	for _, scene := range scenes {
		if from.IsZero() || scene.Data.Date.Before(from) {
			from = scene.Data.Date
		}
		if to.IsZero() || scene.Data.Date.After(to) {
			to = scene.Data.Date
		}
	}
	return from, to
}
