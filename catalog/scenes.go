package catalog

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

func refineInventory(scenes []common.Scene, query catalog.Query) ([]common.Scene, error) {
	scenes = removeDoubleEntries(scenes)
	scenes = clampTime(scenes, query.StartTime, query.EndTime)
	scenes, err := removeOutsideAOI(scenes, query.AOI)
	if err != nil {
		return nil, fmt.Errorf("refineInventory.%w", err)
	}
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Data.Date.Before(scenes[j].Data.Date) })
	return scenes, nil
}

// removeDoubleEntries removes acquisitions that appear twice in the inventory.
// The discriminator of a re-processed scene identifier changes. When searching
// for data, both scenes will be found, even though they are the same.
// This routine checks for such appearance and selects the latest product.
// Credit: OpenSarToolkit
func removeDoubleEntries(scenes []common.Scene) []common.Scene {
	identifiers := map[string]int{}

	j := 0
	for _, scene := range scenes {
		if k, ok := identifiers[productKey(scene.SourceID)]; !ok {
			scenes[j] = scene
			identifiers[productKey(scene.SourceID)] = j
			j++
		} else if scenes[k].Data.Tags[common.TagIngestionDate] < scene.Data.Tags[common.TagIngestionDate] {
			scenes[k] = scene
		}
	}

	return scenes[0:j]
}

// productKey identifies an acquisition regardless of the processing
// discriminator that changes when a product is republished.
func productKey(sourceID string) string {
	if common.GetConstellationFromProductId(sourceID) == common.Unknown {
		return sourceID
	}
	if i := strings.LastIndex(sourceID, "_"); i != -1 {
		return sourceID[:i]
	}
	return sourceID
}

// removeOutsideAOI removes scenes that are located outside the AOI.
// The search routine works over a simplified representation of the AOI.
// This may then include acquisitions that do not overlap with the AOI.
// In this step we sort out the scenes that are completely outside the actual AOI.
// Credit: OpenSarToolkit
func removeOutsideAOI(scenes []common.Scene, aoi geom.Polygon) ([]common.Scene, error) {
	if len(aoi) == 0 {
		return scenes, nil
	}
	geosAOI, err := geos.FromWKT(wkt.MustEncode(aoi))
	if err != nil {
		return nil, fmt.Errorf("removeOutsideAOI.FromWKT: %w", err)
	}

	// Prepare geometry for intersection
	paoi := geosAOI.Prepare()

	j := 0
	for i, scene := range scenes {
		if scene.Data.GeometryWKT == "" {
			// nothing to refine on, the provider already filtered
			scenes[j] = scenes[i]
			j++
			continue
		}
		sceneGeometry, err := geos.FromWKT(scene.Data.GeometryWKT)
		if err != nil {
			return nil, fmt.Errorf("removeOutsideAOI.FromWKT[%s]: %w", scene.SourceID, err)
		}
		intersect, err := paoi.Intersects(sceneGeometry)
		if err != nil {
			return nil, fmt.Errorf("removeOutsideAOI.Intersects[%s]: %w", scene.SourceID, err)
		}
		if intersect {
			scenes[j] = scenes[i]
			j++
		}
	}
	runtime.KeepAlive(geosAOI)

	return scenes[0:j], nil
}

// clampTime removes scenes acquired outside the interval. Providers listing
// whole folders or manifests may return more than the requested range.
func clampTime(scenes []common.Scene, start, end time.Time) []common.Scene {
	j := 0
	for i, scene := range scenes {
		if !start.IsZero() && scene.Data.Date.Before(start) {
			continue
		}
		if !end.IsZero() && scene.Data.Date.After(end) {
			continue
		}
		scenes[j] = scenes[i]
		j++
	}
	return scenes[0:j]
}
