package footprint

import (
	"math"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/go-spatial/geom"
)

// ProjectedPoint is a position in the footprint's CRS.
type ProjectedPoint struct {
	X, Y float64
}

// Footprint is the resolved extent of one request: a projected bbox aligned
// on the resolution grid, the matching geographic polygon and the pixel
// dimensions. Built once per request, immutable afterwards.
type Footprint struct {
	CRS    CRS
	West   float64
	South  float64
	East   float64
	North  float64
	ResX   float64 // positive pixel size along x
	ResY   float64 // positive pixel size along y
	Width  int     // pixels
	Height int     // pixels
	// Center is the exact projected center recorded at construction,
	// nil in bounding-box mode.
	Center *ProjectedPoint
	// Polygon is the geographic boundary, lon/lat vertices, closed ring.
	Polygon geom.Polygon
}

// FromCenter builds a footprint of edgePx pixels per side around a center
// point. The projected center snaps to the nearest multiple of the
// resolution and the bbox extends by round(edgePx*res/2) on each side.
func FromCenter(lat, lon float64, edgePx int, res float64) (*Footprint, error) {
	if edgePx <= 0 {
		return nil, common.InvalidInputf("edge size must be positive, got %d px", edgePx)
	}
	if res <= 0 {
		return nil, common.InvalidInputf("resolution must be positive, got %g", res)
	}
	crs, err := ResolveCRS(lat, lon)
	if err != nil {
		return nil, err
	}
	x, y := crs.ToProjected(lon, lat)
	x, y = math.Round(x/res)*res, math.Round(y/res)*res
	return fromProjectedCenter(crs, x, y, edgePx, res, res), nil
}

// FromCenterAligned builds a footprint around a center point snapped onto the
// pixel grid of an external raster, so that the corners coincide with remote
// pixel boundaries and direct pixel-window reads need no resampling.
func FromCenterAligned(lat, lon float64, edgePx int, grid Geotransform) (*Footprint, error) {
	if edgePx <= 0 {
		return nil, common.InvalidInputf("edge size must be positive, got %d px", edgePx)
	}
	if grid.ScaleX == 0 || grid.ScaleY == 0 {
		return nil, common.InvalidInputf("grid scale must be non-zero")
	}
	crs, err := CRSFromEPSG(grid.EPSG)
	if err != nil {
		return nil, err
	}
	x, y := crs.ToProjected(lon, lat)
	x, y = grid.Snap(x, y)
	return fromProjectedCenter(crs, x, y, edgePx, math.Abs(grid.ScaleX), math.Abs(grid.ScaleY)), nil
}

func fromProjectedCenter(crs CRS, x, y float64, edgePx int, resX, resY float64) *Footprint {
	bufX := math.Round(float64(edgePx) * resX / 2)
	bufY := math.Round(float64(edgePx) * resY / 2)
	fp := &Footprint{
		CRS:    crs,
		West:   x - bufX,
		South:  y - bufY,
		East:   x + bufX,
		North:  y + bufY,
		ResX:   resX,
		ResY:   resY,
		Width:  edgePx,
		Height: edgePx,
		Center: &ProjectedPoint{X: x, Y: y},
	}
	fp.Polygon = fp.geographicRing()
	return fp
}

// FromBBox builds the smallest resolution-aligned footprint containing the
// geographic box (min lon, min lat, max lon, max lat). The CRS is resolved
// from the box centroid; the projected box is expanded outward to resolution
// multiples, never clipped. The geographic polygon keeps the four input
// corners verbatim and no center is recorded.
func FromBBox(minLon, minLat, maxLon, maxLat, res float64) (*Footprint, error) {
	if res <= 0 {
		return nil, common.InvalidInputf("resolution must be positive, got %g", res)
	}
	if minLon >= maxLon || minLat >= maxLat {
		return nil, common.InvalidInputf("bbox: min corner must be strictly south-west of max corner")
	}
	crs, err := ResolveCRS((minLat+maxLat)/2, (minLon+maxLon)/2)
	if err != nil {
		return nil, err
	}
	x0, y0 := crs.ToProjected(minLon, minLat)
	x1, y1 := crs.ToProjected(maxLon, maxLat)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	west := math.Floor(x0/res) * res
	south := math.Floor(y0/res) * res
	east := math.Ceil(x1/res) * res
	north := math.Ceil(y1/res) * res
	return &Footprint{
		CRS:    crs,
		West:   west,
		South:  south,
		East:   east,
		North:  north,
		ResX:   res,
		ResY:   res,
		Width:  int(math.Round((east - west) / res)),
		Height: int(math.Round((north - south) / res)),
		Polygon: geom.Polygon{{
			{minLon, minLat},
			{maxLon, minLat},
			{maxLon, maxLat},
			{minLon, maxLat},
			{minLon, minLat},
		}},
	}, nil
}

// EdgePixels converts a requested edge size to a pixel count at the given
// resolution, rounding half away from zero. It returns the pixel count and
// the realized projected length, which may differ from the request.
func EdgePixels(edge common.EdgeSize, res float64) (int, float64, error) {
	if res <= 0 {
		return 0, 0, common.InvalidInputf("resolution must be positive, got %g", res)
	}
	var meters float64
	switch edge.Unit {
	case "", common.UnitPixel:
		px := int(math.Round(edge.Value))
		if px <= 0 {
			return 0, 0, common.InvalidInputf("edge size must be positive, got %s", edge)
		}
		return px, float64(px) * res, nil
	case common.UnitMeter:
		meters = edge.Value
	case common.UnitKilometer:
		meters = edge.Value * 1000
	default:
		return 0, 0, common.InvalidInputf("unknown edge-size unit %q", edge.Unit)
	}
	px := int(math.Round(meters / res))
	if px <= 0 {
		return 0, 0, common.InvalidInputf("edge size %s is below one pixel at resolution %g", edge, res)
	}
	return px, float64(px) * res, nil
}

// PatchRequest derives the read request of one scene over the footprint.
func (f *Footprint) PatchRequest(sceneID string, timestamp time.Time, bands []string) common.PatchRequest {
	return common.PatchRequest{
		SceneID:   sceneID,
		Timestamp: timestamp,
		Bands:     bands,
		EPSG:      f.CRS.EPSG,
		West:      f.West,
		North:     f.North,
		ResX:      f.ResX,
		ResY:      f.ResY,
		Width:     f.Width,
		Height:    f.Height,
	}
}

// Axes returns the projected coordinates of the pixel grid: x ascending from
// the western edge, y descending from the northern edge (row 0 is north).
func (f *Footprint) Axes() (xs, ys []float64) {
	xs = make([]float64, f.Width)
	for i := range xs {
		xs[i] = f.West + float64(i)*f.ResX
	}
	ys = make([]float64, f.Height)
	for j := range ys {
		ys[j] = f.North - float64(j)*f.ResY
	}
	return xs, ys
}

// geographicRing reprojects the five bbox vertices one by one, preserving the
// polygon shape under distortion near zone edges.
func (f *Footprint) geographicRing() geom.Polygon {
	ring := make([][2]float64, 0, 5)
	for _, v := range [...][2]float64{
		{f.West, f.South},
		{f.East, f.South},
		{f.East, f.North},
		{f.West, f.North},
		{f.West, f.South},
	} {
		lon, lat := f.CRS.ToGeographic(v[0], v[1])
		ring = append(ring, [2]float64{lon, lat})
	}
	return geom.Polygon{ring}
}
