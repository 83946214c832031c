package footprint

import "math"

// Geotransform is the pixel grid of a raster source: the projected origin and
// the signed pixel scale along each axis (ScaleY is negative for north-up
// rasters).
type Geotransform struct {
	EPSG    int     `json:"epsg"`
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
	ScaleX  float64 `json:"scale_x"`
	ScaleY  float64 `json:"scale_y"`
}

// Snap moves a projected coordinate onto the nearest pixel boundary of the
// grid. Snapping an already-aligned coordinate returns it unchanged.
func (g Geotransform) Snap(x, y float64) (float64, float64) {
	return snapAxis(x, g.OriginX, g.ScaleX), snapAxis(y, g.OriginY, g.ScaleY)
}

func snapAxis(local, origin, scale float64) float64 {
	offset := math.Round((local - origin) / scale)
	return origin + offset*scale
}
