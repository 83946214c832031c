package cube

import (
	"math"

	"github.com/airbusgeo/minicube/footprint"
)

// DistanceField computes, for each pixel center, the distance in projected
// units to the center recorded in the footprint, row-major from the
// north-west pixel. A footprint without a recorded center (a bounding-box
// request) has no distance field: nil is returned.
func DistanceField(fp *footprint.Footprint) []float64 {
	if fp.Center == nil {
		return nil
	}
	field := make([]float64, fp.Height*fp.Width)
	for j := 0; j < fp.Height; j++ {
		y := fp.North - (float64(j)+0.5)*fp.ResY
		for i := 0; i < fp.Width; i++ {
			x := fp.West + (float64(i)+0.5)*fp.ResX
			field[j*fp.Width+i] = math.Hypot(x-fp.Center.X, y-fp.Center.Y)
		}
	}
	return field
}
