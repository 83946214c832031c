package footprint

import (
	"math"
	"testing"
)

func TestGeotransformSnap(t *testing.T) {
	g := Geotransform{EPSG: 32632, OriginX: 600005, OriginY: 5500005, ScaleX: 10, ScaleY: -10}

	// snapping an aligned coordinate is the identity
	x, y := g.Snap(600125, 5499905)
	if x != 600125 || y != 5499905 {
		t.Errorf("aligned coordinate moved to (%v, %v)", x, y)
	}

	x, y = g.Snap(600123, 5499908)
	if x != 600125 || y != 5499905 {
		t.Errorf("expected (600125, 5499905), got (%v, %v)", x, y)
	}

	// half offsets round away from zero
	x, _ = g.Snap(600110, 0)
	if x != 600115 {
		t.Errorf("expected 600115, got %v", x)
	}
}

func TestFromCenterAligned(t *testing.T) {
	grid := Geotransform{EPSG: 32632, OriginX: 600005, OriginY: 5500005, ScaleX: 10, ScaleY: -10}
	crs, err := CRSFromEPSG(32632)
	if err != nil {
		t.Fatal(err)
	}
	// a point 11.8 px east and 3.7 px south of the grid origin
	lon, lat := crs.ToGeographic(600123, 5499968)

	fp, err := FromCenterAligned(lat, lon, 16, grid)
	if err != nil {
		t.Fatal(err)
	}
	if fp.Center == nil {
		t.Fatal("aligned center mode must record the projected center")
	}
	if math.Abs(fp.Center.X-600125) > 1e-6 || math.Abs(fp.Center.Y-5499965) > 1e-6 {
		t.Errorf("expected center (600125, 5499965), got (%v, %v)", fp.Center.X, fp.Center.Y)
	}
	if math.Abs(fp.West-600045) > 1e-6 || math.Abs(fp.North-5500045) > 1e-6 {
		t.Errorf("expected west 600045 north 5500045, got (%v, %v)", fp.West, fp.North)
	}
	// corners lie on the remote pixel grid
	if off := math.Mod(fp.West-grid.OriginX, grid.ScaleX); math.Abs(off) > 1e-6 {
		t.Errorf("west corner is off the grid by %v", off)
	}
	if fp.Width != 16 || fp.Height != 16 {
		t.Errorf("expected 16x16 px, got %dx%d", fp.Width, fp.Height)
	}
}

func TestFromCenterAlignedInvalid(t *testing.T) {
	if _, err := FromCenterAligned(50, 10, 16, Geotransform{EPSG: 32632}); err == nil {
		t.Errorf("zero grid scale accepted")
	}
	if _, err := FromCenterAligned(50, 10, 0, Geotransform{EPSG: 32632, ScaleX: 10, ScaleY: -10}); err == nil {
		t.Errorf("zero edge accepted")
	}
	if _, err := FromCenterAligned(50, 10, 16, Geotransform{EPSG: 99999, ScaleX: 10, ScaleY: -10}); err == nil {
		t.Errorf("unknown EPSG accepted")
	}
}
