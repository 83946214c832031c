package footprint

import (
	"errors"
	"math"
	"testing"
)

func TestResolveCRS(t *testing.T) {
	for _, tc := range []struct {
		lat, lon float64
		epsg     int
	}{
		{50, 10, 32632},
		{50, 9, 32632},
		{50, 8.9, 32632},
		{50, 2, 32631},
		{-33.9, 18.4, 32734},
		{40, -74, 32618},
		{0, 180, 32601},
		{0, -180, 32601},
		{84, 10, 32633},
		{-80, 10, 32732},
		// southern Norway: zone 32 widened over the 31/32 boundary
		{60, 5, 32632},
		{60, 2, 32631},
		{55.9, 5, 32631},
		// Svalbard
		{75, 5, 32631},
		{75, 10, 32633},
		{75, 25, 32635},
		{75, 40, 32637},
		{75, 45, 32638},
	} {
		crs, err := ResolveCRS(tc.lat, tc.lon)
		if err != nil {
			t.Errorf("ResolveCRS(%g, %g): %v", tc.lat, tc.lon, err)
			continue
		}
		if crs.EPSG != tc.epsg {
			t.Errorf("ResolveCRS(%g, %g): expected EPSG %d, got %d", tc.lat, tc.lon, tc.epsg, crs.EPSG)
		}
	}
}

func TestResolveCRSOutOfDomain(t *testing.T) {
	for _, tc := range []struct{ lat, lon float64 }{
		{84.1, 10},
		{-80.5, 10},
		{90, 0},
		{math.NaN(), 10},
		{50, math.NaN()},
		{math.Inf(1), 10},
		{50, math.Inf(-1)},
	} {
		_, err := ResolveCRS(tc.lat, tc.lon)
		if err == nil {
			t.Errorf("ResolveCRS(%g, %g): expected an error", tc.lat, tc.lon)
			continue
		}
		var zre ZoneResolutionError
		if !errors.As(err, &zre) {
			t.Errorf("ResolveCRS(%g, %g): expected a ZoneResolutionError, got %T", tc.lat, tc.lon, err)
		}
	}
}

func TestTransformRoundTrip(t *testing.T) {
	crs, err := ResolveCRS(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	x, y := crs.ToProjected(10, 50)
	lon, lat := crs.ToGeographic(x, y)
	if math.Abs(lon-10) > 1e-6 || math.Abs(lat-50) > 1e-6 {
		t.Errorf("round trip moved (10, 50) to (%v, %v)", lon, lat)
	}
}

func TestCentralMeridianEasting(t *testing.T) {
	crs, err := ResolveCRS(50, 9)
	if err != nil {
		t.Fatal(err)
	}
	// 9E is the central meridian of zone 32; the false easting is 500km
	x, _ := crs.ToProjected(9, 50)
	if math.Abs(x-500000) > 1 {
		t.Errorf("expected easting 500000 on the central meridian, got %v", x)
	}
}

func TestCRSFromEPSG(t *testing.T) {
	crs, err := CRSFromEPSG(32632)
	if err != nil {
		t.Fatal(err)
	}
	if crs.EPSG != 32632 {
		t.Errorf("expected EPSG 32632, got %d", crs.EPSG)
	}
	ref, _ := ResolveCRS(50, 10)
	x0, y0 := ref.ToProjected(10, 50)
	x1, y1 := crs.ToProjected(10, 50)
	if math.Abs(x0-x1) > 1e-6 || math.Abs(y0-y1) > 1e-6 {
		t.Errorf("EPSG 32632 disagrees with the resolved zone: (%v, %v) vs (%v, %v)", x1, y1, x0, y0)
	}

	if _, err := CRSFromEPSG(99999); err == nil {
		t.Errorf("expected an error for an unknown EPSG code")
	}
}
