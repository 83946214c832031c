package footprint

import (
	"fmt"
	"math"

	"github.com/wroge/wgs84"
)

// ZoneResolutionError reports a point that no UTM zone covers.
type ZoneResolutionError struct {
	Lat, Lon float64
}

func (e ZoneResolutionError) Error() string {
	return fmt.Sprintf("no UTM zone covers (%g, %g): latitude must be in [-80, 84]", e.Lat, e.Lon)
}

// CRS is a projected coordinate reference system with transforms from and to
// geographic WGS84 coordinates. Build it with ResolveCRS or CRSFromEPSG.
type CRS struct {
	EPSG    int
	forward wgs84.Func
	inverse wgs84.Func
}

// ToProjected transforms geographic lon/lat (degrees) to projected x/y.
func (c CRS) ToProjected(lon, lat float64) (x, y float64) {
	x, y, _ = c.forward(lon, lat, 0)
	return x, y
}

// ToGeographic transforms projected x/y to geographic lon/lat (degrees).
func (c CRS) ToGeographic(x, y float64) (lon, lat float64) {
	lon, lat, _ = c.inverse(x, y, 0)
	return lon, lat
}

// ResolveCRS deterministically picks the UTM zone containing the point:
// 6-degree longitudinal bands with the southern-Norway and Svalbard
// exceptions, EPSG 326xx in the northern hemisphere, 327xx in the southern.
// Every corner of a footprint is transformed through the single CRS resolved
// here, never through a neighbouring zone.
func ResolveCRS(lat, lon float64) (CRS, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lon, 0) || lat < -80 || lat > 84 {
		return CRS{}, ZoneResolutionError{Lat: lat, Lon: lon}
	}
	zone := utmZone(lat, lon)
	if lat >= 0 {
		return utmCRS(32600+zone, zone, true), nil
	}
	return utmCRS(32700+zone, zone, false), nil
}

// CRSFromEPSG resolves a projected CRS from its EPSG code, for footprints
// aligned on an external grid.
func CRSFromEPSG(epsg int) (CRS, error) {
	switch {
	case epsg >= 32601 && epsg <= 32660:
		return utmCRS(epsg, epsg-32600, true), nil
	case epsg >= 32701 && epsg <= 32760:
		return utmCRS(epsg, epsg-32700, false), nil
	}
	crs := wgs84.EPSG().Code(epsg)
	if crs == nil {
		return CRS{}, fmt.Errorf("CRSFromEPSG: unsupported EPSG code %d", epsg)
	}
	return CRS{
		EPSG:    epsg,
		forward: wgs84.Transform(wgs84.LonLat(), crs),
		inverse: wgs84.Transform(crs, wgs84.LonLat()),
	}, nil
}

func utmCRS(epsg, zone int, northern bool) CRS {
	utm := wgs84.UTM(float64(zone), northern)
	return CRS{
		EPSG:    epsg,
		forward: wgs84.LonLat().To(utm),
		inverse: utm.To(wgs84.LonLat()),
	}
}

func utmZone(lat, lon float64) int {
	// normalize longitude to [-180, 180)
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	lon -= 180

	zone := int((lon+180)/6) + 1
	if zone > 60 {
		zone = 60
	}
	// southern Norway: zone 32 is widened westwards over the 31/32 boundary
	if lat >= 56 && lat < 64 && lon >= 3 && lon < 12 {
		return 32
	}
	// Svalbard: zones 32, 34 and 36 are not used
	if lat >= 72 {
		switch {
		case lon >= 0 && lon < 9:
			return 31
		case lon >= 9 && lon < 21:
			return 33
		case lon >= 21 && lon < 33:
			return 35
		case lon >= 33 && lon < 42:
			return 37
		}
	}
	return zone
}
