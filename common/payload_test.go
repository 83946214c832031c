package common

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validRequest() CubeRequest {
	return CubeRequest{
		Collection: CollectionByName("sentinel-2-l2a"),
		Bands:      Bands{"B04", "B03", "B02"},
		Center:     &GeoPoint{Lat: 50, Lon: 10},
		EdgeSize:   EdgeSize{Value: 32, Unit: UnitPixel},
		Resolution: 10,
		StartTime:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCubeRequestValidate(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	r := validRequest()
	r.Collection = Collection{}
	if err := r.Validate(); err == nil {
		t.Errorf("missing collection accepted")
	}

	r = validRequest()
	r.Bands = nil
	if err := r.Validate(); err == nil {
		t.Errorf("missing bands accepted")
	}

	r = validRequest()
	r.BBox = []float64{10, 50, 10.5, 50.5}
	if err := r.Validate(); err == nil {
		t.Errorf("center and bbox together accepted")
	}

	r = validRequest()
	r.Center = nil
	if err := r.Validate(); err == nil {
		t.Errorf("missing geometry accepted")
	}

	r = validRequest()
	r.Center = nil
	r.BBox = []float64{10.5, 50, 10, 50.5}
	if err := r.Validate(); err == nil {
		t.Errorf("inverted bbox accepted")
	}

	r = validRequest()
	r.Resolution = 0
	if err := r.Validate(); err == nil {
		t.Errorf("zero resolution accepted")
	}

	r = validRequest()
	r.EndTime = r.StartTime.Add(-time.Hour)
	if err := r.Validate(); err == nil {
		t.Errorf("inverted time range accepted")
	}

	r = validRequest()
	r.Concurrency = MaxConcurrency + 1
	if err := r.Validate(); err == nil {
		t.Errorf("out-of-range concurrency accepted")
	}

	var iie InvalidInputError
	r = validRequest()
	r.Resolution = -1
	if err := r.Validate(); !errors.As(err, &iie) {
		t.Errorf("expected an InvalidInputError, got %T", err)
	}
}

func TestEdgeSizeParse(t *testing.T) {
	for _, tc := range []struct {
		in    string
		value float64
		unit  string
	}{
		{"512", 512, UnitPixel},
		{"512px", 512, UnitPixel},
		{"5000 m", 5000, UnitMeter},
		{"1.2km", 1.2, UnitKilometer},
	} {
		e, err := ParseEdgeSize(tc.in)
		if err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if e.Value != tc.value || e.Unit != tc.unit {
			t.Errorf("%s: got %v %s", tc.in, e.Value, e.Unit)
		}
	}
	if _, err := ParseEdgeSize("no-digits"); err == nil {
		t.Errorf("expected an error for a non-numeric edge size")
	}
}

func TestEdgeSizeJSON(t *testing.T) {
	var e EdgeSize
	if err := json.Unmarshal([]byte(`64`), &e); err != nil || e.Value != 64 || e.Unit != UnitPixel {
		t.Errorf("number: got %v %s (%v)", e.Value, e.Unit, err)
	}
	if err := json.Unmarshal([]byte(`"500 m"`), &e); err != nil || e.Value != 500 || e.Unit != UnitMeter {
		t.Errorf("string: got %v %s (%v)", e.Value, e.Unit, err)
	}
}

func TestBandsJSON(t *testing.T) {
	var b Bands
	if err := json.Unmarshal([]byte(`"B04"`), &b); err != nil || len(b) != 1 || b[0] != "B04" {
		t.Errorf("single band: got %v (%v)", b, err)
	}
	if err := json.Unmarshal([]byte(`["B04","B03"]`), &b); err != nil || len(b) != 2 {
		t.Errorf("band list: got %v (%v)", b, err)
	}
}

func TestNormalizeBands(t *testing.T) {
	b, err := NormalizeBands(Bands{" B04", "B03 ", ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[0] != "B04" || b[1] != "B03" {
		t.Errorf("got %v", b)
	}
	if _, err := NormalizeBands(Bands{"B04", "B04"}); err == nil {
		t.Errorf("duplicated band accepted")
	}
	if _, err := NormalizeBands(Bands{""}); err == nil {
		t.Errorf("empty band list accepted")
	}
}

func TestCollectionJSON(t *testing.T) {
	var c Collection
	if err := json.Unmarshal([]byte(`"sentinel-2-l2a"`), &c); err != nil || c.Name != "sentinel-2-l2a" {
		t.Errorf("bare string: got %+v (%v)", c, err)
	}
	if err := json.Unmarshal([]byte(`{"handle":"S2_L2A"}`), &c); err != nil || c.Handle != "S2_L2A" {
		t.Errorf("handle: got %+v (%v)", c, err)
	}
	if err := json.Unmarshal([]byte(`{"name":"a","handle":"b"}`), &c); err == nil {
		t.Errorf("name+handle accepted")
	}
	if CollectionHandle("S2_L2A").String() != "S2_L2A" {
		t.Errorf("String() should prefer the handle")
	}
}

func TestCubeRequestSQLRoundTrip(t *testing.T) {
	r := validRequest()
	v, err := r.Value()
	if err != nil {
		t.Fatal(err)
	}
	var got CubeRequest
	if err := got.Scan(v); err != nil {
		t.Fatal(err)
	}
	if got.Collection.Name != r.Collection.Name || got.Resolution != r.Resolution || len(got.Bands) != len(r.Bands) {
		t.Errorf("got %+v", got)
	}
}
