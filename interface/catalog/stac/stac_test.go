package stac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/go-spatial/geom"
)

func testAOI() geom.Polygon {
	return geom.Polygon{{{1.4, 43.5}, {1.5, 43.5}, {1.5, 43.6}, {1.4, 43.6}, {1.4, 43.5}}}
}

func testFeature(id, datetime string, cloudCover float64) map[string]interface{} {
	return map[string]interface{}{
		"id": id,
		"properties": map[string]interface{}{
			"datetime":       datetime,
			"eo:cloud_cover": cloudCover,
		},
		"geometry": map[string]interface{}{
			"type":        "Polygon",
			"coordinates": [][][]float64{{{1.4, 43.5}, {1.5, 43.5}, {1.5, 43.6}, {1.4, 43.6}, {1.4, 43.5}}},
		},
		"assets": map[string]interface{}{
			"B04": map[string]string{"href": "s3://scenes/B04.tif", "title": "Band 4"},
		},
	}
}

func writeSearchData(w http.ResponseWriter, features ...map[string]interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"features":       features,
		"numberReturned": len(features),
	})
}

func TestSearchScenes(t *testing.T) {
	var gotSearch stacSearch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/search" {
			t.Errorf("excepted POST /search, got %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotSearch); err != nil {
			t.Errorf("decode search: %v", err)
		}
		writeSearchData(w,
			testFeature("S2A_MSIL2A_20250605T103021_N0511_R108_T31TCJ_20250605T123456", "2025-06-05T10:30:21Z", 12.5),
			testFeature("S2B_MSIL2A_20250610T103019_N0511_R108_T31TCJ_20250610T123456", "2025-06-10T10:30:19Z", 3),
		)
	}))
	defer srv.Close()

	p := &Provider{
		Endpoint:    srv.URL,
		Collections: map[string]string{"sentinel2-l2a": "sentinel-2-l2a"},
	}
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("sentinel2-l2a"),
		AOI:        testAOI(),
		StartTime:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		Filters:    map[string]string{"cloudcoverpercentage": "[0 TO 40]"},
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}

	if len(gotSearch.Collections) != 1 || gotSearch.Collections[0] != "sentinel-2-l2a" {
		t.Errorf("excepted the resolved collection id, got %v", gotSearch.Collections)
	}
	if gotSearch.Datetime != "2025-06-01T00:00:00Z/2025-06-30T00:00:00Z" {
		t.Errorf("excepted the datetime range, got %q", gotSearch.Datetime)
	}
	if _, ok := gotSearch.Query["eo:cloud_cover"]; !ok {
		t.Errorf("excepted the cloud cover filter, got %v", gotSearch.Query)
	}

	if len(scenes) != 2 {
		t.Fatalf("excepted 2 scenes, got %d", len(scenes))
	}
	first := scenes[0]
	if first.SourceID != "S2A_MSIL2A_20250605T103021_N0511_R108_T31TCJ_20250605T123456" {
		t.Errorf("unexcepted source id %s", first.SourceID)
	}
	if !first.Data.Date.Equal(time.Date(2025, 6, 5, 10, 30, 21, 0, time.UTC)) {
		t.Errorf("unexcepted date %v", first.Data.Date)
	}
	if first.Data.CloudCover != 12.5 {
		t.Errorf("excepted cloud cover 12.5, got %g", first.Data.CloudCover)
	}
	if first.Data.Assets["B04"] != "s3://scenes/B04.tif" {
		t.Errorf("excepted the asset href, got %v", first.Data.Assets)
	}
	if first.Data.GeometryWKT == "" {
		t.Errorf("excepted a geometry")
	}
	if first.Data.Tags[common.TagConstellation] != common.Sentinel2.String() {
		t.Errorf("excepted a %s tag, got %v", common.Sentinel2, first.Data.Tags)
	}
}

func TestSearchScenesWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var search stacSearch
		if err := json.NewDecoder(r.Body).Decode(&search); err != nil {
			t.Errorf("decode search: %v", err)
		}
		features := make([]map[string]interface{}, search.Limit)
		for i := range features {
			row := (search.Page-1)*search.Limit + i
			features[i] = testFeature(fmt.Sprintf("scene-%d", row), "2025-06-05T10:30:00Z", 0)
		}
		writeSearchData(w, features...)
	}))
	defer srv.Close()

	p := &Provider{Endpoint: srv.URL, Limit: 2}
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionHandle("sentinel-2-l2a"),
		AOI:        testAOI(),
		Page:       1,
		Limit:      3,
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if len(scenes) != 3 {
		t.Fatalf("excepted 3 scenes, got %d", len(scenes))
	}
	for i, id := range []string{"scene-3", "scene-4", "scene-5"} {
		if scenes[i].SourceID != id {
			t.Errorf("excepted scenes[%d]=%s, got %s", i, id, scenes[i].SourceID)
		}
	}
}

func TestSearchScenesAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pswd, ok := r.BasicAuth()
		if !ok || user != "user" || pswd != "pswd" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		writeSearchData(w, testFeature("scene-0", "2025-06-05T10:30:00Z", 0))
	}))
	defer srv.Close()

	p := &Provider{Endpoint: srv.URL, User: "user", Pswd: "pswd"}
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionHandle("sentinel-2-l2a"),
		AOI:        testAOI(),
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if len(scenes) != 1 {
		t.Errorf("excepted 1 scene, got %d", len(scenes))
	}
}

func TestSearchScenesCollectionNotFound(t *testing.T) {
	p := &Provider{Endpoint: "http://localhost:0", Collections: map[string]string{}}
	_, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("no-such-collection"),
		AOI:        testAOI(),
	})
	var notFound catalog.ErrCollectionNotFound
	if err == nil || !errors.As(err, &notFound) {
		t.Fatalf("excepted ErrCollectionNotFound, got %v", err)
	}
	if notFound.Collection != "no-such-collection" {
		t.Errorf("excepted the collection in the error, got %q", notFound.Collection)
	}
}

func TestSearchScenesRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeSearchData(w, testFeature("scene-0", "2025-06-05T10:30:00Z", 0))
	}))
	defer srv.Close()

	p := &Provider{Endpoint: srv.URL, RetryWait: time.Microsecond}
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionHandle("sentinel-2-l2a"),
		AOI:        testAOI(),
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if calls != 2 {
		t.Errorf("excepted 2 calls, got %d", calls)
	}
	if len(scenes) != 1 {
		t.Errorf("excepted 1 scene, got %d", len(scenes))
	}
}

func TestSearchScenesClientErrorIsFinal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such collection", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := &Provider{Endpoint: srv.URL, RetryWait: time.Microsecond}
	_, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionHandle("nope"),
		AOI:        testAOI(),
	})
	if err == nil {
		t.Fatalf("excepted an error")
	}
	if calls != 1 {
		t.Errorf("excepted a single call, got %d", calls)
	}
}
