package bucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/catalog"
)

const testManifest = `{"id":"S2A_MSIL2A_20250605T103021_N0511_R108_T31TCJ_20250605T123456","datetime":"2025-06-05T10:30:21Z","cloud_cover":12.5,"assets":{"B04":"gs://scenes/0605/B04.tif"},"geometry":"POLYGON((1.4 43.5,1.5 43.5,1.5 43.6,1.4 43.6,1.4 43.5))"}
{"id":"S2B_MSIL2A_20250610T103019_N0511_R108_T31TCJ_20250610T123456","datetime":"2025-06-10T10:30:19Z","cloud_cover":3}

{"id":"S2A_MSIL2A_20250615T103021_N0511_R108_T31TCJ_20250615T123456"}
{"id":"S2B_MSIL2A_20250620T103019_N0511_R108_T31TCJ_20250620T123456","datetime":"2025-06-20T10:30:19Z"}
`

func testProvider(t *testing.T) *ManifestProvider {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sentinel2-l2a.jsonl"), []byte(testManifest), 0644); err != nil {
		t.Fatal(err)
	}
	return &ManifestProvider{Pattern: filepath.Join(dir, "{COLLECTION}.jsonl")}
}

func TestManifestSearchScenes(t *testing.T) {
	p := testProvider(t)
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("sentinel2-l2a"),
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if len(scenes) != 4 {
		t.Fatalf("excepted 4 scenes, got %d", len(scenes))
	}

	first := scenes[0]
	if !first.Data.Date.Equal(time.Date(2025, 6, 5, 10, 30, 21, 0, time.UTC)) {
		t.Errorf("unexcepted date %v", first.Data.Date)
	}
	if first.Data.CloudCover != 12.5 {
		t.Errorf("excepted cloud cover 12.5, got %g", first.Data.CloudCover)
	}
	if first.Data.Assets["B04"] != "gs://scenes/0605/B04.tif" {
		t.Errorf("excepted the asset href, got %v", first.Data.Assets)
	}
	if first.Data.GeometryWKT == "" {
		t.Errorf("excepted a geometry")
	}
	if first.Data.Tags[common.TagConstellation] != common.Sentinel2.String() {
		t.Errorf("excepted a %s tag, got %v", common.Sentinel2, first.Data.Tags)
	}

	// record without datetime falls back on the product id
	if !scenes[2].Data.Date.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexcepted fallback date %v", scenes[2].Data.Date)
	}
}

func TestManifestTimeFilter(t *testing.T) {
	p := testProvider(t)
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("sentinel2-l2a"),
		StartTime:  time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("excepted 2 scenes, got %d", len(scenes))
	}
	if scenes[0].SourceID[0:26] != "S2B_MSIL2A_20250610T103019" {
		t.Errorf("unexcepted first scene %s", scenes[0].SourceID)
	}
}

func TestManifestPaging(t *testing.T) {
	p := testProvider(t)
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("sentinel2-l2a"),
		Page:       1,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("excepted 2 scenes, got %d", len(scenes))
	}
	if scenes[0].SourceID[0:26] != "S2A_MSIL2A_20250615T103021" {
		t.Errorf("unexcepted first scene of the page: %s", scenes[0].SourceID)
	}

	scenes, err = p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("sentinel2-l2a"),
		Page:       4,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if len(scenes) != 0 {
		t.Errorf("excepted an empty page, got %d scenes", len(scenes))
	}
}

func TestManifestHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sentinel2-l2a.jsonl" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, testManifest)
	}))
	defer srv.Close()

	p := &ManifestProvider{Pattern: srv.URL + "/{COLLECTION}.jsonl"}
	scenes, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("sentinel2-l2a"),
	})
	if err != nil {
		t.Fatalf("SearchScenes: %v", err)
	}
	if len(scenes) != 4 {
		t.Fatalf("excepted 4 scenes, got %d", len(scenes))
	}
}

func TestManifestCollectionNotFound(t *testing.T) {
	p := testProvider(t)
	p.Collections = []string{"another-collection"}
	_, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("sentinel2-l2a"),
	})
	var notFound catalog.ErrCollectionNotFound
	if err == nil || !errors.As(err, &notFound) {
		t.Fatalf("excepted ErrCollectionNotFound, got %v", err)
	}

	// a collection without a manifest is not hosted either
	p.Collections = nil
	_, err = p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("no-such-collection"),
	})
	if err == nil || !errors.As(err, &notFound) {
		t.Fatalf("excepted ErrCollectionNotFound, got %v", err)
	}
}

func TestManifestBadRecord(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.jsonl"), []byte("{not json}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p := &ManifestProvider{Pattern: filepath.Join(dir, "{COLLECTION}.jsonl")}
	_, err := p.SearchScenes(context.Background(), catalog.Query{
		Collection: common.CollectionByName("broken"),
	})
	if err == nil {
		t.Fatalf("excepted an error")
	}
}
