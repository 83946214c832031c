package bucket

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/airbusgeo/geocube/interface/storage/uri"
	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/airbusgeo/minicube/service"
	"github.com/airbusgeo/osio"
	osioGcs "github.com/airbusgeo/osio/gcs"
	osioS3 "github.com/airbusgeo/osio/s3"
	"github.com/araddon/dateparse"
)

// ManifestProvider searches scenes in a JSONL manifest stored on a local disk,
// an http(s) server, GCS or S3. Pattern is the manifest uri with a
// {COLLECTION} placeholder,
// e.g. gs://my-catalog/{COLLECTION}.jsonl. Each line describes one scene.
type ManifestProvider struct {
	Pattern     string
	Collections []string // collections hosted by the manifests, all if empty
}

type manifestRecord struct {
	Id         string            `json:"id"`
	Datetime   string            `json:"datetime"`
	Geometry   string            `json:"geometry"`
	CloudCover float64           `json:"cloud_cover"`
	Assets     map[string]string `json:"assets"`
	Tags       map[string]string `json:"tags"`
}

// Name implements SceneProvider
func (p *ManifestProvider) Name() string {
	return "Manifest"
}

// SearchScenes implements SceneProvider
func (p *ManifestProvider) SearchScenes(ctx context.Context, query catalog.Query) ([]common.Scene, error) {
	collection := query.Collection.String()
	if len(p.Collections) != 0 && !contains(p.Collections, collection) {
		return nil, catalog.ErrCollectionNotFound{Collection: collection}
	}

	file := common.FormatBrackets(p.Pattern, map[string]string{"COLLECTION": collection})
	r, err := openObject(ctx, file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, catalog.ErrCollectionNotFound{Collection: collection}
		}
		return nil, fmt.Errorf("SearchScenes(Manifest)[%s]: %w", file, err)
	}
	defer r.Close()

	var scenes []common.Scene
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024) // scene geometries can exceed the default token size
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		record := manifestRecord{}
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("SearchScenes(Manifest)[%s:%d]: %w", file, line, err)
		}
		scene, err := toScene(record)
		if err != nil {
			return nil, fmt.Errorf("SearchScenes(Manifest)[%s:%d]: %w", file, line, err)
		}
		if !query.StartTime.IsZero() && scene.Data.Date.Before(query.StartTime) {
			continue
		}
		if !query.EndTime.IsZero() && scene.Data.Date.After(query.EndTime) {
			continue
		}
		scenes = append(scenes, scene)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("SearchScenes(Manifest)[%s]: %w", file, err)
	}

	return clientPage(scenes, query.Page, query.Limit), nil
}

func toScene(record manifestRecord) (common.Scene, error) {
	if record.Id == "" {
		return common.Scene{}, fmt.Errorf("scene without id")
	}

	var date time.Time
	var err error
	if record.Datetime != "" {
		date, err = dateparse.ParseAny(record.Datetime)
	} else {
		date, err = common.GetDateFromProductId(record.Id)
	}
	if err != nil {
		return common.Scene{}, fmt.Errorf("no datetime for %s: %w", record.Id, err)
	}

	tags := map[string]string{
		common.TagSourceID:      record.Id,
		common.TagIngestionDate: date.Format(time.RFC3339),
	}
	if constellation := common.GetConstellationFromProductId(record.Id); constellation != common.Unknown {
		tags[common.TagConstellation] = constellation.String()
	}
	for k, v := range record.Tags {
		tags[k] = v
	}

	return common.Scene{
		SourceID: record.Id,
		Data: common.SceneAttrs{
			Date:        date,
			GeometryWKT: record.Geometry,
			CloudCover:  record.CloudCover,
			Assets:      record.Assets,
			Tags:        tags,
		},
	}, nil
}

// openObject opens a local file, an http(s) url, a GCS or an S3 object for
// reading.
func openObject(ctx context.Context, file string) (io.ReadCloser, error) {
	if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") {
		body, err := service.GetBodyRetry(file, 3)
		if err != nil {
			return nil, fmt.Errorf("GetBodyRetry: %w", err)
		}
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	fileUri, err := uri.ParseUri(file)
	if err != nil {
		return nil, fmt.Errorf("ParseUri: %w", err)
	}

	protocol := strings.ToLower(fileUri.Protocol())
	switch protocol {
	case "file", "":
		return os.Open(strings.TrimPrefix(file, "file://"))
	case "gs", "s3":
		var handler osio.KeyStreamerAt
		if protocol == "gs" {
			if handler, err = osioGcs.Handle(ctx); err != nil {
				return nil, fmt.Errorf("GCSHandle: %w", err)
			}
		} else {
			if handler, err = osioS3.Handle(ctx); err != nil {
				return nil, fmt.Errorf("S3Handle: %w", err)
			}
		}
		adapter, err := osio.NewAdapter(handler)
		if err != nil {
			return nil, fmt.Errorf("NewAdapter: %w", err)
		}
		obj, err := adapter.Reader(path.Join(fileUri.Bucket(), fileUri.Path()))
		if err != nil {
			return nil, fmt.Errorf("Reader: %w", err)
		}
		return io.NopCloser(io.NewSectionReader(obj, 0, obj.Size())), nil
	}
	return nil, fmt.Errorf("unsupported protocol: %s", protocol)
}

// clientPage keeps the rows of the requested page. Limit 0 keeps everything.
func clientPage(scenes []common.Scene, page, limit int) []common.Scene {
	if limit <= 0 {
		return scenes
	}
	lo := page * limit
	if lo >= len(scenes) {
		return nil
	}
	hi := lo + limit
	if hi > len(scenes) {
		hi = len(scenes)
	}
	return scenes[lo:hi]
}

func contains(l []string, s string) bool {
	for _, e := range l {
		if e == s {
			return true
		}
	}
	return false
}
