package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/araddon/dateparse"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkt"
)

const objectsPageLimit = 1000

// ObjectsProvider lists the product folders of an S3 bucket where scenes are
// laid out one folder per product, e.g. the usgs-landsat public bucket.
// PrefixTemplate builds the listing prefix and may use {COLLECTION} and
// {YEAR}, e.g. "collection02/level-1/standard/{COLLECTION}/{YEAR}/".
// MetadataSuffix names an optional STAC item next to the product
// ({prefix}{sourceID}{suffix}, e.g. "_stac.json") refining date, cloud cover
// and footprint of the scene.
type ObjectsProvider struct {
	Bucket          string
	PrefixTemplate  string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RequesterPays   bool
	MetadataSuffix  string
	Collections     []string // collections hosted by the bucket, all if empty
}

// Name implements SceneProvider
func (p *ObjectsProvider) Name() string {
	return "S3Objects"
}

// SearchScenes implements SceneProvider
func (p *ObjectsProvider) SearchScenes(ctx context.Context, query catalog.Query) ([]common.Scene, error) {
	collection := query.Collection.String()
	if len(p.Collections) != 0 && !contains(p.Collections, collection) {
		return nil, catalog.ErrCollectionNotFound{Collection: collection}
	}

	client, err := p.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("SearchScenes(S3Objects).%w", err)
	}

	var scenes []common.Scene
	for _, prefix := range p.prefixes(collection, query) {
		prefixScenes, err := p.listProducts(ctx, client, prefix, query)
		if err != nil {
			return nil, fmt.Errorf("SearchScenes(S3Objects)[%s].%w", prefix, err)
		}
		scenes = append(scenes, prefixScenes...)
	}
	return clientPage(scenes, query.Page, query.Limit), nil
}

func (p *ObjectsProvider) client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if p.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, "")))
	}
	if p.Region != "" {
		opts = append(opts, config.WithRegion(p.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("LoadDefaultConfig: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// prefixes expands the template, one prefix per year of the query when the
// template is year-partitioned.
func (p *ObjectsProvider) prefixes(collection string, query catalog.Query) []string {
	info := map[string]string{"COLLECTION": collection}
	if !strings.Contains(p.PrefixTemplate, "{YEAR}") || query.StartTime.IsZero() || query.EndTime.IsZero() {
		return []string{common.FormatBrackets(p.PrefixTemplate, info)}
	}
	var prefixes []string
	for year := query.StartTime.Year(); year <= query.EndTime.Year(); year++ {
		info["YEAR"] = strconv.Itoa(year)
		prefixes = append(prefixes, common.FormatBrackets(p.PrefixTemplate, info))
	}
	return prefixes
}

func (p *ObjectsProvider) listProducts(ctx context.Context, client *s3.Client, prefix string, query catalog.Query) ([]common.Scene, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	if p.RequesterPays {
		input.RequestPayer = "requester"
	}

	paginator := s3.NewListObjectsV2Paginator(client, input,
		func(o *s3.ListObjectsV2PaginatorOptions) {
			o.Limit = objectsPageLimit
		},
	)

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 10 * 1024 * 1024 // 10MB per part
	})

	var scenes []common.Scene
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listProducts.NextPage: %w", err)
		}
		for _, product := range page.CommonPrefixes {
			productPrefix := aws.ToString(product.Prefix)
			sourceID := path.Base(strings.TrimSuffix(productPrefix, "/"))
			date, err := common.GetDateFromProductId(sourceID)
			if err != nil {
				continue // not a product folder
			}
			if !query.StartTime.IsZero() && date.Before(query.StartTime) {
				continue
			}
			if !query.EndTime.IsZero() && date.After(query.EndTime) {
				continue
			}
			scene := common.Scene{
				SourceID: sourceID,
				Data: common.SceneAttrs{
					Date:   date,
					Assets: map[string]string{"product": fmt.Sprintf("s3://%s/%s", p.Bucket, productPrefix)},
					Tags: map[string]string{
						common.TagSourceID:      sourceID,
						common.TagConstellation: common.GetConstellationFromProductId(sourceID).String(),
					},
				},
			}
			if p.MetadataSuffix != "" {
				if err := p.loadMetadata(ctx, downloader, productPrefix, &scene); err != nil {
					return nil, fmt.Errorf("listProducts.%w", err)
				}
			}
			scenes = append(scenes, scene)
		}
	}
	return scenes, nil
}

// stacSidecar is the subset of a STAC item stored alongside the product.
type stacSidecar struct {
	Properties map[string]interface{} `json:"properties"`
	Geometry   *geojson.Geometry      `json:"geometry"`
}

// loadMetadata refines the scene with the STAC item of the product folder.
// A product without a sidecar keeps its listing-derived attributes.
func (p *ObjectsProvider) loadMetadata(ctx context.Context, downloader *manager.Downloader, productPrefix string, scene *common.Scene) error {
	key := productPrefix + scene.SourceID + p.MetadataSuffix
	input := &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	}
	if p.RequesterPays {
		input.RequestPayer = "requester"
	}

	buf := manager.NewWriteAtBuffer(nil)
	if _, err := downloader.Download(ctx, buf, input); err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil
		}
		return fmt.Errorf("loadMetadata[%s]: %w", key, err)
	}

	sidecar := stacSidecar{}
	if err := json.Unmarshal(buf.Bytes(), &sidecar); err != nil {
		return fmt.Errorf("loadMetadata[%s]: %w", key, err)
	}
	if datetime, ok := sidecar.Properties["datetime"].(string); ok {
		date, err := dateparse.ParseAny(datetime)
		if err != nil {
			return fmt.Errorf("loadMetadata[%s].datetime: %w", key, err)
		}
		scene.Data.Date = date
		scene.Data.Tags[common.TagIngestionDate] = date.Format(time.RFC3339)
	}
	if cloudCover, ok := sidecar.Properties["eo:cloud_cover"].(float64); ok {
		scene.Data.CloudCover = cloudCover
		scene.Data.Tags[common.TagCloudCoverPercentage] = fmt.Sprintf("%v", cloudCover)
	}
	if sidecar.Geometry != nil && sidecar.Geometry.Geometry != nil {
		scene.Data.GeometryWKT = wkt.MustEncode(sidecar.Geometry.Geometry)
	}
	return nil
}
