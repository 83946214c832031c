package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/airbusgeo/minicube/service"
	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkt"
)

// Default paging of a STAC search endpoint
const (
	DefaultCatalogLimit = 500
	DefaultClientLimit  = 1000
)

// Provider searches scenes on a STAC catalog (POST {endpoint}/search).
// Collections maps public collection names to the ids of the catalog; a
// request by handle bypasses the map.
type Provider struct {
	Endpoint    string
	Collections map[string]string
	User        string
	Pswd        string
	Token       string
	Limit       int           // catalog page size, DefaultCatalogLimit if 0
	Client      *http.Client  // http.DefaultClient if nil
	RetryWait   time.Duration // initial backoff of a failed search, 1s if 0
}

type stacSearch struct {
	Intersects  geojson.Geometry       `json:"intersects,omitempty"`
	Query       map[string]interface{} `json:"query,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Collections []string               `json:"collections"`
	Limit       int                    `json:"limit,omitempty"`
	Page        int                    `json:"page,omitempty"`
}

type stacSearchData struct {
	Features       []stacFeature `json:"features"`
	NumberMatched  int           `json:"numberMatched"`
	NumberReturned int           `json:"numberReturned"`
}

type stacFeature struct {
	Id         string                 `json:"id"`
	Properties map[string]interface{} `json:"properties"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Assets     map[string]stacAsset   `json:"assets"`
}

type stacAsset struct {
	Href  string `json:"href"`
	Title string `json:"title"`
}

// Name implements SceneProvider
func (p *Provider) Name() string {
	return "STAC"
}

// SearchScenes implements SceneProvider
func (p *Provider) SearchScenes(ctx context.Context, query catalog.Query) ([]common.Scene, error) {
	collection, err := p.collectionID(query.Collection)
	if err != nil {
		return nil, err
	}

	req := stacSearch{
		Intersects:  geojson.Geometry{Geometry: query.AOI},
		Query:       map[string]interface{}{},
		Datetime:    datetimeRange(query.StartTime, query.EndTime),
		Collections: []string{collection},
	}
	for key, value := range query.Filters {
		if key == "cloudcoverpercentage" {
			vs := strings.Split(strings.Trim(value[1:], "]"), " TO ")
			if len(vs) != 2 {
				return nil, fmt.Errorf("SearchScenes(STAC): cloudcoverpercentage must be '[Min TO Max]'")
			}
			min, errMin := strconv.Atoi(vs[0])
			max, errMax := strconv.Atoi(vs[1])
			if errMin != nil || errMax != nil {
				return nil, fmt.Errorf("SearchScenes(STAC): cloudcoverpercentage values must be integers: %s/%s", vs[0], vs[1])
			}
			req.Query["eo:cloud_cover"] = map[string]int{"lte": max, "gte": min}
			continue
		}
		req.Query[key] = map[string]interface{}{"eq": value}
	}

	features, err := p.querySTAC(ctx, req, query.Page, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("SearchScenes(STAC).%w", err)
	}

	scenes := make([]common.Scene, 0, len(features))
	for _, feature := range features {
		scene, err := p.toScene(feature)
		if err != nil {
			return nil, fmt.Errorf("SearchScenes(STAC).%w", err)
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

func (p *Provider) collectionID(c common.Collection) (string, error) {
	if c.Handle != "" {
		return c.Handle, nil
	}
	if id, ok := p.Collections[c.Name]; ok {
		return id, nil
	}
	return "", catalog.ErrCollectionNotFound{Collection: c.String()}
}

func (p *Provider) toScene(feature stacFeature) (common.Scene, error) {
	properties := feature.Properties

	var date time.Time
	if datetime, ok := properties["datetime"].(string); ok {
		var err error
		if date, err = dateparse.ParseAny(datetime); err != nil {
			return common.Scene{}, fmt.Errorf("parse datetime of %s: %w", feature.Id, err)
		}
	} else if d, err := common.GetDateFromProductId(feature.Id); err == nil {
		date = d
	} else {
		return common.Scene{}, fmt.Errorf("no datetime for %s", feature.Id)
	}

	assets := make(map[string]string, len(feature.Assets))
	for name, asset := range feature.Assets {
		assets[name] = asset.Href
	}

	tags := map[string]string{
		common.TagSourceID:      feature.Id,
		common.TagIngestionDate: date.Format(time.RFC3339),
	}
	if constellation := common.GetConstellationFromProductId(feature.Id); constellation != common.Unknown {
		tags[common.TagConstellation] = constellation.String()
	}

	scene := common.Scene{
		SourceID: feature.Id,
		Data: common.SceneAttrs{
			Date:   date,
			Assets: assets,
			Tags:   tags,
		},
	}
	if cloudCover, ok := properties["eo:cloud_cover"].(float64); ok {
		scene.Data.CloudCover = cloudCover
		tags[common.TagCloudCoverPercentage] = fmt.Sprintf("%v", cloudCover)
	}
	if feature.Geometry != nil && feature.Geometry.Geometry != nil {
		scene.Data.GeometryWKT = wkt.MustEncode(feature.Geometry.Geometry)
	}
	return scene, nil
}

func (p *Provider) querySTAC(ctx context.Context, searchReq stacSearch, clientPage, clientLimit int) ([]stacFeature, error) {
	catalogLimit := p.Limit
	if catalogLimit == 0 {
		catalogLimit = DefaultCatalogLimit
	}
	if clientLimit == 0 {
		clientLimit = DefaultClientLimit
	}
	retryWait := p.RetryWait
	if retryWait == 0 {
		retryWait = time.Second
	}

	var features []stacFeature
	for _, pageToQuery := range service.ComputePagesToQuery(clientPage, clientLimit, catalogLimit) {
		searchReq.Limit = pageToQuery.Limit
		searchReq.Page = pageToQuery.Page + 1

		body, err := json.Marshal(searchReq)
		if err != nil {
			return nil, fmt.Errorf("querySTAC.Marshal: %w", err)
		}

		search := &stacSearchData{}
		if err := service.Retriable(ctx, func() error {
			return p.post(ctx, body, search)
		}, retryWait, 4); err != nil {
			return nil, fmt.Errorf("querySTAC.%w", err)
		}

		features = append(features, service.QueryGetResult(&pageToQuery, search.Features)...)
		if search.NumberReturned < pageToQuery.Limit {
			break
		}
	}
	return features, nil
}

// post runs one search request. Server-side errors are retriable, anything
// else aborts the search.
func (p *Provider) post(ctx context.Context, body []byte, result *stacSearchData) error {
	resp, err := service.HTTPPostWithAuth(ctx, p.Client, p.Endpoint+"/search", bytes.NewReader(body), p.User, p.Pswd, p.Token)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("post: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 408 && resp.StatusCode != 429 {
			return service.MakeFatal(err)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return service.MakeFatal(fmt.Errorf("post.Decode: %w", err))
	}
	return nil
}

func datetimeRange(start, end time.Time) string {
	from, to := "..", ".."
	if !start.IsZero() {
		from = start.UTC().Format(time.RFC3339)
	}
	if !end.IsZero() {
		to = end.UTC().Format(time.RFC3339)
	}
	return from + "/" + to
}
