package common

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Concurrency bounds of the fetch scheduler
const (
	DefaultConcurrency = 200
	MaxConcurrency     = 1024
)

// GeoPoint is a geographic position in degrees (WGS84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CubeRequest is the payload of a cube job. It is the body of POST /cube and
// POST /jobs.
// The geometry is either a center point with an edge size, or a bounding box.
type CubeRequest struct {
	Collection  Collection        `json:"collection"`
	Bands       Bands             `json:"bands"`
	Center      *GeoPoint         `json:"center,omitempty"`
	BBox        []float64         `json:"bbox,omitempty"` // min lon, min lat, max lon, max lat
	EdgeSize    EdgeSize          `json:"edge_size,omitempty"`
	Resolution  float64           `json:"resolution"` // projected units (meters) per pixel
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Concurrency int               `json:"concurrency,omitempty"` // 0 for DefaultConcurrency
	Filters     map[string]string `json:"filters,omitempty"`     // provider-specific scene filters
}

// Validate checks the request before any network access.
func (r CubeRequest) Validate() error {
	if r.Collection.IsZero() {
		return InvalidInputf("collection is required")
	}
	if _, err := NormalizeBands(r.Bands); err != nil {
		return err
	}
	if (r.Center == nil) == (len(r.BBox) == 0) {
		return InvalidInputf("exactly one of center and bbox is required")
	}
	if r.Center != nil && r.EdgeSize.Value <= 0 {
		return InvalidInputf("a positive edge size is required with a center point")
	}
	if len(r.BBox) != 0 && len(r.BBox) != 4 {
		return InvalidInputf("bbox: expected [minlon, minlat, maxlon, maxlat], got %d values", len(r.BBox))
	}
	if len(r.BBox) == 4 && (r.BBox[0] >= r.BBox[2] || r.BBox[1] >= r.BBox[3]) {
		return InvalidInputf("bbox: min corner must be strictly south-west of max corner")
	}
	if r.Resolution <= 0 {
		return InvalidInputf("resolution must be positive")
	}
	if !r.EndTime.IsZero() && r.EndTime.Before(r.StartTime) {
		return InvalidInputf("end time is before start time")
	}
	if r.Concurrency < 0 || r.Concurrency > MaxConcurrency {
		return InvalidInputf("concurrency must be in [1, %d], or 0 for the default (%d)", MaxConcurrency, DefaultConcurrency)
	}
	return nil
}

// Scene is one catalog item: a scene available for retrieval over the footprint.
type Scene struct {
	SourceID string     `json:"source_id"`
	Data     SceneAttrs `json:"data,omitempty"`
}

// SceneAttrs is the metadata of a scene gathered from the catalog.
type SceneAttrs struct {
	UUID        string            `json:"uuid,omitempty"`
	Date        time.Time         `json:"date"`
	GeometryWKT string            `json:"geometry_wkt,omitempty"`
	CloudCover  float64           `json:"cloud_cover,omitempty"`
	Assets      map[string]string `json:"assets,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// PatchRequest is the unit of work of the fetch scheduler: one scene to read
// over the resolved footprint. West/North anchor the pixel grid; ResX/ResY
// are the positive pixel sizes along x and y.
type PatchRequest struct {
	SceneID   string    `json:"scene_id"`
	Timestamp time.Time `json:"timestamp"`
	Bands     []string  `json:"bands"`
	EPSG      int       `json:"epsg"`
	West      float64   `json:"west"`
	North     float64   `json:"north"`
	ResX      float64   `json:"res_x"`
	ResY      float64   `json:"res_y"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// Patch is one fetched raster: the pixels of all requested bands over the
// footprint for one scene. Data is band-major, then row-major from the
// northern edge.
type Patch struct {
	Data  []float64
	Shape [3]int // bands, height, width
}

// PatchResult is the outcome of one PatchRequest. Err is nil on success and
// carries the final cause after retries otherwise; a result is never retried
// once reported.
type PatchResult struct {
	SceneID   string
	Timestamp time.Time
	Patch     *Patch
	Err       error
}

// OK returns whether the patch was successfully fetched.
func (r PatchResult) OK() bool {
	return r.Err == nil
}

// CubeAttrs is the provenance attached to an assembled cube.
// Center fields are only set when the request had a center point.
type CubeAttrs struct {
	Collection    string    `json:"collection"`
	EPSG          int       `json:"epsg"`
	Resolution    float64   `json:"resolution"`
	RequestedEdge string    `json:"requested_edge,omitempty"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Bands         []string  `json:"bands"`
	CenterLat     *float64  `json:"center_lat,omitempty"`
	CenterLon     *float64  `json:"center_lon,omitempty"`
	CenterX       *float64  `json:"center_x,omitempty"`
	CenterY       *float64  `json:"center_y,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	AcquiredFrom  time.Time `json:"acquired_from"`
	AcquiredTo    time.Time `json:"acquired_to"`
	SceneIDs      []string  `json:"scene_ids"`
	DroppedScenes int       `json:"dropped_scenes"`
}

// CubeJob is the message riding the job queue: a persisted cube request and
// the id of the job tracking it.
type CubeJob struct {
	JobID   string      `json:"job_id"`
	Request CubeRequest `json:"request"`
}

// JobResult is the event published when a job finishes (or is requeued).
type JobResult struct {
	JobID     string     `json:"job_id"`
	Status    JobStatus  `json:"status"`
	Message   string     `json:"message,omitempty"`
	ResultURI string     `json:"result_uri,omitempty"`
	Attrs     *CubeAttrs `json:"attrs,omitempty"`
}

// Value implements the driver.Value interface
func (r CubeRequest) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface.
func (r *CubeRequest) Scan(value interface{}) error {
	if value == nil {
		*r = CubeRequest{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &r)
}

// Value implements the driver.Value interface
func (a CubeAttrs) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface.
func (a *CubeAttrs) Scan(value interface{}) error {
	if value == nil {
		*a = CubeAttrs{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &a)
}
