package stacker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/footprint"
	"github.com/airbusgeo/minicube/service"
	"github.com/airbusgeo/minicube/service/log"
	"github.com/cavaliercoder/grab"
)

// Request asks a stacking service to build a whole cube from the scene
// assets over a fixed window.
type Request struct {
	Scenes []common.Scene `json:"scenes"`
	Bands  []string       `json:"bands"`
	EPSG   int            `json:"epsg"`
	West   float64        `json:"west"`
	North  float64        `json:"north"`
	ResX   float64        `json:"res_x"`
	ResY   float64        `json:"res_y"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
}

// NewRequest builds the stack request of the scenes over the footprint window.
func NewRequest(fp *footprint.Footprint, scenes []common.Scene, bands []string) Request {
	return Request{
		Scenes: scenes,
		Bands:  bands,
		EPSG:   fp.CRS.EPSG,
		West:   fp.West,
		North:  fp.North,
		ResX:   fp.ResX,
		ResY:   fp.ResY,
		Width:  fp.Width,
		Height: fp.Height,
	}
}

// Descriptor describes a stack built by the service: the realized window and
// the url of the zipped cube bundle.
type Descriptor struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timesteps int    `json:"timesteps"`
	Artifact  string `json:"artifact"`
}

// Stacker builds cubes remotely from scene assets.
type Stacker interface {
	// Stack submits the request and returns the stack descriptor.
	Stack(ctx context.Context, req Request) (*Descriptor, error)
	// DownloadArtifact retrieves the stacked bundle into localDir and
	// returns its local path.
	DownloadArtifact(ctx context.Context, d *Descriptor, localDir string) (string, error)
	Name() string
}

// Service implements Stacker against an HTTP stacking service
// (POST {endpoint}/v1/stack).
type Service struct {
	endpoint string
	client   *http.Client
}

// NewService creates a Stacker on the given endpoint. A nil client uses
// http.DefaultClient.
func NewService(endpoint string, client *http.Client) *Service {
	if client == nil {
		client = http.DefaultClient
	}
	return &Service{endpoint: strings.TrimSuffix(endpoint, "/"), client: client}
}

// Name implements Stacker
func (s *Service) Name() string {
	return "Stacker"
}

// Stack implements Stacker
func (s *Service) Stack(ctx context.Context, req Request) (*Descriptor, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("Stack.Marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.endpoint+"/v1/stack", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Stack.NewRequest: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("Stack: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("Stack: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		switch resp.StatusCode {
		case 408, 429, 500, 501, 502, 503, 504:
			return nil, service.MakeTemporary(err)
		default:
			return nil, err
		}
	}

	d := &Descriptor{}
	if err := json.NewDecoder(resp.Body).Decode(d); err != nil {
		return nil, fmt.Errorf("Stack.Decode: %w", err)
	}
	if d.Artifact == "" {
		return nil, fmt.Errorf("Stack: descriptor without artifact")
	}
	return d, nil
}

// DownloadArtifact implements Stacker
func (s *Service) DownloadArtifact(ctx context.Context, d *Descriptor, localDir string) (string, error) {
	localZip := path.Join(localDir, path.Base(d.Artifact))
	req, err := grab.NewRequest(localZip, d.Artifact)
	if err != nil {
		return "", fmt.Errorf("DownloadArtifact.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)

	client := grab.NewClient()
	resp := client.Do(req)

	displayProgress(ctx, "Stacker:"+path.Base(d.Artifact), resp, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("DownloadArtifact[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return "", service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 408, 429, 500, 501, 502, 503, 504:
			return "", service.MakeTemporary(err)
		default:
			return "", err
		}
	}
	return localZip, nil
}

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

// displayProgress logs the download progress every progressPeriod
func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				progress += progressPeriod
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}
