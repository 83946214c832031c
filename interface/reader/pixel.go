package reader

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/service"
	"github.com/golang/snappy"
)

// Response headers of the pixel service
const (
	HeaderPatchDType = "X-Patch-Dtype"
	HeaderPatchShape = "X-Patch-Shape"
)

// PixelService is a PatchReader extracting patches from a pixel service.
// The service takes a PatchRequest and answers the pixels of the window as a
// snappy-compressed little-endian payload, typed and shaped by the response headers.
type PixelService struct {
	endpoint string
	client   *http.Client
}

// NewPixelService creates a PatchReader querying the pixel service at endpoint.
// client carries the authentication (see service.NewAuthClient); if nil, the default client is used.
func NewPixelService(endpoint string, client *http.Client) *PixelService {
	if client == nil {
		client = http.DefaultClient
	}
	return &PixelService{endpoint: strings.TrimSuffix(endpoint, "/"), client: client}
}

// Name implements PatchReader
func (s *PixelService) Name() string {
	return "PixelService"
}

// ReadPatch implements PatchReader
func (s *PixelService) ReadPatch(ctx context.Context, req common.PatchRequest) (*common.Patch, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ReadPatch.Marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.endpoint+"/v1/patch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ReadPatch.NewRequest: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("ReadPatch[%s]: %w", req.SceneID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("ReadPatch[%s]: %s: %s", req.SceneID, resp.Status, strings.TrimSpace(string(msg)))
		switch resp.StatusCode {
		case 408, 429, 500, 501, 502, 503, 504:
			return nil, service.MakeTemporary(err)
		default:
			return nil, err
		}
	}

	shape, err := parseShape(resp.Header.Get(HeaderPatchShape))
	if err != nil {
		return nil, fmt.Errorf("ReadPatch[%s]: %w", req.SceneID, err)
	}
	compressed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("ReadPatch[%s]: %w", req.SceneID, err))
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("ReadPatch[%s].Decode: %w", req.SceneID, err)
	}
	pixels, err := DecodePixels(DType(resp.Header.Get(HeaderPatchDType)), binary.LittleEndian, raw)
	if err != nil {
		return nil, fmt.Errorf("ReadPatch[%s]: %w", req.SceneID, err)
	}
	patch, err := ValidatePatch(req, shape, pixels)
	if err != nil {
		return nil, fmt.Errorf("ReadPatch[%s]: %w", req.SceneID, err)
	}
	return patch, nil
}

// parseShape reads the "bands,height,width" shape header.
func parseShape(header string) ([3]int, error) {
	dims := strings.Split(header, ",")
	if len(dims) != 3 {
		return [3]int{}, fmt.Errorf("parseShape: expected 3 dimensions, got %q", header)
	}
	var shape [3]int
	for i, dim := range dims {
		v, err := strconv.Atoi(strings.TrimSpace(dim))
		if err != nil {
			return [3]int{}, fmt.Errorf("parseShape: %q: %w", header, err)
		}
		shape[i] = v
	}
	return shape, nil
}

// EncodePatch is the reverse of ReadPatch's decoding, writing a patch the way
// the pixel service answers it (float64 little-endian, snappy-compressed).
// It serves the test servers and the local bundle export.
func EncodePatch(patch *common.Patch) (shape string, payload []byte) {
	raw := make([]byte, 8*len(patch.Data))
	for i, v := range patch.Data {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return fmt.Sprintf("%d,%d,%d", patch.Shape[0], patch.Shape[1], patch.Shape[2]), snappy.Encode(nil, raw)
}
