package cube

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"
	"time"

	"github.com/airbusgeo/minicube/common"
)

// Files of a cube bundle
const (
	AttrsFile    = "attrs.json"
	AxesFile     = "axes.json"
	DataFile     = "data.raw"
	DistanceFile = "distance.raw"
)

// bundleAxes is the content of axes.json.
type bundleAxes struct {
	Shape [4]int      `json:"shape"`
	Time  []time.Time `json:"time"`
	Bands []string    `json:"bands"`
	X     []float64   `json:"x"`
	Y     []float64   `json:"y"`
}

// WriteBundle lays the cube out in dir: attrs.json, axes.json and the pixels
// as raw little-endian float64 (data.raw, plus distance.raw when the cube
// carries a distance field).
func WriteBundle(dir string, c *Cube) error {
	if err := os.MkdirAll(dir, 0766); err != nil {
		return fmt.Errorf("WriteBundle.MkdirAll: %w", err)
	}

	attrs, err := json.MarshalIndent(c.Attrs, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteBundle.Marshal: %w", err)
	}
	if err := os.WriteFile(path.Join(dir, AttrsFile), attrs, 0644); err != nil {
		return fmt.Errorf("WriteBundle: %w", err)
	}

	axes, err := json.MarshalIndent(bundleAxes{Shape: c.Shape, Time: c.TimeAxis, Bands: c.Bands, X: c.XAxis, Y: c.YAxis}, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteBundle.Marshal: %w", err)
	}
	if err := os.WriteFile(path.Join(dir, AxesFile), axes, 0644); err != nil {
		return fmt.Errorf("WriteBundle: %w", err)
	}

	if err := os.WriteFile(path.Join(dir, DataFile), encodeFloats(c.Data), 0644); err != nil {
		return fmt.Errorf("WriteBundle: %w", err)
	}
	if len(c.Distance) != 0 {
		if err := os.WriteFile(path.Join(dir, DistanceFile), encodeFloats(c.Distance), 0644); err != nil {
			return fmt.Errorf("WriteBundle: %w", err)
		}
	}
	return nil
}

// ReadBundle loads a cube bundle written by WriteBundle.
func ReadBundle(dir string) (*Cube, error) {
	cube := &Cube{}

	attrs, err := os.ReadFile(path.Join(dir, AttrsFile))
	if err != nil {
		return nil, fmt.Errorf("ReadBundle: %w", err)
	}
	if err := json.Unmarshal(attrs, &cube.Attrs); err != nil {
		return nil, fmt.Errorf("ReadBundle.Unmarshal(%s): %w", AttrsFile, err)
	}

	rawAxes, err := os.ReadFile(path.Join(dir, AxesFile))
	if err != nil {
		return nil, fmt.Errorf("ReadBundle: %w", err)
	}
	var axes bundleAxes
	if err := json.Unmarshal(rawAxes, &axes); err != nil {
		return nil, fmt.Errorf("ReadBundle.Unmarshal(%s): %w", AxesFile, err)
	}
	cube.Shape = axes.Shape
	cube.TimeAxis = axes.Time
	cube.Bands = axes.Bands
	cube.XAxis = axes.X
	cube.YAxis = axes.Y

	data, err := os.ReadFile(path.Join(dir, DataFile))
	if err != nil {
		return nil, fmt.Errorf("ReadBundle: %w", err)
	}
	if cube.Data, err = decodeFloats(data); err != nil {
		return nil, fmt.Errorf("ReadBundle(%s): %w", DataFile, err)
	}
	if size := cube.Shape[0] * cube.Shape[1] * cube.Shape[2] * cube.Shape[3]; len(cube.Data) != size {
		return nil, fmt.Errorf("ReadBundle: %d pixels do not fill shape %v", len(cube.Data), cube.Shape)
	}

	distance, err := os.ReadFile(path.Join(dir, DistanceFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("ReadBundle: %w", err)
		}
	} else if cube.Distance, err = decodeFloats(distance); err != nil {
		return nil, fmt.Errorf("ReadBundle(%s): %w", DistanceFile, err)
	}
	return cube, nil
}

// BundleName returns the canonical directory name of a cube bundle.
func BundleName(attrs common.CubeAttrs) string {
	return fmt.Sprintf("cube_%s_%dx%d_%s", attrs.Collection, attrs.Width, attrs.Height, attrs.AcquiredFrom.Format("20060102"))
}

func encodeFloats(values []float64) []byte {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return raw
}

func decodeFloats(raw []byte) ([]float64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("decodeFloats: %d bytes do not contain whole float64 values", len(raw))
	}
	values := make([]float64, len(raw)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return values, nil
}
