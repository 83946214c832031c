package cube

import (
	"fmt"
	"sort"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/footprint"
)

// EmptyCubeError reports that not a single patch could be assembled.
type EmptyCubeError struct {
	Dropped int
}

func (e EmptyCubeError) Error() string {
	if e.Dropped == 0 {
		return "empty cube: no scene matched the request"
	}
	return fmt.Sprintf("empty cube: all %d patches failed", e.Dropped)
}

// Cube is a [time, band, y, x] stack of patches over one footprint.
// Data is row-major: the pixel [t, b, j, i] lives at ((t*B+b)*H+j)*W+i.
type Cube struct {
	Data     []float64
	Shape    [4]int // time, bands, height, width
	TimeAxis []time.Time
	Bands    []string
	XAxis    []float64 // western pixel edges, ascending
	YAxis    []float64 // northern pixel edges, descending (row 0 is north)
	// Distance is the distance of each pixel center to the request center
	// ([height*width], row-major), empty when the request had no center.
	Distance []float64
	Attrs    common.CubeAttrs
}

// At returns the pixel [t, b, j, i].
func (c *Cube) At(t, b, j, i int) float64 {
	return c.Data[((t*c.Shape[1]+b)*c.Shape[2]+j)*c.Shape[3]+i]
}

// Slice returns the [band, y, x] block of one timestep, sharing the cube memory.
func (c *Cube) Slice(t int) []float64 {
	stride := c.Shape[1] * c.Shape[2] * c.Shape[3]
	return c.Data[t*stride : (t+1)*stride]
}

// Assemble stacks the fetched patches along the time axis, oldest first.
// Failed patches are dropped and counted in the attributes; patches sharing a
// timestamp keep their fetch order. A patch of an unexpected shape fails the
// whole assembly. Assembling zero patches returns an EmptyCubeError.
func Assemble(results []common.PatchResult, bands []string, fp *footprint.Footprint, attrs common.CubeAttrs) (*Cube, error) {
	patches := make([]common.PatchResult, 0, len(results))
	for _, result := range results {
		if result.OK() {
			patches = append(patches, result)
		}
	}
	if len(patches) == 0 {
		return nil, EmptyCubeError{Dropped: len(results)}
	}

	want := [3]int{len(bands), fp.Height, fp.Width}
	for _, p := range patches {
		if p.Patch.Shape != want {
			return nil, fmt.Errorf("Assemble: patch %s has shape %v, want %v", p.SceneID, p.Patch.Shape, want)
		}
	}

	sort.SliceStable(patches, func(i, j int) bool { return patches[i].Timestamp.Before(patches[j].Timestamp) })

	stride := want[0] * want[1] * want[2]
	cube := &Cube{
		Data:     make([]float64, len(patches)*stride),
		Shape:    [4]int{len(patches), want[0], want[1], want[2]},
		TimeAxis: make([]time.Time, len(patches)),
		Bands:    bands,
		Distance: DistanceField(fp),
		Attrs:    attrs,
	}
	cube.XAxis, cube.YAxis = fp.Axes()
	for k, p := range patches {
		copy(cube.Data[k*stride:], p.Patch.Data)
		cube.TimeAxis[k] = p.Timestamp
	}

	cube.Attrs.Bands = bands
	cube.Attrs.EPSG = fp.CRS.EPSG
	cube.Attrs.Width = fp.Width
	cube.Attrs.Height = fp.Height
	cube.Attrs.AcquiredFrom = cube.TimeAxis[0]
	cube.Attrs.AcquiredTo = cube.TimeAxis[len(cube.TimeAxis)-1]
	cube.Attrs.DroppedScenes = len(results) - len(patches)
	cube.Attrs.SceneIDs = make([]string, len(patches))
	for k, p := range patches {
		cube.Attrs.SceneIDs[k] = p.SceneID
	}
	return cube, nil
}
