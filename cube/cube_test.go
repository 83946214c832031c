package cube

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/footprint"
)

func centerFootprint(t *testing.T, edgePx int) *footprint.Footprint {
	t.Helper()
	fp, err := footprint.FromCenter(43.6, 1.44, edgePx, 10)
	if err != nil {
		t.Fatalf("FromCenter: %v", err)
	}
	return fp
}

func patchOf(id string, timestamp time.Time, fill float64, shape [3]int) common.PatchResult {
	data := make([]float64, shape[0]*shape[1]*shape[2])
	for i := range data {
		data[i] = fill
	}
	return common.PatchResult{SceneID: id, Timestamp: timestamp, Patch: &common.Patch{Data: data, Shape: shape}}
}

func TestAssembleSortsByTime(t *testing.T) {
	fp := centerFootprint(t, 4)
	shape := [3]int{1, 4, 4}
	t0 := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	results := []common.PatchResult{
		patchOf("late", t0.AddDate(0, 0, 10), 3, shape),
		patchOf("early", t0, 1, shape),
		patchOf("middle", t0.AddDate(0, 0, 5), 2, shape),
	}

	cube, err := Assemble(results, []string{"B04"}, fp, common.CubeAttrs{Collection: "sentinel2-l2a"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if cube.Shape != [4]int{3, 1, 4, 4} {
		t.Fatalf("excepted shape [3 1 4 4], got %v", cube.Shape)
	}
	for k := 1; k < len(cube.TimeAxis); k++ {
		if cube.TimeAxis[k].Before(cube.TimeAxis[k-1]) {
			t.Errorf("excepted an ascending time axis, got %v", cube.TimeAxis)
		}
	}
	for k, fill := range []float64{1, 2, 3} {
		if cube.At(k, 0, 0, 0) != fill {
			t.Errorf("excepted timestep %d filled with %g, got %g", k, fill, cube.At(k, 0, 0, 0))
		}
	}
	if cube.Attrs.SceneIDs[0] != "early" || cube.Attrs.SceneIDs[2] != "late" {
		t.Errorf("excepted scene ids in acquisition order, got %v", cube.Attrs.SceneIDs)
	}
	if !cube.Attrs.AcquiredFrom.Equal(t0) || !cube.Attrs.AcquiredTo.Equal(t0.AddDate(0, 0, 10)) {
		t.Errorf("excepted acquisition range [%v, %v], got [%v, %v]", t0, t0.AddDate(0, 0, 10), cube.Attrs.AcquiredFrom, cube.Attrs.AcquiredTo)
	}
}

func TestAssembleStableOnTies(t *testing.T) {
	fp := centerFootprint(t, 4)
	shape := [3]int{1, 4, 4}
	t0 := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	results := []common.PatchResult{
		patchOf("z-first", t0, 1, shape),
		patchOf("a-second", t0, 2, shape),
	}

	cube, err := Assemble(results, []string{"B04"}, fp, common.CubeAttrs{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if cube.Attrs.SceneIDs[0] != "z-first" || cube.Attrs.SceneIDs[1] != "a-second" {
		t.Errorf("excepted ties to keep the fetch order, got %v", cube.Attrs.SceneIDs)
	}
	if cube.At(0, 0, 0, 0) != 1 || cube.At(1, 0, 0, 0) != 2 {
		t.Errorf("excepted pixels in fetch order on ties")
	}
}

func TestAssembleDropsFailures(t *testing.T) {
	fp := centerFootprint(t, 4)
	shape := [3]int{2, 4, 4}
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	results := []common.PatchResult{
		patchOf("ok-1", t0, 1, shape),
		{SceneID: "lost", Timestamp: t0.AddDate(0, 0, 1), Err: errors.New("gone")},
		patchOf("ok-2", t0.AddDate(0, 0, 2), 2, shape),
		patchOf("ok-3", t0.AddDate(0, 0, 3), 3, shape),
	}

	cube, err := Assemble(results, []string{"B04", "B08"}, fp, common.CubeAttrs{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if cube.Shape[0] != 3 {
		t.Errorf("excepted 3 timesteps, got %d", cube.Shape[0])
	}
	if cube.Attrs.DroppedScenes != 1 {
		t.Errorf("excepted 1 dropped scene, got %d", cube.Attrs.DroppedScenes)
	}
	for _, id := range cube.Attrs.SceneIDs {
		if id == "lost" {
			t.Errorf("excepted the failed scene to be dropped, got %v", cube.Attrs.SceneIDs)
		}
	}
}

func TestAssembleEmptyCube(t *testing.T) {
	fp := centerFootprint(t, 4)

	results := []common.PatchResult{
		{SceneID: "a", Err: errors.New("gone")},
		{SceneID: "b", Err: errors.New("gone")},
	}
	_, err := Assemble(results, []string{"B04"}, fp, common.CubeAttrs{})
	var empty EmptyCubeError
	if err == nil || !errors.As(err, &empty) {
		t.Fatalf("excepted an EmptyCubeError, got %v", err)
	}
	if empty.Dropped != 2 {
		t.Errorf("excepted 2 dropped scenes, got %d", empty.Dropped)
	}

	if _, err := Assemble(nil, []string{"B04"}, fp, common.CubeAttrs{}); !errors.As(err, &empty) {
		t.Errorf("excepted an EmptyCubeError on no results, got %v", err)
	}
}

func TestAssembleShapeMismatch(t *testing.T) {
	fp := centerFootprint(t, 4)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	results := []common.PatchResult{
		patchOf("good", t0, 1, [3]int{1, 4, 4}),
		patchOf("truncated", t0.AddDate(0, 0, 1), 2, [3]int{1, 3, 4}),
	}
	_, err := Assemble(results, []string{"B04"}, fp, common.CubeAttrs{})
	if err == nil {
		t.Fatalf("excepted a shape error")
	}
	var empty EmptyCubeError
	if errors.As(err, &empty) {
		t.Errorf("excepted a fatal assembly error, not an empty cube")
	}
}

func TestAssembleAxes(t *testing.T) {
	fp := centerFootprint(t, 4)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	cube, err := Assemble([]common.PatchResult{patchOf("a", t0, 1, [3]int{1, 4, 4})}, []string{"B04"}, fp, common.CubeAttrs{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(cube.XAxis) != 4 || len(cube.YAxis) != 4 {
		t.Fatalf("excepted 4x4 axes, got %dx%d", len(cube.XAxis), len(cube.YAxis))
	}
	if cube.XAxis[0] != fp.West || cube.XAxis[1]-cube.XAxis[0] != fp.ResX {
		t.Errorf("excepted x from the western edge by %g, got %v", fp.ResX, cube.XAxis)
	}
	if cube.YAxis[0] != fp.North || cube.YAxis[0]-cube.YAxis[1] != fp.ResY {
		t.Errorf("excepted y from the northern edge by -%g, got %v", fp.ResY, cube.YAxis)
	}
}

func TestDistanceField(t *testing.T) {
	// Even edge: the center falls on a pixel corner, the nearest pixel
	// center is half a diagonal away.
	fp := centerFootprint(t, 4)
	field := DistanceField(fp)
	if len(field) != 16 {
		t.Fatalf("excepted 16 distances, got %d", len(field))
	}
	min, max := field[0], field[0]
	for _, d := range field {
		min, max = math.Min(min, d), math.Max(max, d)
	}
	if math.Abs(min-math.Hypot(5, 5)) > 1e-9 {
		t.Errorf("excepted min distance %g, got %g", math.Hypot(5, 5), min)
	}
	if math.Abs(max-math.Hypot(15, 15)) > 1e-9 {
		t.Errorf("excepted max distance %g, got %g", math.Hypot(15, 15), max)
	}

	// Odd edge: the central pixel sits on the center.
	fp = centerFootprint(t, 3)
	field = DistanceField(fp)
	if field[4] != 0 {
		t.Errorf("excepted the central pixel at distance 0, got %g", field[4])
	}
	if math.Abs(field[0]-math.Hypot(10, 10)) > 1e-9 {
		t.Errorf("excepted the corner pixel at %g, got %g", math.Hypot(10, 10), field[0])
	}
}

func TestDistanceFieldNoCenter(t *testing.T) {
	fp, err := footprint.FromBBox(1.44, 43.6, 1.441, 43.601, 10)
	if err != nil {
		t.Fatalf("FromBBox: %v", err)
	}
	if field := DistanceField(fp); field != nil {
		t.Errorf("excepted no distance field without a center, got %d values", len(field))
	}

	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	shape := [3]int{1, fp.Height, fp.Width}
	cube, err := Assemble([]common.PatchResult{patchOf("a", t0, 1, shape)}, []string{"B04"}, fp, common.CubeAttrs{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if cube.Distance != nil {
		t.Errorf("excepted no distance field on a bbox cube")
	}
}
