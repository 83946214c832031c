package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/minicube/catalog"
	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/cube"
	"github.com/airbusgeo/minicube/fetch"
	"github.com/airbusgeo/minicube/footprint"
	"github.com/airbusgeo/minicube/interface/reader"
	"github.com/airbusgeo/minicube/interface/stacker"
	"github.com/airbusgeo/minicube/service"
	"github.com/airbusgeo/minicube/service/log"
	"github.com/google/uuid"
	"github.com/mholt/archiver"
)

// ResolveFootprint projects the request geometry into its CRS and aligns it
// on the resolution grid, without any network access.
func ResolveFootprint(req common.CubeRequest) (*footprint.Footprint, error) {
	if (req.Center == nil) == (len(req.BBox) == 0) {
		return nil, common.InvalidInputf("exactly one of center and bbox is required")
	}
	if req.Center != nil {
		edgePx, _, err := footprint.EdgePixels(req.EdgeSize, req.Resolution)
		if err != nil {
			return nil, err
		}
		return footprint.FromCenter(req.Center.Lat, req.Center.Lon, edgePx, req.Resolution)
	}
	if len(req.BBox) != 4 {
		return nil, common.InvalidInputf("bbox: expected [minlon, minlat, maxlon, maxlat], got %d values", len(req.BBox))
	}
	return footprint.FromBBox(req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3], req.Resolution)
}

// CreateCube builds the cube of a request: it resolves the footprint, lists
// the scenes covering it and fetches one patch per scene through the reader.
// With a stacker, the cube is built remotely from the scene assets and
// downloaded as a bundle into workdir; any stacker failure falls back on the
// patch-by-patch build. workdir is unused without a stacker.
func CreateCube(ctx context.Context, ctlg *catalog.Catalog, rdr reader.PatchReader, stk stacker.Stacker, req common.CubeRequest, workdir string) (*cube.Cube, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("CreateCube.%w", err)
	}
	bands, err := common.NormalizeBands(req.Bands)
	if err != nil {
		return nil, fmt.Errorf("CreateCube.%w", err)
	}
	fp, err := ResolveFootprint(req)
	if err != nil {
		return nil, fmt.Errorf("CreateCube.%w", err)
	}
	log.Logger(ctx).Sugar().Infof("footprint %dx%dpx at %gm (epsg:%d)", fp.Width, fp.Height, req.Resolution, fp.CRS.EPSG)
	if fp.Center == nil {
		log.Logger(ctx).Sugar().Warnf("no center point: the distance field of the cube is skipped")
	}

	scenes, err := ctlg.ResolveScenes(ctx, catalog.Query(req, fp))
	if err != nil {
		return nil, fmt.Errorf("CreateCube.%w", err)
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("CreateCube: no scene found for %s in [%s, %s]",
			req.Collection.String(), req.StartTime.Format("2006-01-02"), req.EndTime.Format("2006-01-02"))
	}

	attrs := newAttrs(req, fp)

	if stk != nil {
		c, err := stackedCube(ctx, stk, fp, scenes, bands, attrs, workdir)
		if err == nil {
			return c, nil
		}
		log.Logger(ctx).Sugar().Warnf("%s: %v (building the cube locally)", stk.Name(), err)
	}

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = common.DefaultConcurrency
	}
	scheduler, err := fetch.NewScheduler(rdr, concurrency)
	if err != nil {
		return nil, fmt.Errorf("CreateCube.%w", err)
	}
	log.Logger(ctx).Sugar().Infof("fetching %d patches from %s", len(scenes), rdr.Name())
	results, err := scheduler.Fetch(ctx, catalog.PatchRequests(fp, scenes, bands))
	if err != nil {
		return nil, fmt.Errorf("CreateCube.%w", err)
	}
	dropped := service.StringSet{}
	for _, result := range results {
		if result.Err != nil {
			dropped.Push(result.SceneID)
		}
	}
	if len(dropped) != 0 {
		log.Logger(ctx).Sugar().Warnf("%d patches dropped: %s", len(dropped), strings.Join(dropped.Slice(), " "))
	}
	c, err := cube.Assemble(results, bands, fp, attrs)
	if err != nil {
		return nil, fmt.Errorf("CreateCube.%w", err)
	}
	return c, nil
}

// ProcessJob builds the cube of a job and stores its bundle. It returns the
// storage uri of the bundle and the attributes of the cube.
func ProcessJob(ctx context.Context, ctlg *catalog.Catalog, rdr reader.PatchReader, stk stacker.Stacker, storageService service.Storage, jobID string, req common.CubeRequest, workdir string) (string, common.CubeAttrs, error) {
	// Working dir
	workdir = filepath.Join(workdir, uuid.New().String())
	if err := os.MkdirAll(workdir, 0766); err != nil {
		return "", common.CubeAttrs{}, service.MakeTemporary(fmt.Errorf("make directory %s: %w", workdir, err))
	}
	defer os.RemoveAll(workdir)

	c, err := CreateCube(ctx, ctlg, rdr, stk, req, workdir)
	if err != nil {
		return "", common.CubeAttrs{}, fmt.Errorf("ProcessJob[%s].%w", jobID, err)
	}

	bundleDir := filepath.Join(workdir, cube.BundleName(c.Attrs))
	if err := cube.WriteBundle(bundleDir, c); err != nil {
		return "", common.CubeAttrs{}, service.MakeTemporary(fmt.Errorf("ProcessJob[%s].%w", jobID, err))
	}

	log.Logger(ctx).Sugar().Infof("storing bundle %s", filepath.Base(bundleDir))
	uri, err := storageService.SaveBundle(ctx, jobID, bundleDir)
	if err != nil {
		return "", common.CubeAttrs{}, service.MakeTemporary(fmt.Errorf("ProcessJob[%s].%w", jobID, err))
	}
	return uri, c.Attrs, nil
}

// stackedCube builds the cube through the stacking service and loads the
// downloaded bundle back.
func stackedCube(ctx context.Context, stk stacker.Stacker, fp *footprint.Footprint, scenes []common.Scene, bands []string, attrs common.CubeAttrs, workdir string) (*cube.Cube, error) {
	d, err := stk.Stack(ctx, stacker.NewRequest(fp, scenes, bands))
	if err != nil {
		return nil, fmt.Errorf("stackedCube.%w", err)
	}
	if d.Width != fp.Width || d.Height != fp.Height {
		log.Logger(ctx).Sugar().Warnf("%s realized %dx%dpx instead of %dx%dpx", stk.Name(), d.Width, d.Height, fp.Width, fp.Height)
	}

	localZip, err := stk.DownloadArtifact(ctx, d, workdir)
	if err != nil {
		return nil, fmt.Errorf("stackedCube.%w", err)
	}
	defer os.Remove(localZip)

	stackDir := filepath.Join(workdir, "stack")
	zip := archiver.Zip{OverwriteExisting: true, MkdirAll: true}
	if err := zip.Unarchive(localZip, stackDir); err != nil {
		return nil, fmt.Errorf("stackedCube.Unarchive: %w", err)
	}
	bundleDir, err := bundleRoot(stackDir)
	if err != nil {
		return nil, fmt.Errorf("stackedCube.%w", err)
	}
	c, err := cube.ReadBundle(bundleDir)
	if err != nil {
		return nil, fmt.Errorf("stackedCube.%w", err)
	}

	// The stacking service only knows the window; the request provenance is ours.
	c.Attrs.Collection = attrs.Collection
	c.Attrs.Resolution = attrs.Resolution
	c.Attrs.RequestedEdge = attrs.RequestedEdge
	c.Attrs.CenterLat, c.Attrs.CenterLon = attrs.CenterLat, attrs.CenterLon
	c.Attrs.CenterX, c.Attrs.CenterY = attrs.CenterX, attrs.CenterY
	c.Attrs.StartTime, c.Attrs.EndTime = attrs.StartTime, attrs.EndTime
	if c.Attrs.DroppedScenes == 0 && c.Shape[0] < len(scenes) {
		c.Attrs.DroppedScenes = len(scenes) - c.Shape[0]
	}
	if fp.Center != nil && len(c.Distance) == 0 && c.Shape[2] == fp.Height && c.Shape[3] == fp.Width {
		c.Distance = cube.DistanceField(fp)
	}
	return c, nil
}

// bundleRoot locates the bundle in an unzipped artifact, either directly at
// the root or as its single top-level directory.
func bundleRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, cube.AttrsFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("bundleRoot: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return "", fmt.Errorf("bundleRoot: no %s in %s", cube.AttrsFile, dir)
}

// newAttrs records the request side of the cube provenance. Assemble fills
// the realized side.
func newAttrs(req common.CubeRequest, fp *footprint.Footprint) common.CubeAttrs {
	attrs := common.CubeAttrs{
		Collection: req.Collection.String(),
		Resolution: req.Resolution,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	}
	if req.Center != nil {
		attrs.RequestedEdge = req.EdgeSize.String()
		lat, lon := req.Center.Lat, req.Center.Lon
		attrs.CenterLat, attrs.CenterLon = &lat, &lon
		x, y := fp.Center.X, fp.Center.Y
		attrs.CenterX, attrs.CenterY = &x, &y
	}
	return attrs
}
