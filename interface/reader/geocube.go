package reader

import (
	"context"
	"encoding/binary"
	"fmt"

	geocube "github.com/airbusgeo/geocube-client-go/client"
	pb "github.com/airbusgeo/geocube-client-go/pb"
	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/service"
)

// Geocube is a PatchReader extracting patches from a Geocube server.
// Scenes must be indexed as records: the scene id of a PatchRequest is the id
// of its record. instances maps each band name to the variable instance
// serving it.
type Geocube struct {
	client    *geocube.Client
	instances map[string]string
}

// NewGeocube creates a PatchReader on a Geocube connection (see service.NewGeocubeClient).
func NewGeocube(client *geocube.Client, instances map[string]string) *Geocube {
	return &Geocube{client: client, instances: instances}
}

// Name implements PatchReader
func (g *Geocube) Name() string {
	return "Geocube"
}

// ReadPatch implements PatchReader
func (g *Geocube) ReadPatch(ctx context.Context, req common.PatchRequest) (*common.Patch, error) {
	pix2crs := [6]float64{req.West, req.ResX, 0, req.North, 0, -req.ResY}
	pixels := make([]float64, 0, len(req.Bands)*req.Height*req.Width)
	for _, band := range req.Bands {
		instance, ok := g.instances[band]
		if !ok {
			return nil, fmt.Errorf("ReadPatch[%s]: no variable instance for band %q", req.SceneID, band)
		}
		plane, err := g.readBand(ctx, req, instance, pix2crs)
		if err != nil {
			return nil, fmt.Errorf("ReadPatch[%s/%s]: %w", req.SceneID, band, err)
		}
		pixels = append(pixels, plane...)
	}
	return ValidatePatch(req, [3]int{len(req.Bands), req.Height, req.Width}, pixels)
}

func (g *Geocube) readBand(ctx context.Context, req common.PatchRequest, instance string, pix2crs [6]float64) ([]float64, error) {
	crs := fmt.Sprintf("epsg:%d", req.EPSG)
	it, err := g.client.GetCubeFromRecords(ctx, []string{req.SceneID}, instance, crs, pix2crs,
		int32(req.Width), int32(req.Height), geocube.Format_Raw, 0, false)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("GetCube: %w", err))
	}

	for it.Next() {
		elem := it.Value()
		if elem.Err != "" {
			return nil, fmt.Errorf("GetCube: %s", elem.Err)
		}
		if elem.Shape[0] != 1 || elem.Shape[1] != int32(req.Height) || elem.Shape[2] != int32(req.Width) {
			return nil, fmt.Errorf("GetCube: got shape %v, want [1 %d %d]", elem.Shape, req.Height, req.Width)
		}
		var order binary.ByteOrder = binary.LittleEndian
		if elem.Order == pb.ByteOrder_BigEndian {
			order = binary.BigEndian
		}
		pixels, err := DecodePixels(dtypeFromPb(elem.DType), order, elem.Data)
		if err != nil {
			return nil, fmt.Errorf("GetCube: %w", err)
		}
		return pixels, nil
	}
	if err := it.Err(); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("GetCube: %w", err))
	}
	return nil, fmt.Errorf("GetCube: no dataset for record %s", req.SceneID)
}

func dtypeFromPb(dt pb.DataFormat_Dtype) DType {
	switch dt {
	case pb.DataFormat_UInt8:
		return DTypeUInt8
	case pb.DataFormat_Int16:
		return DTypeInt16
	case pb.DataFormat_UInt16:
		return DTypeUInt16
	case pb.DataFormat_Int32:
		return DTypeInt32
	case pb.DataFormat_UInt32:
		return DTypeUInt32
	case pb.DataFormat_Float32:
		return DTypeFloat32
	case pb.DataFormat_Float64:
		return DTypeFloat64
	}
	return ""
}
