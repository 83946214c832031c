package reader

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/airbusgeo/minicube/common"
)

// PatchReader extracts the pixels of one scene over a projected window.
// Implementations tag the failures that may heal with service.MakeTemporary;
// any other error is final and the patch is not retried.
type PatchReader interface {
	// ReadPatch returns the pixels of req.Bands over the window of req,
	// shaped [bands, height, width] in row-major order.
	ReadPatch(ctx context.Context, req common.PatchRequest) (*common.Patch, error)

	// Name of the reader
	Name() string
}

// DType identifies the pixel encoding of a raw payload.
type DType string

const (
	DTypeUInt8   DType = "uint8"
	DTypeInt16   DType = "int16"
	DTypeUInt16  DType = "uint16"
	DTypeInt32   DType = "int32"
	DTypeUInt32  DType = "uint32"
	DTypeFloat32 DType = "float32"
	DTypeFloat64 DType = "float64"
)

// Size returns the width of one pixel in bytes (0 if the dtype is unknown).
func (d DType) Size() int {
	switch d {
	case DTypeUInt8:
		return 1
	case DTypeInt16, DTypeUInt16:
		return 2
	case DTypeInt32, DTypeUInt32, DTypeFloat32:
		return 4
	case DTypeFloat64:
		return 8
	}
	return 0
}

// DecodePixels converts a raw payload of dtype-encoded pixels to float64.
func DecodePixels(dtype DType, order binary.ByteOrder, raw []byte) ([]float64, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("DecodePixels: unsupported dtype %q", dtype)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("DecodePixels: %d bytes do not contain whole %s pixels", len(raw), dtype)
	}
	pixels := make([]float64, len(raw)/size)
	for i := range pixels {
		b := raw[i*size : (i+1)*size]
		switch dtype {
		case DTypeUInt8:
			pixels[i] = float64(b[0])
		case DTypeInt16:
			pixels[i] = float64(int16(order.Uint16(b)))
		case DTypeUInt16:
			pixels[i] = float64(order.Uint16(b))
		case DTypeInt32:
			pixels[i] = float64(int32(order.Uint32(b)))
		case DTypeUInt32:
			pixels[i] = float64(order.Uint32(b))
		case DTypeFloat32:
			pixels[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTypeFloat64:
			pixels[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return pixels, nil
}

// ValidatePatch wraps the pixels into a Patch after checking that the declared
// shape fills the requested window and matches the pixel count.
func ValidatePatch(req common.PatchRequest, shape [3]int, pixels []float64) (*common.Patch, error) {
	if shape[0] != len(req.Bands) || shape[1] != req.Height || shape[2] != req.Width {
		return nil, fmt.Errorf("ValidatePatch: got shape %v, want [%d %d %d]", shape, len(req.Bands), req.Height, req.Width)
	}
	if len(pixels) != shape[0]*shape[1]*shape[2] {
		return nil, fmt.Errorf("ValidatePatch: %d pixels do not fill shape %v", len(pixels), shape)
	}
	return &common.Patch{Data: pixels, Shape: shape}, nil
}
