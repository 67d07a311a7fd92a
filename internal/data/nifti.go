package data

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

const niftiHeaderSize = 348

// NIfTI-1 datatype codes that ReadNIfTI understands.
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiFloat64 = 64
	niftiInt8    = 256
	niftiUint16  = 512
)

// ReadNIfTI loads a single-file NIfTI-1 volume (.nii or .nii.gz) as a
// 1 x C x X x Y x Z tensor, applying scl_slope/scl_inter.
func ReadNIfTI(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("nifti %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("nifti %s: %w", path, err)
	}
	t, err := decodeNIfTI(raw)
	if err != nil {
		return nil, fmt.Errorf("nifti %s: %w", path, err)
	}
	return t, nil
}

func decodeNIfTI(raw []byte) (*tensor.Tensor, error) {
	if len(raw) < niftiHeaderSize {
		return nil, fmt.Errorf("file too short for a NIfTI-1 header")
	}
	var order binary.ByteOrder = binary.LittleEndian
	if int32(order.Uint32(raw[0:4])) != niftiHeaderSize {
		order = binary.BigEndian
		if int32(order.Uint32(raw[0:4])) != niftiHeaderSize {
			return nil, fmt.Errorf("not a NIfTI-1 file")
		}
	}
	if magic := string(raw[344:347]); magic != "n+1" {
		return nil, fmt.Errorf("unsupported magic %q (only single-file n+1)", magic)
	}

	var dim [8]int
	for i := range dim {
		dim[i] = int(int16(order.Uint16(raw[40+2*i:])))
	}
	if dim[0] < 3 || dim[0] > 4 {
		return nil, fmt.Errorf("unsupported rank %d", dim[0])
	}
	nx, ny, nz, nc := dim[1], dim[2], dim[3], 1
	if dim[0] == 4 && dim[4] > 0 {
		nc = dim[4]
	}
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("invalid dimensions %v", dim[1:4])
	}

	datatype := int(int16(order.Uint16(raw[70:])))
	voxOffset := int(math.Float32frombits(order.Uint32(raw[108:])))
	slope := math.Float32frombits(order.Uint32(raw[112:]))
	inter := math.Float32frombits(order.Uint32(raw[116:]))
	if slope == 0 || slope != slope {
		slope, inter = 1, 0
	}

	width, ok := map[int]int{
		niftiUint8: 1, niftiInt8: 1, niftiInt16: 2, niftiUint16: 2,
		niftiInt32: 4, niftiFloat32: 4, niftiFloat64: 8,
	}[datatype]
	if !ok {
		return nil, fmt.Errorf("unsupported datatype %d", datatype)
	}
	count := nx * ny * nz * nc
	if voxOffset < niftiHeaderSize || voxOffset+count*width > len(raw) {
		return nil, fmt.Errorf("voxel data out of range (offset %d, %d bytes needed, %d available)", voxOffset, count*width, len(raw))
	}
	body := raw[voxOffset:]

	values := make([]float32, count)
	for i := range values {
		b := body[i*width:]
		var v float64
		switch datatype {
		case niftiUint8:
			v = float64(b[0])
		case niftiInt8:
			v = float64(int8(b[0]))
		case niftiInt16:
			v = float64(int16(order.Uint16(b)))
		case niftiUint16:
			v = float64(order.Uint16(b))
		case niftiInt32:
			v = float64(int32(order.Uint32(b)))
		case niftiFloat32:
			v = float64(math.Float32frombits(order.Uint32(b)))
		case niftiFloat64:
			v = math.Float64frombits(order.Uint64(b))
		}
		values[i] = float32(v)*slope + inter
	}

	// NIfTI stores x fastest; the tensor keeps z fastest.
	out := tensor.New(1, nc, nx, ny, nz)
	for c := 0; c < nc; c++ {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					src := x + nx*(y+ny*(z+nz*c))
					dst := ((c*nx+x)*ny+y)*nz + z
					out.Data[dst] = values[src]
				}
			}
		}
	}
	return out, nil
}
