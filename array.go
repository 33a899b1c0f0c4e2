package cate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Array is a dense, row-major 2D numeric buffer. Data holds the raw element
// bytes in the byte order of Dtype, exactly as the server encoded them.
type Array struct {
	Rows  int
	Cols  int
	Dtype Dtype
	Data  []byte
}

// NewArray allocates a zero-filled rows x cols array.
func NewArray(rows, cols int, dt Dtype) (*Array, error) {
	if rows < 0 || cols < 0 {
		return nil, newSimpleErrorf(ErrInvalidQuery, "invalid array shape (%d,%d)", rows, cols)
	}
	n, ok := byteLen(rows, cols, dt.ByteSize)
	if !ok {
		return nil, newSimpleErrorf(ErrInconsistentPlan, "array shape (%d,%d) of %s is too large", rows, cols, dt)
	}
	return &Array{
		Rows:  rows,
		Cols:  cols,
		Dtype: dt,
		Data:  make([]byte, n),
	}, nil
}

// DecodeArray reinterprets b as a rows x cols array of dt. The byte count
// must match the shape exactly.
func DecodeArray(b []byte, rows, cols int, dt Dtype) (*Array, error) {
	if rows < 0 || cols < 0 {
		return nil, newSimpleErrorf(ErrSegmentDecode, "invalid segment shape (%d,%d)", rows, cols)
	}
	want, ok := byteLen(rows, cols, dt.ByteSize)
	if !ok {
		return nil, newSimpleErrorf(ErrSegmentDecode, "segment shape (%d,%d) of %s is too large", rows, cols, dt)
	}
	if len(b) != want {
		return nil, newSimpleErrorf(ErrSegmentDecode,
			"payload is %d bytes, shape (%d,%d) of %s needs %d", len(b), rows, cols, dt, want)
	}
	return &Array{Rows: rows, Cols: cols, Dtype: dt, Data: b}, nil
}

// byteLen is rows*cols*size, or false when the product does not fit in an
// int.
func byteLen(rows, cols, size int) (int, bool) {
	if rows < 0 || cols < 0 || size < 0 {
		return 0, false
	}
	if rows == 0 || cols == 0 || size == 0 {
		return 0, true
	}
	if rows > math.MaxInt/cols/size {
		return 0, false
	}
	return rows * cols * size, true
}

// Info is a one-line description of the array's shape and element type.
func (a *Array) Info() string {
	return fmt.Sprintf("<cate.Array shape=%v dtype=%s>", a.Shape(), a.Dtype)
}

// Shape returns (rows, cols).
func (a *Array) Shape() [2]int {
	return [2]int{a.Rows, a.Cols}
}

// Len is the number of elements.
func (a *Array) Len() int {
	return a.Rows * a.Cols
}

// SetRegion copies src into the block of a starting at (row, col). Any
// existing values in that block are overwritten.
func (a *Array) SetRegion(row, col int, src *Array) error {
	if src.Dtype != a.Dtype {
		return newSimpleErrorf(ErrSegmentDecode, "cannot write %s values into %s array", src.Dtype, a.Dtype)
	}
	if row < 0 || col < 0 || row+src.Rows > a.Rows || col+src.Cols > a.Cols {
		return newSimpleErrorf(ErrSegmentDecode,
			"region [%d:%d, %d:%d] is outside array of shape %v",
			row, row+src.Rows, col, col+src.Cols, a.Shape())
	}

	es := a.Dtype.ByteSize
	width := src.Cols * es
	for r := 0; r < src.Rows; r++ {
		dst := ((row+r)*a.Cols + col) * es
		from := r * width
		copy(a.Data[dst:dst+width], src.Data[from:from+width])
	}
	return nil
}

// Values decodes the array into a typed Go slice matching Dtype, eg. a
// []float32 for "<f4". Datetime and timedelta types decode to []int64.
func (a *Array) Values() (interface{}, error) {
	v, err := a.Dtype.newValues(a.Len())
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(a.Data), a.Dtype.Order(), v); err != nil {
		return nil, newDerivedError(ErrSegmentDecode, "decoding values", err)
	}
	return v, nil
}

// Row returns the values of row i as float64s.
func (a *Array) Row(i int) ([]float64, error) {
	if i < 0 || i >= a.Rows {
		return nil, fmt.Errorf("row %d out of range for %d rows", i, a.Rows)
	}
	out := make([]float64, a.Cols)
	for c := range out {
		v, err := a.At(i, c)
		if err != nil {
			return nil, err
		}
		out[c] = v
	}
	return out, nil
}

// At returns the element at (r, c) converted to float64.
func (a *Array) At(r, c int) (float64, error) {
	if r < 0 || r >= a.Rows || c < 0 || c >= a.Cols {
		return 0, fmt.Errorf("index (%d,%d) out of range for shape %v", r, c, a.Shape())
	}
	es := a.Dtype.ByteSize
	off := (r*a.Cols + c) * es
	return a.Dtype.float64At(a.Data[off : off+es])
}

// Float64s converts every element to float64. Complex types have no real
// ordering and are rejected.
func (a *Array) Float64s() ([]float64, error) {
	es := a.Dtype.ByteSize
	out := make([]float64, a.Len())
	for i := range out {
		v, err := a.Dtype.float64At(a.Data[i*es : (i+1)*es])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Min returns the smallest element, ignoring NaNs.
func (a *Array) Min() (float64, error) {
	return a.reduce(math.Min)
}

// Max returns the largest element, ignoring NaNs.
func (a *Array) Max() (float64, error) {
	return a.reduce(math.Max)
}

func (a *Array) reduce(f func(x, y float64) float64) (float64, error) {
	vals, err := a.Float64s()
	if err != nil {
		return 0, err
	}
	res := math.NaN()
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(res) {
			res = v
			continue
		}
		res = f(res, v)
	}
	return res, nil
}

func (dt Dtype) newValues(size int) (interface{}, error) {
	switch dt.BasicType {
	case BTBoolean:
		return make([]bool, size), nil
	case BTInteger, BTTimedelta, BTDatetime:
		switch dt.ByteSize {
		case 1:
			return make([]int8, size), nil
		case 2:
			return make([]int16, size), nil
		case 4:
			return make([]int32, size), nil
		case 8:
			return make([]int64, size), nil
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return make([]uint8, size), nil
		case 2:
			return make([]uint16, size), nil
		case 4:
			return make([]uint32, size), nil
		case 8:
			return make([]uint64, size), nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return make([]float32, size), nil
		case 8:
			return make([]float64, size), nil
		}
	case BTComplex:
		switch dt.ByteSize {
		case 8:
			return make([]complex64, size), nil
		case 16:
			return make([]complex128, size), nil
		}
	}
	return nil, newSimpleErrorf(ErrUnsupportedDtype, "no Go type for %s", dt)
}

func (dt Dtype) float64At(b []byte) (float64, error) {
	o := dt.Order()
	switch dt.BasicType {
	case BTBoolean:
		if b[0] != 0 {
			return 1, nil
		}
		return 0, nil
	case BTInteger, BTTimedelta, BTDatetime:
		switch dt.ByteSize {
		case 1:
			return float64(int8(b[0])), nil
		case 2:
			return float64(int16(o.Uint16(b))), nil
		case 4:
			return float64(int32(o.Uint32(b))), nil
		case 8:
			return float64(int64(o.Uint64(b))), nil
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return float64(b[0]), nil
		case 2:
			return float64(o.Uint16(b)), nil
		case 4:
			return float64(o.Uint32(b)), nil
		case 8:
			return float64(o.Uint64(b)), nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return float64(math.Float32frombits(o.Uint32(b))), nil
		case 8:
			return math.Float64frombits(o.Uint64(b)), nil
		}
	}
	return 0, newSimpleErrorf(ErrUnsupportedDtype, "%s has no float64 conversion", dt)
}
