package cate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype is the element type of a segment payload, as declared by the server.
// CATE reports dtypes as NumPy strings, either in array protocol typestr form
// or as a NumPy type name. The typestr has 3 parts:
//  * One character describing the byteorder of the data:
//    "<": little-endian; ">": big-endian; "|": not-relevant; "=": native
//  * One character code giving the basic type of the array:
//    * "b": Boolean
//    * "i": integer
//    * "u": unsigned integer
//    * "f": floating point
//    * "c": complex floating point
//    * "m": timedelta
//    * "M": datetime
//  * An integer specifying the number of bytes the type uses.
//
// Datetime and timedelta types may carry a unit suffix such as "[ns]".
// Parsed dtypes are normalized: native order becomes little-endian, and
// single byte types use the not-relevant order, so equal types compare equal.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// dtypeNames maps NumPy type names onto typestrs
var dtypeNames = map[string]string{
	"bool":       "|b1",
	"int8":       "|i1",
	"int16":      "<i2",
	"int32":      "<i4",
	"int64":      "<i8",
	"uint8":      "|u1",
	"uint16":     "<u2",
	"uint32":     "<u4",
	"uint64":     "<u8",
	"float32":    "<f4",
	"float64":    "<f8",
	"complex64":  "<c8",
	"complex128": "<c16",
}

// ParseDtype reads a NumPy dtype string. Anything that is not one of the
// numeric element types in the supported table is rejected with
// ErrUnsupportedDtype.
func ParseDtype(s string) (dt Dtype, err error) {
	s = strings.TrimSpace(s)
	if ts, ok := dtypeNames[strings.ToLower(s)]; ok {
		s = ts
	}
	if strings.HasPrefix(s, "datetime64") || strings.HasPrefix(s, "timedelta64") {
		s = numpyTimeTypestr(s)
	}

	if len(s) < 2 {
		return dt, newSimpleErrorf(ErrUnsupportedDtype, "invalid dtype string. %q is too short", s)
	}

	if _, ok := byteOrders[ByteOrder(s[0])]; ok {
		dt.ByteOrder = ByteOrder(s[0])
		s = s[1:]
	} else {
		dt.ByteOrder = BONative
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	sizeStr := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, dt.Units = s[:i], s[i:]
	}
	if dt.Units != "" && dt.BasicType != BTDatetime && dt.BasicType != BTTimedelta {
		return dt, newSimpleErrorf(ErrUnsupportedDtype, "units %s are only valid on datetime and timedelta types", dt.Units)
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, newSimpleErrorf(ErrUnsupportedDtype, "invalid dtype size %q", sizeStr)
	}
	dt.ByteSize = int(size)

	if !dt.supported() {
		return dt, newSimpleErrorf(ErrUnsupportedDtype, "element type %s is not supported", dt)
	}
	return dt.normalize(), nil
}

// MustParseDtype is ParseDtype for literals known to be valid.
func MustParseDtype(s string) Dtype {
	dt, err := ParseDtype(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// numpyTimeTypestr turns "datetime64[ns]" into "<M8[ns]"
func numpyTimeTypestr(s string) string {
	code := "M"
	if strings.HasPrefix(s, "timedelta64") {
		code = "m"
		s = strings.TrimPrefix(s, "timedelta64")
	} else {
		s = strings.TrimPrefix(s, "datetime64")
	}
	return "<" + code + "8" + s
}

func (dt Dtype) supported() bool {
	for _, size := range elementSizes[dt.BasicType] {
		if size == dt.ByteSize {
			return true
		}
	}
	return false
}

func (dt Dtype) normalize() Dtype {
	if dt.ByteSize == 1 {
		dt.ByteOrder = BONotRelevant
	} else if dt.ByteOrder == BONative || dt.ByteOrder == BONotRelevant {
		dt.ByteOrder = BOLittleEndian
	}
	return dt
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

// Order returns the byte order elements of this type are encoded in.
func (dt Dtype) Order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Name is the NumPy type name, eg. "float32".
func (dt Dtype) Name() string {
	switch dt.BasicType {
	case BTDatetime:
		return "datetime64" + dt.Units
	case BTTimedelta:
		return "timedelta64" + dt.Units
	case BTBoolean:
		return "bool"
	}
	return fmt.Sprintf("%s%d", dt.BasicType.Human(), dt.ByteSize*8)
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

type ByteOrder rune

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
	BONative       ByteOrder = '='
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
	BONative:       {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := elementSizes[t]; !ok {
		return t, newSimpleErrorf(ErrUnsupportedDtype, "unsupported element type code: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return basicTypeNames[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
)

// elementSizes is the table of supported element types: basic type to the
// byte widths that can be decoded
var elementSizes = map[BasicType][]int{
	BTBoolean:       {1},
	BTInteger:       {1, 2, 4, 8},
	BTUnsigned:      {1, 2, 4, 8},
	BTFloatingPoint: {4, 8},
	BTComplex:       {8, 16},
	BTTimedelta:     {8},
	BTDatetime:      {8},
}

var basicTypeNames = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timedelta",
	BTDatetime:      "datetime",
}
