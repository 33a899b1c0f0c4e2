package cate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// npyMagic opens every .npy file, followed by the format version
const npyMagic = "\x93NUMPY"

// WriteNPY writes the array as a NumPy .npy (format 1.0) file, so
// numpy.load returns the same array the Python client would have built.
func (a *Array) WriteNPY(w io.Writer) error {
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d), }",
		a.Dtype.String(), a.Rows, a.Cols)

	// magic, version and the header length field take 10 bytes; the header is
	// space padded so the data starts on a 64 byte boundary
	pre := len(npyMagic) + 2 + 2
	pad := 64 - (pre+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += string(bytes.Repeat([]byte{' '}, pad)) + "\n"
	if len(header) > 0xffff {
		return fmt.Errorf("npy header too long: %d bytes", len(header))
	}

	buf := &bytes.Buffer{}
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(a.Data)
	return err
}
