package container

import "bytes"

// Block signature: 00 00 01 <type> FF 00 FC 00, type 0x05 or 0x07.
var (
	sigPrefix = []byte{0x00, 0x00, 0x01}
	sigSuffix = []byte{0xFF, 0x00, 0xFC, 0x00}
)

// SignatureSize is the length of the fixed block signature.
const SignatureSize = 8

// RawBlock is one block located by ScanBlocks. Raw includes the signature
// and runs to the next signature or to the end of the buffer.
type RawBlock struct {
	Offset int
	Type   byte
	Raw    []byte
}

// ScanBlocks finds every block signature in the buffer and returns the
// blocks in file order. It is a pure function over the buffer. A buffer
// with zero signatures is not a project file.
func ScanBlocks(data []byte) ([]RawBlock, error) {
	var offsets []int
	var types []byte

	for i := 0; i+SignatureSize <= len(data); {
		j := bytes.Index(data[i:], sigPrefix)
		if j < 0 {
			break
		}
		at := i + j
		if at+SignatureSize > len(data) {
			break
		}
		typ := data[at+3]
		if (typ == TypePristine || typ == TypeActivated) && bytes.Equal(data[at+4:at+8], sigSuffix) {
			offsets = append(offsets, at)
			types = append(types, typ)
			i = at + SignatureSize
			continue
		}
		i = at + 1
	}

	if len(offsets) == 0 {
		return nil, decodeErrf(0, -1, ErrSignatureNotFound, "no block signature in %d bytes", len(data))
	}

	blocks := make([]RawBlock, len(offsets))
	for i, off := range offsets {
		end := len(data)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		blocks[i] = RawBlock{Offset: off, Type: types[i], Raw: data[off:end]}
	}
	return blocks, nil
}
