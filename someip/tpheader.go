package someip

import (
	"encoding/binary"

	"github.com/quickcom/someip-ipc-core/errs"
)

// TpHeaderSize is the fixed wire size of a SOME/IP-TP header, in bytes.
const TpHeaderSize = 4

// MaxTpOffset is the largest representable segment offset: bits [31:4].
const MaxTpOffset = 0xFFFFFFF0

// offsetMask isolates the 28-bit offset field; the remaining bits are
// reserved (zero) except bit 0, the "more segments" flag.
const offsetMask = 0xFFFFFFF0
const mfMask = 0x01

// TpHeader is the 4-byte SOME/IP-TP segmentation header: a 28-bit byte
// offset of this segment's payload within the reassembled message, and a
// "more segments" (MF) flag.
type TpHeader struct {
	Offset uint32
	MF     bool
}

// ParseTpHeader reads a TpHeader from the first 4 bytes of buf.
func ParseTpHeader(buf []byte) (TpHeader, error) {
	if len(buf) < TpHeaderSize {
		return TpHeader{}, errs.Wrap(errs.CodeProtocolError, uint32(len(buf)), errs.ErrDeserialization)
	}
	raw := binary.BigEndian.Uint32(buf[0:4])
	return TpHeader{
		Offset: raw & offsetMask,
		MF:     raw&mfMask != 0,
	}, nil
}

// WriteTpHeader serializes a TP header with the given offset and MF flag
// into the first 4 bytes of dst. dst must be at least TpHeaderSize bytes.
func WriteTpHeader(dst []byte, offset uint32, mf bool) error {
	if len(dst) < TpHeaderSize {
		return errs.Wrap(errs.CodeResourceFault, uint32(len(dst)), errs.ErrBufferTooSmall)
	}
	raw := offset & offsetMask
	if mf {
		raw |= mfMask
	}
	binary.BigEndian.PutUint32(dst[0:4], raw)
	return nil
}
