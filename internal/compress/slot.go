package compress

import (
	"bytes"
	"encoding/binary"
)

// On-disk slot framing. A page slot in the backing image holds either a raw
// page or a compressed slot: an 8-byte header followed by a zstd frame. The
// header records the frame length so the read path can round-trip the page;
// slots whose frame would not fit under the page size fall back to raw.
//
//	offset 0: magic "Sw1\n"
//	offset 4: frame length, uint16 little-endian
//	offset 6: flags, uint16 little-endian (zero)
const slotHeaderSize = 8

var slotMagic = []byte{'S', 'w', '1', '\n'}

// EncodeSlot appends the slot encoding of frame (the compressed form of raw)
// to dst. When the framed slot would reach a full page, the raw page is
// appended instead.
func (c *Codec) EncodeSlot(dst, frame, raw []byte) []byte {
	if slotHeaderSize+len(frame) >= c.pageSize {
		return append(dst, raw...)
	}
	dst = append(dst, slotMagic...)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(frame)))
	dst = binary.LittleEndian.AppendUint16(dst, 0)
	return append(dst, frame...)
}

// DecodeSlotInPlace rewrites page to its raw form if it carries a slot
// header. Pages without the header, and slots that fail to decode, are left
// untouched: the bytes on disk may predate the slot format or be raw data
// that collides with the magic.
func (c *Codec) DecodeSlotInPlace(page []byte) {
	if len(page) != c.pageSize || !bytes.HasPrefix(page, slotMagic) {
		return
	}
	clen := int(binary.LittleEndian.Uint16(page[4:6]))
	if clen == 0 || slotHeaderSize+clen > c.pageSize {
		return
	}
	out, err := c.Decompress(nil, page[slotHeaderSize:slotHeaderSize+clen])
	if err != nil {
		return
	}
	copy(page, out)
}
