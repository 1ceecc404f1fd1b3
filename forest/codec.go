package forest

import (
	"encoding/binary"

	"github.com/notargets/octforest/octant"
)

// Wire format: little-endian int32 fields. Block-routed octants are 24
// bytes: block, x, y, z, level, tag.

const blockOctantSize = 24

func appendBlockOctant(buf []byte, b blockOctant) []byte {
	var tmp [blockOctantSize]byte
	binary.LittleEndian.PutUint32(tmp[0:], uint32(int32(b.block)))
	binary.LittleEndian.PutUint32(tmp[4:], uint32(b.oct.X))
	binary.LittleEndian.PutUint32(tmp[8:], uint32(b.oct.Y))
	binary.LittleEndian.PutUint32(tmp[12:], uint32(b.oct.Z))
	binary.LittleEndian.PutUint32(tmp[16:], uint32(b.oct.Level))
	binary.LittleEndian.PutUint32(tmp[20:], uint32(b.oct.Tag))
	return append(buf, tmp[:]...)
}

func decodeBlockOctants(buf []byte) []blockOctant {
	out := make([]blockOctant, 0, len(buf)/blockOctantSize)
	for off := 0; off+blockOctantSize <= len(buf); off += blockOctantSize {
		out = append(out, blockOctant{
			block: int(int32(binary.LittleEndian.Uint32(buf[off:]))),
			oct: octant.Octant{
				X:     int32(binary.LittleEndian.Uint32(buf[off+4:])),
				Y:     int32(binary.LittleEndian.Uint32(buf[off+8:])),
				Z:     int32(binary.LittleEndian.Uint32(buf[off+12:])),
				Level: int32(binary.LittleEndian.Uint32(buf[off+16:])),
				Tag:   int32(binary.LittleEndian.Uint32(buf[off+20:])),
			},
		})
	}
	return out
}

func appendInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

func decodeInt32s(buf []byte) []int32 {
	out := make([]int32, 0, len(buf)/4)
	for off := 0; off+4 <= len(buf); off += 4 {
		out = append(out, int32(binary.LittleEndian.Uint32(buf[off:])))
	}
	return out
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

func decodeInt64s(buf []byte) []int64 {
	out := make([]int64, 0, len(buf)/8)
	for off := 0; off+8 <= len(buf); off += 8 {
		out = append(out, int64(binary.LittleEndian.Uint64(buf[off:])))
	}
	return out
}
