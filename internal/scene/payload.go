// Package scene holds the concrete dual-thread object kinds driven by the
// frame loop: textures, shaders, materials and cameras. Each kind is a
// simulation-side object paired with a core-side counterpart that decodes
// its payloads.
package scene

import (
	"github.com/l1jgo/coresync/internal/bitstream"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/frame"
)

// encode allocates exactly size bytes from alloc and fills them. Every
// payload starts with the dirty flags so the counterpart knows which
// sections follow.
func encode(alloc frame.Allocator, flags coreobject.Flags, size int, fill func(w *bitstream.Writer)) (coreobject.Payload, error) {
	buf, err := alloc.Alloc(bitstream.SizeU32 + size)
	if err != nil {
		return coreobject.Payload{}, err
	}
	w := bitstream.NewWriter(buf)
	w.WriteU32(uint32(flags))
	fill(w)
	if err := w.Err(); err != nil {
		return coreobject.Payload{}, err
	}
	return coreobject.Payload{Data: w.Bytes()}, nil
}

// decode reads the flags header and hands the rest to read.
func decode(p coreobject.Payload, read func(flags coreobject.Flags, r *bitstream.Reader)) error {
	r := bitstream.NewReader(p.Data)
	flags := coreobject.Flags(r.ReadU32())
	if err := r.Err(); err != nil {
		return err
	}
	read(flags, r)
	return r.Err()
}

func writeVec3(w *bitstream.Writer, v [3]float32) {
	w.WriteF32(v[0])
	w.WriteF32(v[1])
	w.WriteF32(v[2])
}

func readVec3(r *bitstream.Reader) [3]float32 {
	return [3]float32{r.ReadF32(), r.ReadF32(), r.ReadF32()}
}

const sizeVec3 = 3 * bitstream.SizeF32
