package scene

import (
	"github.com/l1jgo/coresync/internal/bitstream"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap"
)

// Camera dirty bits.
const (
	CameraTransform  coreobject.Flags = 1 << 0
	CameraProjection coreobject.Flags = 1 << 1
)

// Camera moves every frame in most scenes, so a transform-only change sends
// just the transform.
type Camera struct {
	coreobject.Base
	name     string
	position [3]float32
	rotation [3]float32
	fov      float32
	near     float32
	far      float32
	core     *CameraCore
}

func (c *Camera) Name() string         { return c.name }
func (c *Camera) Position() [3]float32 { return c.position }
func (c *Camera) FOV() float32         { return c.fov }

func (c *Camera) Move(pos [3]float32) {
	if pos == c.position {
		return
	}
	c.position = pos
	c.MarkDirty(CameraTransform)
}

func (c *Camera) Rotate(rot [3]float32) {
	if rot == c.rotation {
		return
	}
	c.rotation = rot
	c.MarkDirty(CameraTransform)
}

func (c *Camera) SetFOV(fov float32) {
	if fov == c.fov {
		return
	}
	c.fov = fov
	c.MarkDirty(CameraProjection)
}

func transformOnly(flags coreobject.Flags) bool {
	return flags&^CameraTransform == 0
}

func (c *Camera) DownloadSync(alloc frame.Allocator) (coreobject.Payload, error) {
	flags := c.DirtyFlags()
	size := 2 * sizeVec3
	if !transformOnly(flags) {
		size += 3 * bitstream.SizeF32
	}
	return encode(alloc, flags, size, func(w *bitstream.Writer) {
		writeVec3(w, c.position)
		writeVec3(w, c.rotation)
		if !transformOnly(flags) {
			w.WriteF32(c.fov)
			w.WriteF32(c.near)
			w.WriteF32(c.far)
		}
	})
}

type CameraCore struct {
	coreobject.CounterpartBase
	Position      [3]float32
	Rotation      [3]float32
	FOV           float32
	Near, Far     float32
	TransformOnly int // payloads that carried only the transform

	log *zap.Logger
}

func (c *CameraCore) ApplySync(p coreobject.Payload) {
	err := decode(p, func(flags coreobject.Flags, r *bitstream.Reader) {
		c.Position = readVec3(r)
		c.Rotation = readVec3(r)
		if transformOnly(flags) {
			c.TransformOnly++
			return
		}
		c.FOV = r.ReadF32()
		c.Near = r.ReadF32()
		c.Far = r.ReadF32()
	})
	if err != nil {
		c.log.Error("camera payload", zap.Error(err))
	}
	c.MarkClean()
}
