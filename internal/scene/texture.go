package scene

import (
	"github.com/l1jgo/coresync/internal/bitstream"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap"
)

// Texture dirty bits.
const (
	TextureSize   coreobject.Flags = 1 << 0
	TextureFormat coreobject.Flags = 1 << 1
)

// Texture is the simulation-side description of an image resource.
type Texture struct {
	coreobject.Base
	name   string
	width  uint32
	height uint32
	format string
	mips   uint8
	core   *TextureCore
}

func (t *Texture) Name() string           { return t.name }
func (t *Texture) Size() (uint32, uint32) { return t.width, t.height }
func (t *Texture) Format() string         { return t.format }

// Resize changes the dimensions. The counterpart reallocates on apply.
func (t *Texture) Resize(w, h uint32) {
	if w == t.width && h == t.height {
		return
	}
	t.width, t.height = w, h
	t.MarkDirty(TextureSize)
}

func (t *Texture) DownloadSync(alloc frame.Allocator) (coreobject.Payload, error) {
	size := 2*bitstream.SizeU32 + bitstream.SizeString(t.format) + bitstream.SizeU8
	return encode(alloc, t.DirtyFlags(), size, func(w *bitstream.Writer) {
		w.WriteU32(t.width)
		w.WriteU32(t.height)
		w.WriteString(t.format)
		w.WriteU8(t.mips)
	})
}

// TextureCore is the core-thread copy. Its fields must only be read on the
// core thread.
type TextureCore struct {
	coreobject.CounterpartBase
	Width, Height uint32
	Format        string
	Mips          uint8
	Allocations   int // storage (re)allocations caused by size or format changes
	Live          bool

	log *zap.Logger
}

func (c *TextureCore) Initialize() { c.Live = true }

func (c *TextureCore) Destroy() { c.Live = false }

func (c *TextureCore) ApplySync(p coreobject.Payload) {
	err := decode(p, func(flags coreobject.Flags, r *bitstream.Reader) {
		c.Width = r.ReadU32()
		c.Height = r.ReadU32()
		c.Format = r.ReadString()
		c.Mips = r.ReadU8()
		if flags&(TextureSize|TextureFormat) != 0 {
			c.Allocations++
		}
	})
	if err != nil {
		c.log.Error("texture payload", zap.Error(err))
	}
	c.MarkClean()
}
