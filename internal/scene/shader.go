package scene

import (
	"github.com/l1jgo/coresync/internal/bitstream"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap"
)

// Shader names a program's entry points. It never changes after creation, so
// only the initial sync carries data.
type Shader struct {
	coreobject.Base
	name     string
	vertex   string
	fragment string
	core     *ShaderCore
}

func (s *Shader) Name() string { return s.name }

func (s *Shader) DownloadSync(alloc frame.Allocator) (coreobject.Payload, error) {
	size := bitstream.SizeString(s.vertex) + bitstream.SizeString(s.fragment)
	return encode(alloc, s.DirtyFlags(), size, func(w *bitstream.Writer) {
		w.WriteString(s.vertex)
		w.WriteString(s.fragment)
	})
}

type ShaderCore struct {
	coreobject.CounterpartBase
	Vertex   string
	Fragment string
	Compiled bool

	log *zap.Logger
}

func (c *ShaderCore) Destroy() { c.Compiled = false }

func (c *ShaderCore) ApplySync(p coreobject.Payload) {
	err := decode(p, func(_ coreobject.Flags, r *bitstream.Reader) {
		c.Vertex = r.ReadString()
		c.Fragment = r.ReadString()
	})
	if err != nil {
		c.log.Error("shader payload", zap.Error(err))
		return
	}
	c.Compiled = c.Vertex != "" && c.Fragment != ""
	c.MarkClean()
}
