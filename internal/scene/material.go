package scene

import (
	"slices"

	"github.com/l1jgo/coresync/internal/bitstream"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/frame"
	"go.uber.org/zap"
)

// Material dirty bits.
const (
	MaterialShader   coreobject.Flags = 1 << 0
	MaterialTextures coreobject.Flags = 1 << 1
	MaterialParams   coreobject.Flags = 1 << 2
)

// Material binds a shader and textures. Both are dependencies: their
// counterparts are synced ahead of the material's within a batch.
type Material struct {
	coreobject.Base
	name     string
	shader   *Shader
	textures []*Texture
	params   map[string]float32
	core     *MaterialCore
}

func (m *Material) Name() string { return m.name }

// Param returns a scalar parameter.
func (m *Material) Param(key string) (float32, bool) {
	v, ok := m.params[key]
	return v, ok
}

func (m *Material) SetParam(key string, v float32) {
	if old, ok := m.params[key]; ok && old == v {
		return
	}
	m.params[key] = v
	m.MarkDirty(MaterialParams)
}

// SetTexture replaces the texture in slot, growing the slot list as needed.
func (m *Material) SetTexture(slot int, t *Texture) {
	for len(m.textures) <= slot {
		m.textures = append(m.textures, nil)
	}
	if m.textures[slot] == t {
		return
	}
	m.textures[slot] = t
	m.MarkDirty(MaterialTextures)
	m.MarkDependenciesDirty()
}

// dropReference clears every binding to obj.
func (m *Material) dropReference(obj coreobject.ID) {
	changed := coreobject.Flags(0)
	if m.shader != nil && m.shader.ID() == obj {
		m.shader = nil
		changed |= MaterialShader
	}
	for i, t := range m.textures {
		if t != nil && t.ID() == obj {
			m.textures[i] = nil
			changed |= MaterialTextures
		}
	}
	if changed != 0 {
		m.MarkDirty(changed)
		m.MarkDependenciesDirty()
	}
}

func (m *Material) Dependencies() []coreobject.ID {
	deps := make([]coreobject.ID, 0, 1+len(m.textures))
	if m.shader != nil {
		deps = append(deps, m.shader.ID())
	}
	for _, t := range m.textures {
		if t != nil {
			deps = append(deps, t.ID())
		}
	}
	return deps
}

func (m *Material) sortedParams() []string {
	keys := make([]string, 0, len(m.params))
	for k := range m.params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *Material) DownloadSync(alloc frame.Allocator) (coreobject.Payload, error) {
	keys := m.sortedParams()
	size := bitstream.SizeU64 + bitstream.SizeU16 + len(m.textures)*bitstream.SizeU64 + bitstream.SizeU16
	for _, k := range keys {
		size += bitstream.SizeString(k) + bitstream.SizeF32
	}
	return encode(alloc, m.DirtyFlags(), size, func(w *bitstream.Writer) {
		w.WriteU64(uint64(shaderID(m.shader)))
		w.WriteU16(uint16(len(m.textures)))
		for _, t := range m.textures {
			w.WriteU64(uint64(textureID(t)))
		}
		w.WriteU16(uint16(len(keys)))
		for _, k := range keys {
			w.WriteString(k)
			w.WriteF32(m.params[k])
		}
	})
}

func shaderID(s *Shader) coreobject.ID {
	if s == nil {
		return 0
	}
	return s.ID()
}

func textureID(t *Texture) coreobject.ID {
	if t == nil {
		return 0
	}
	return t.ID()
}

// MaterialCore mirrors the bindings by object ID.
type MaterialCore struct {
	coreobject.CounterpartBase
	Shader   coreobject.ID
	Textures []coreobject.ID
	Params   map[string]float32
	Rebinds  int // times the shader or texture set changed

	log *zap.Logger
}

func (c *MaterialCore) ApplySync(p coreobject.Payload) {
	err := decode(p, func(flags coreobject.Flags, r *bitstream.Reader) {
		c.Shader = coreobject.ID(r.ReadU64())
		n := int(r.ReadU16())
		c.Textures = c.Textures[:0]
		for i := 0; i < n; i++ {
			c.Textures = append(c.Textures, coreobject.ID(r.ReadU64()))
		}
		if c.Params == nil {
			c.Params = make(map[string]float32)
		}
		clear(c.Params)
		for n := int(r.ReadU16()); n > 0; n-- {
			k := r.ReadString()
			c.Params[k] = r.ReadF32()
		}
		if flags&(MaterialShader|MaterialTextures) != 0 {
			c.Rebinds++
		}
	})
	if err != nil {
		c.log.Error("material payload", zap.Error(err))
	}
	c.MarkClean()
}
