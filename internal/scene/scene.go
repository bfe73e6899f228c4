package scene

import (
	"errors"
	"fmt"
	"slices"

	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/data"
	"go.uber.org/zap"
)

var ErrUnknownObject = errors.New("scene: unknown object")

// Scene owns the named objects of one running scene. Every method must be
// called from the simulation goroutine.
type Scene struct {
	sched *coreobject.Scheduler
	reg   *coreobject.Registry
	tr    coreobject.Transport

	textures  map[string]*Texture
	shaders   map[string]*Shader
	materials map[string]*Material
	cameras   map[string]*Camera
	byID      map[coreobject.ID]string
	order     []string // creation order

	destroyQueue []string

	log *zap.Logger
}

func New(sched *coreobject.Scheduler, tr coreobject.Transport, log *zap.Logger) *Scene {
	return &Scene{
		sched:     sched,
		reg:       sched.Registry(),
		tr:        tr,
		textures:  make(map[string]*Texture),
		shaders:   make(map[string]*Shader),
		materials: make(map[string]*Material),
		cameras:   make(map[string]*Camera),
		byID:      make(map[coreobject.ID]string),
		log:       log,
	}
}

// Load creates every object in m. Shaders and textures come first so
// materials can resolve them. On error the objects created so far remain.
func (s *Scene) Load(m *data.SceneManifest) error {
	for _, d := range m.Textures {
		t := &Texture{name: d.Name, width: d.Width, height: d.Height, format: d.Format, mips: d.Mips}
		t.core = &TextureCore{log: s.log}
		if err := s.add(d.Name, t, t.core); err != nil {
			return err
		}
		s.textures[d.Name] = t
	}
	for _, d := range m.Shaders {
		sh := &Shader{name: d.Name, vertex: d.Vertex, fragment: d.Fragment}
		sh.core = &ShaderCore{log: s.log}
		if err := s.add(d.Name, sh, sh.core); err != nil {
			return err
		}
		s.shaders[d.Name] = sh
	}
	for _, d := range m.Materials {
		mat := &Material{name: d.Name, params: make(map[string]float32, len(d.Params))}
		if mat.shader = s.shaders[d.Shader]; mat.shader == nil {
			return fmt.Errorf("material %q shader %q: %w", d.Name, d.Shader, ErrUnknownObject)
		}
		for _, name := range d.Textures {
			t := s.textures[name]
			if t == nil {
				return fmt.Errorf("material %q texture %q: %w", d.Name, name, ErrUnknownObject)
			}
			mat.textures = append(mat.textures, t)
		}
		for k, v := range d.Params {
			mat.params[k] = v
		}
		mat.core = &MaterialCore{log: s.log}
		if err := s.add(d.Name, mat, mat.core); err != nil {
			return err
		}
		s.materials[d.Name] = mat
	}
	for _, d := range m.Cameras {
		c := &Camera{name: d.Name, position: d.Position, rotation: d.Rotation, fov: d.FOV, near: d.Near, far: d.Far}
		c.core = &CameraCore{log: s.log}
		if err := s.add(d.Name, c, c.core); err != nil {
			return err
		}
		s.cameras[d.Name] = c
	}
	s.log.Info("scene loaded",
		zap.Int("textures", len(s.textures)),
		zap.Int("shaders", len(s.shaders)),
		zap.Int("materials", len(s.materials)),
		zap.Int("cameras", len(s.cameras)),
	)
	return nil
}

func (s *Scene) add(name string, obj coreobject.Object, cp coreobject.Counterpart) error {
	if s.has(name) {
		return fmt.Errorf("scene: duplicate object %q", name)
	}
	id, err := s.reg.Register(obj)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	if _, err := s.sched.Attach(obj, cp, s.tr); err != nil {
		_ = s.reg.Unregister(obj)
		return fmt.Errorf("attach %q: %w", name, err)
	}
	s.byID[id] = name
	s.order = append(s.order, name)
	return nil
}

func (s *Scene) has(name string) bool {
	return s.textures[name] != nil || s.shaders[name] != nil ||
		s.materials[name] != nil || s.cameras[name] != nil
}

func (s *Scene) Texture(name string) *Texture   { return s.textures[name] }
func (s *Scene) Shader(name string) *Shader     { return s.shaders[name] }
func (s *Scene) Material(name string) *Material { return s.materials[name] }
func (s *Scene) Camera(name string) *Camera     { return s.cameras[name] }

// Len reports live objects.
func (s *Scene) Len() int { return len(s.order) }

// Names returns every live object name, sorted.
func (s *Scene) Names() []string {
	names := slices.Clone(s.order)
	slices.Sort(names)
	return names
}

// Each calls fn for every live object in creation order.
func (s *Scene) Each(fn func(name string, id coreobject.ID)) {
	ids := make(map[string]coreobject.ID, len(s.byID))
	for id, name := range s.byID {
		ids[name] = id
	}
	for _, name := range s.order {
		fn(name, ids[name])
	}
}

// --- mutators used by scripts ---

func (s *Scene) SetMaterialParam(name, key string, v float32) error {
	m := s.materials[name]
	if m == nil {
		return fmt.Errorf("material %q: %w", name, ErrUnknownObject)
	}
	m.SetParam(key, v)
	return nil
}

func (s *Scene) SetMaterialTexture(name string, slot int, texture string) error {
	m := s.materials[name]
	if m == nil {
		return fmt.Errorf("material %q: %w", name, ErrUnknownObject)
	}
	t := s.textures[texture]
	if t == nil {
		return fmt.Errorf("texture %q: %w", texture, ErrUnknownObject)
	}
	if slot < 0 || slot > len(m.textures) {
		return fmt.Errorf("material %q: texture slot %d out of range", name, slot)
	}
	m.SetTexture(slot, t)
	return nil
}

func (s *Scene) MoveCamera(name string, x, y, z float32) error {
	c := s.cameras[name]
	if c == nil {
		return fmt.Errorf("camera %q: %w", name, ErrUnknownObject)
	}
	c.Move([3]float32{x, y, z})
	return nil
}

func (s *Scene) RotateCamera(name string, pitch, yaw, roll float32) error {
	c := s.cameras[name]
	if c == nil {
		return fmt.Errorf("camera %q: %w", name, ErrUnknownObject)
	}
	c.Rotate([3]float32{pitch, yaw, roll})
	return nil
}

func (s *Scene) SetCameraFOV(name string, fov float32) error {
	c := s.cameras[name]
	if c == nil {
		return fmt.Errorf("camera %q: %w", name, ErrUnknownObject)
	}
	if fov <= 0 || fov >= 180 {
		return fmt.Errorf("camera %q: fov %.1f out of range", name, fov)
	}
	c.SetFOV(fov)
	return nil
}

func (s *Scene) ResizeTexture(name string, w, h uint32) error {
	t := s.textures[name]
	if t == nil {
		return fmt.Errorf("texture %q: %w", name, ErrUnknownObject)
	}
	if w == 0 || h == 0 {
		return fmt.Errorf("texture %q: zero size %dx%d", name, w, h)
	}
	t.Resize(w, h)
	return nil
}

// --- destruction ---

// MarkForDestruction queues name for removal at the end of the frame.
func (s *Scene) MarkForDestruction(name string) error {
	if !s.has(name) {
		return fmt.Errorf("destroy %q: %w", name, ErrUnknownObject)
	}
	if !slices.Contains(s.destroyQueue, name) {
		s.destroyQueue = append(s.destroyQueue, name)
	}
	return nil
}

// PendingDestroy reports queued destructions.
func (s *Scene) PendingDestroy() int { return len(s.destroyQueue) }

// FlushDestroyQueue destroys every queued object and returns how many went.
func (s *Scene) FlushDestroyQueue() int {
	if len(s.destroyQueue) == 0 {
		return 0
	}
	n := 0
	for _, name := range s.destroyQueue {
		if err := s.destroy(name); err != nil {
			s.log.Warn("destroy failed", zap.String("name", name), zap.Error(err))
			continue
		}
		n++
	}
	s.destroyQueue = s.destroyQueue[:0]
	return n
}

// DestroyAll tears the scene down, newest objects first so dependants go
// before what they depend on.
func (s *Scene) DestroyAll() int {
	s.destroyQueue = s.destroyQueue[:0]
	names := slices.Clone(s.order)
	n := 0
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if err := s.destroy(name); err != nil {
			s.log.Warn("destroy failed", zap.String("name", name), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

func (s *Scene) destroy(name string) error {
	var obj coreobject.Object
	var id coreobject.ID
	switch {
	case s.textures[name] != nil:
		t := s.textures[name]
		obj, id = t, t.ID()
		delete(s.textures, name)
	case s.shaders[name] != nil:
		sh := s.shaders[name]
		obj, id = sh, sh.ID()
		delete(s.shaders, name)
	case s.materials[name] != nil:
		m := s.materials[name]
		obj, id = m, m.ID()
		delete(s.materials, name)
	case s.cameras[name] != nil:
		c := s.cameras[name]
		obj, id = c, c.ID()
		delete(s.cameras, name)
	default:
		return fmt.Errorf("destroy %q: %w", name, ErrUnknownObject)
	}

	for _, dep := range s.reg.Dependants(id) {
		if m := s.materials[s.byID[dep]]; m != nil {
			m.dropReference(id)
		}
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == name })
	return s.sched.Destroy(obj, s.tr)
}
