package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TextureDef describes a texture created at scene load.
type TextureDef struct {
	Name   string `yaml:"name"`
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
	Format string `yaml:"format"`
	Mips   uint8  `yaml:"mips"`
}

// ShaderDef describes a shader program and its entry points.
type ShaderDef struct {
	Name     string `yaml:"name"`
	Vertex   string `yaml:"vertex"`
	Fragment string `yaml:"fragment"`
}

// MaterialDef binds a shader to textures and scalar parameters.
type MaterialDef struct {
	Name     string             `yaml:"name"`
	Shader   string             `yaml:"shader"`
	Textures []string           `yaml:"textures"`
	Params   map[string]float32 `yaml:"params"`
}

// CameraDef places a camera.
type CameraDef struct {
	Name     string     `yaml:"name"`
	Position [3]float32 `yaml:"position"`
	Rotation [3]float32 `yaml:"rotation"`
	FOV      float32    `yaml:"fov"`
	Near     float32    `yaml:"near"`
	Far      float32    `yaml:"far"`
}

// SceneManifest is the parsed contents of a scene file.
type SceneManifest struct {
	Textures  []TextureDef  `yaml:"textures"`
	Shaders   []ShaderDef   `yaml:"shaders"`
	Materials []MaterialDef `yaml:"materials"`
	Cameras   []CameraDef   `yaml:"cameras"`
}

// Count returns the number of objects the manifest creates.
func (m *SceneManifest) Count() int {
	return len(m.Textures) + len(m.Shaders) + len(m.Materials) + len(m.Cameras)
}

// LoadSceneManifest loads and validates a scene file.
func LoadSceneManifest(path string) (*SceneManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: read %s: %w", path, err)
	}
	m, err := ParseSceneManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("scene: %s: %w", path, err)
	}
	return m, nil
}

// ParseSceneManifest decodes and validates manifest YAML.
func ParseSceneManifest(raw []byte) (*SceneManifest, error) {
	var m SceneManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	for i := range m.Cameras {
		c := &m.Cameras[i]
		if c.FOV == 0 {
			c.FOV = 60
		}
		if c.Near == 0 {
			c.Near = 0.1
		}
		if c.Far == 0 {
			c.Far = 1000
		}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *SceneManifest) validate() error {
	names := make(map[string]string, m.Count())
	claim := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%s without a name", kind)
		}
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%s %q: name already used by a %s", kind, name, prev)
		}
		names[name] = kind
		return nil
	}

	textures := make(map[string]bool, len(m.Textures))
	for _, t := range m.Textures {
		if err := claim("texture", t.Name); err != nil {
			return err
		}
		if t.Width == 0 || t.Height == 0 {
			return fmt.Errorf("texture %q: zero size %dx%d", t.Name, t.Width, t.Height)
		}
		textures[t.Name] = true
	}
	shaders := make(map[string]bool, len(m.Shaders))
	for _, s := range m.Shaders {
		if err := claim("shader", s.Name); err != nil {
			return err
		}
		shaders[s.Name] = true
	}
	for _, mat := range m.Materials {
		if err := claim("material", mat.Name); err != nil {
			return err
		}
		if !shaders[mat.Shader] {
			return fmt.Errorf("material %q: unknown shader %q", mat.Name, mat.Shader)
		}
		for _, tex := range mat.Textures {
			if !textures[tex] {
				return fmt.Errorf("material %q: unknown texture %q", mat.Name, tex)
			}
		}
	}
	for _, c := range m.Cameras {
		if err := claim("camera", c.Name); err != nil {
			return err
		}
		if c.Near >= c.Far {
			return fmt.Errorf("camera %q: near %.3f not below far %.3f", c.Name, c.Near, c.Far)
		}
	}
	return nil
}
