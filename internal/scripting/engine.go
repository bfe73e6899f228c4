package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// SceneAPI is the slice of the scene scripts may touch. Every call marks the
// affected object dirty; nothing reaches the core thread until the next sync.
type SceneAPI interface {
	SetMaterialParam(name, key string, v float32) error
	SetMaterialTexture(name string, slot int, texture string) error
	MoveCamera(name string, x, y, z float32) error
	RotateCamera(name string, pitch, yaw, roll float32) error
	SetCameraFOV(name string, fov float32) error
	ResizeTexture(name string, w, h uint32) error
	MarkForDestruction(name string) error
}

// Engine wraps a single gopher-lua VM driving the scene once per frame.
// Single-goroutine access only (simulation loop).
type Engine struct {
	vm      *lua.LState
	api     SceneAPI
	onFrame lua.LValue
	errors  uint64
	log     *zap.Logger
}

// NewEngine creates a Lua engine, exposes the scene API and loads every
// script in scriptsDir. A missing directory yields an engine with no
// on_frame hook.
func NewEngine(scriptsDir string, api SceneAPI, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, api: api, log: log}
	e.register()

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	e.bindHooks()
	return e, nil
}

// loadDir loads all .lua files in a directory, in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn("scripts directory missing", zap.String("dir", dir))
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk in the engine's VM and rebinds the frame hook.
func (e *Engine) LoadString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return err
	}
	e.bindHooks()
	return nil
}

func (e *Engine) bindHooks() {
	e.onFrame = e.vm.GetGlobal("on_frame")
	if _, ok := e.onFrame.(*lua.LFunction); !ok {
		e.onFrame = nil
	}
}

// HasFrameHook reports whether a script defined on_frame.
func (e *Engine) HasFrameHook() bool { return e.onFrame != nil }

// Errors counts failed on_frame calls.
func (e *Engine) Errors() uint64 { return e.errors }

// OnFrame calls on_frame(frame, dt_seconds). A script error is logged and
// returned; the VM stays usable.
func (e *Engine) OnFrame(frame uint64, dt time.Duration) error {
	if e.onFrame == nil {
		return nil
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      e.onFrame,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(frame), lua.LNumber(dt.Seconds())); err != nil {
		e.errors++
		e.log.Error("lua on_frame error", zap.Uint64("frame", frame), zap.Error(err))
		return err
	}
	return nil
}

// register installs the global `scene` table and `log`.
func (e *Engine) register() {
	t := e.vm.NewTable()
	fns := map[string]lua.LGFunction{
		"set_material_param": func(L *lua.LState) int {
			return result(L, e.api.SetMaterialParam(L.CheckString(1), L.CheckString(2), float32(L.CheckNumber(3))))
		},
		"set_material_texture": func(L *lua.LState) int {
			return result(L, e.api.SetMaterialTexture(L.CheckString(1), L.CheckInt(2), L.CheckString(3)))
		},
		"move_camera": func(L *lua.LState) int {
			return result(L, e.api.MoveCamera(L.CheckString(1),
				float32(L.CheckNumber(2)), float32(L.CheckNumber(3)), float32(L.CheckNumber(4))))
		},
		"rotate_camera": func(L *lua.LState) int {
			return result(L, e.api.RotateCamera(L.CheckString(1),
				float32(L.CheckNumber(2)), float32(L.CheckNumber(3)), float32(L.CheckNumber(4))))
		},
		"set_camera_fov": func(L *lua.LState) int {
			return result(L, e.api.SetCameraFOV(L.CheckString(1), float32(L.CheckNumber(2))))
		},
		"resize_texture": func(L *lua.LState) int {
			w, h := L.CheckInt(2), L.CheckInt(3)
			if w <= 0 || h <= 0 {
				L.ArgError(2, "texture size must be positive")
				return 0
			}
			return result(L, e.api.ResizeTexture(L.CheckString(1), uint32(w), uint32(h)))
		},
		"destroy": func(L *lua.LState) int {
			return result(L, e.api.MarkForDestruction(L.CheckString(1)))
		},
	}
	for name, fn := range fns {
		t.RawSetString(name, e.vm.NewFunction(fn))
	}
	e.vm.SetGlobal("scene", t)

	e.vm.SetGlobal("log", e.vm.NewFunction(func(L *lua.LState) int {
		e.log.Info("lua", zap.String("msg", L.CheckString(1)))
		return 0
	}))
}

// result follows the Lua convention: true on success, nil plus a message on
// failure.
func result(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
