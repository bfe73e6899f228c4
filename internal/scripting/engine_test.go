package scripting

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type call struct {
	fn   string
	name string
	args []float64
}

type fakeScene struct {
	calls []call
	fail  error
}

func (f *fakeScene) record(fn, name string, args ...float64) error {
	f.calls = append(f.calls, call{fn, name, args})
	return f.fail
}

func (f *fakeScene) SetMaterialParam(name, key string, v float32) error {
	return f.record("param:"+key, name, float64(v))
}
func (f *fakeScene) SetMaterialTexture(name string, slot int, texture string) error {
	return f.record("texture:"+texture, name, float64(slot))
}
func (f *fakeScene) MoveCamera(name string, x, y, z float32) error {
	return f.record("move", name, float64(x), float64(y), float64(z))
}
func (f *fakeScene) RotateCamera(name string, p, y, r float32) error {
	return f.record("rotate", name, float64(p), float64(y), float64(r))
}
func (f *fakeScene) SetCameraFOV(name string, fov float32) error {
	return f.record("fov", name, float64(fov))
}
func (f *fakeScene) ResizeTexture(name string, w, h uint32) error {
	return f.record("resize", name, float64(w), float64(h))
}
func (f *fakeScene) MarkForDestruction(name string) error {
	return f.record("destroy", name)
}

func writeScript(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOnFrameDrivesScene(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "10_camera.lua", `
function on_frame(frame, dt)
  scene.move_camera("main", frame, dt * 1000, 0)
  if frame == 2 then
    scene.set_material_param("floor", "roughness", 0.5)
    scene.destroy("crate")
  end
end
`)
	writeScript(t, dir, "notes.txt", "not lua")
	api := &fakeScene{}
	e, err := NewEngine(dir, api, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	if !e.HasFrameHook() {
		t.Fatal("on_frame not bound")
	}

	for f := uint64(1); f <= 2; f++ {
		if err := e.OnFrame(f, 16*time.Millisecond); err != nil {
			t.Fatalf("frame %d: %v", f, err)
		}
	}
	if len(api.calls) != 4 {
		t.Fatalf("expected 4 calls, got %+v", api.calls)
	}
	if c := api.calls[0]; c.fn != "move" || c.args[0] != 1 || c.args[1] != 16 {
		t.Fatalf("unexpected first call %+v", c)
	}
	if c := api.calls[2]; c.fn != "param:roughness" || c.name != "floor" || c.args[0] != 0.5 {
		t.Fatalf("unexpected param call %+v", c)
	}
	if c := api.calls[3]; c.fn != "destroy" || c.name != "crate" {
		t.Fatalf("unexpected destroy call %+v", c)
	}
}

func TestSceneErrorsReturnNilAndMessage(t *testing.T) {
	api := &fakeScene{fail: errors.New("no such camera")}
	e, err := NewEngine(t.TempDir(), api, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if err := e.LoadString(`
ok, msg = scene.set_camera_fov("ghost", 60)
`); err != nil {
		t.Fatalf("load: %v", err)
	}
	if v := e.vm.GetGlobal("ok"); v.String() != "nil" {
		t.Fatalf("expected nil, got %v", v)
	}
	if v := e.vm.GetGlobal("msg"); v.String() != "no such camera" {
		t.Fatalf("unexpected message %v", v)
	}
}

func TestScriptErrorIsContained(t *testing.T) {
	e, err := NewEngine(t.TempDir(), &fakeScene{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.HasFrameHook() {
		t.Fatal("empty directory should not bind a hook")
	}
	if err := e.LoadString(`function on_frame(f) error("boom") end`); err != nil {
		t.Fatal(err)
	}
	if err := e.OnFrame(1, time.Millisecond); err == nil {
		t.Fatal("expected script error")
	}
	if err := e.OnFrame(2, time.Millisecond); err == nil || e.Errors() != 2 {
		t.Fatalf("engine should keep running and count errors, got %d", e.Errors())
	}
}

func TestBadScriptFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.lua", "function (")
	if _, err := NewEngine(dir, &fakeScene{}, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected load error")
	}
}

func TestMissingDirectoryIsTolerated(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "absent"), &fakeScene{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("missing dir: %v", err)
	}
	e.Close()
}
