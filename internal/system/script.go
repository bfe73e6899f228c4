package system

import (
	"time"

	coresys "github.com/l1jgo/coresync/internal/core/system"
)

// FrameScript is driven once per frame.
type FrameScript interface {
	OnFrame(frame uint64, dt time.Duration) error
}

// ScriptSystem runs the frame scripts that mutate scene objects. Script
// errors are logged by the engine and do not stop the loop. Phase 1 (Update).
type ScriptSystem struct {
	script FrameScript
	frame  uint64
}

func NewScriptSystem(script FrameScript) *ScriptSystem {
	return &ScriptSystem{script: script}
}

func (s *ScriptSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ScriptSystem) Update(dt time.Duration) {
	s.frame++
	_ = s.script.OnFrame(s.frame, dt)
}
