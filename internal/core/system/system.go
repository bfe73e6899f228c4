package system

import "time"

// Phase defines execution ordering within a single simulation frame.
type Phase int

const (
	PhasePreUpdate  Phase = iota // 0: deliver last frame's events
	PhaseUpdate                  // 1: scripts and game logic mutate sim objects
	PhasePostUpdate              // 2: late mutations that must land in this frame's sync
	PhaseSync                    // 3: download dirty objects, enqueue upload on core thread
	PhaseOutput                  // 4: publish frame stats
	PhasePersist                 // 5: journal flush
	PhaseCleanup                 // 6: destroy queued objects
)

func (p Phase) String() string {
	switch p {
	case PhasePreUpdate:
		return "PreUpdate"
	case PhaseUpdate:
		return "Update"
	case PhasePostUpdate:
		return "PostUpdate"
	case PhaseSync:
		return "Sync"
	case PhaseOutput:
		return "Output"
	case PhasePersist:
		return "Persist"
	case PhaseCleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// System is the interface every frame system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
