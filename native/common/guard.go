package common

import "errors"

// Module names recognised by the pause registry.
const (
	ModuleStable = "stable"
	ModuleYield  = "yield"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause flag consulted by every mutating engine
// operation. Reads never consult it.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
