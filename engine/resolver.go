package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yllada/datagate-shell/common"
)

// PathResolver locates the engine executable. It implements
// common.EnginePathResolver.
type PathResolver struct {
	// Override is used as is when set.
	Override string
	// Executable returns the running binary's path. Defaults to os.Executable.
	Executable func() (string, error)
}

// ResolveEnginePath returns the engine path: the override if configured,
// otherwise engine/engine next to the running executable.
func (r PathResolver) ResolveEnginePath() (string, error) {
	path := r.Override
	if path == "" {
		exe := r.Executable
		if exe == nil {
			exe = os.Executable
		}
		self, err := exe()
		if err != nil {
			return "", fmt.Errorf("%w: locate executable: %v", common.ErrEngineNotFound, err)
		}
		path = filepath.Join(filepath.Dir(self), common.EngineDirName, common.EngineExecutableName)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEngineNotFound, err)
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", common.ErrEngineNotFound, abs)
	}
	return abs, nil
}
