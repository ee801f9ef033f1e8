// Package resources implements the built-in resource kind handlers:
// package, file, service, exec and concat (assembled config fragments).
// Each handler observes real host state side-effect-free and applies the
// minimal idempotent action to converge it.
package resources

import (
	"fmt"
	"io/fs"
	"strconv"

	"github.com/convergekit/converge/pkg/engine"
)

// Built-in resource kinds.
const (
	KindPackage = "package"
	KindFile    = "file"
	KindService = "service"
	KindExec    = "exec"
	KindConcat  = engine.KindConcat
)

// DefaultRegistry returns a handler registry with all built-in kinds.
func DefaultRegistry() *engine.Registry {
	r := engine.NewRegistry()

	// Registration of built-in kinds cannot collide.
	_ = r.Register(KindPackage, &PackageHandler{})
	_ = r.Register(KindFile, &FileHandler{})
	_ = r.Register(KindService, &ServiceHandler{})
	_ = r.Register(KindExec, &ExecHandler{})
	_ = r.Register(KindConcat, &ConcatHandler{})

	return r
}

// parseMode parses an octal file mode attribute, defaulting to 0644.
func parseMode(r *engine.Resource) (fs.FileMode, error) {
	s := r.StringAttrDefault("mode", "0644")
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	return fs.FileMode(mode), nil
}
