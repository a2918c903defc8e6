package tickvm

import (
	"fmt"

	"github.com/aretw0/tickvm/internal/vm"
	"github.com/aretw0/tickvm/pkg/sandbox"
)

// Version is the release of this build, overridden with
// -ldflags "-X github.com/aretw0/tickvm.Version=...".
var Version = "dev"

// Runtime is a loaded guest program. See package sandbox.
type Runtime = sandbox.Runtime

// Option configures a Runtime.
type Option = sandbox.Option

// Assemble compiles guest assembly into a loadable module.
func Assemble(src string) ([]byte, error) {
	mod, err := vm.Assemble(src)
	if err != nil {
		return nil, err
	}
	code, err := mod.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode module: %w", err)
	}
	return code, nil
}

// Load validates code, runs the guest to its startup point and returns a
// runtime at tick 0.
func Load(code []byte, opts ...Option) (*Runtime, error) {
	return sandbox.Load(code, opts...)
}

// Deserialize rebuilds a runtime from Runtime.Serialize output.
func Deserialize(snapshot []byte, opts ...Option) (*Runtime, error) {
	return sandbox.Deserialize(snapshot, opts...)
}
