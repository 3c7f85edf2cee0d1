package codeseeder

import (
	"fmt"
	"sync"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

var (
	defaultMu        sync.RWMutex
	defaultFunctions = map[string]Function{}
)

// Register adds fn to the process-wide function table under its
// "module:function" identity. Every Seeder picks the table up at
// construction, so packages can register their remote functions from init
// and the execute command finds them on the remote side of the boundary.
func Register(fnID string, fn Function) error {
	if err := validateFnID(fnID); err != nil {
		return err
	}
	if fn == nil {
		return seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("function %q is nil", fnID), nil)
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultFunctions[fnID] = fn
	return nil
}

// MustRegister is Register that panics on error, for use from init.
func MustRegister(fnID string, fn Function) {
	if err := Register(fnID, fn); err != nil {
		panic(err)
	}
}

// defaultFunctionTable snapshots the process-wide function table.
func defaultFunctionTable() map[string]Function {
	defaultMu.RLock()
	defer defaultMu.RUnlock()

	table := make(map[string]Function, len(defaultFunctions))
	for id, fn := range defaultFunctions {
		table[id] = fn
	}
	return table
}
