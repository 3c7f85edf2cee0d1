// Package codeseeder wires the remote execution pipeline together. A remote
// call flows resolve -> bundle -> ensure -> submit -> watch -> fetch; the
// Seeder owns the components of each stage and a function table the remote
// side resolves call payloads against.
package codeseeder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/bundle"
	"github.com/awslabs/aws-codeseeder/pkg/dispatch"
	"github.com/awslabs/aws-codeseeder/pkg/monitor"
	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/seedkit"
	"github.com/awslabs/aws-codeseeder/pkg/services"
)

// Function is a remote-callable function. Arguments and the return value are
// restricted to JSON's value domain; anything else fails serialization at the
// process boundary.
type Function func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// bundleBuilder builds the upload artifact for one call.
type bundleBuilder interface {
	Build(ctx context.Context, spec bundle.Spec, bundleID string) (*bundle.Bundle, error)
}

// environmentProvider resolves or provisions the seedkit environment.
type environmentProvider interface {
	Ensure(ctx context.Context, d seeder.Deployment, deployIfMissing bool, opts seedkit.DeployOptions) (*seeder.EnvironmentRef, error)
}

// jobDispatcher submits, stops, and cleans up after jobs.
type jobDispatcher interface {
	Submit(ctx context.Context, env *seeder.EnvironmentRef, cfg *seeder.Configuration, bundleZip string) (*seeder.Job, error)
	Stop(ctx context.Context, job *seeder.Job) error
	Cleanup(ctx context.Context, env *seeder.EnvironmentRef, job *seeder.Job) error
}

// WatchFunc watches one job to a terminal state. A fresh watcher is built per
// call so log and phase callbacks can carry per-call context.
type WatchFunc func(ctx context.Context, job *seeder.Job, opts monitor.Options) (*monitor.BuildInfo, error)

// History records deployments and job executions for later inspection.
// A nil history disables recording.
type History interface {
	RecordDeployment(ctx context.Context, env *seeder.EnvironmentRef) error
	RecordJob(ctx context.Context, job *seeder.Job, status seeder.JobStatus) error
}

// Components are the pipeline stages a Seeder is assembled from. Tests
// substitute fakes; production wiring comes from NewFromClients.
type Components struct {
	Registry    *seeder.Registry
	Builder     bundleBuilder
	Provisioner environmentProvider
	Dispatcher  jobDispatcher
	Watch       WatchFunc
}

// Options tune a Seeder.
type Options struct {
	// Region the seedkits are deployed to.
	Region string

	// DeployOptions are applied when a seedkit is provisioned lazily.
	DeployOptions seedkit.DeployOptions

	// PollInterval between build status polls. Zero means the monitor
	// default.
	PollInterval time.Duration

	// History records deployments and jobs. Optional.
	History History
}

// Seeder executes registered functions remotely on a seedkit.
type Seeder struct {
	registry    *seeder.Registry
	builder     bundleBuilder
	provisioner environmentProvider
	dispatcher  jobDispatcher
	watch       WatchFunc
	runner      runner
	opts        Options

	mu        sync.RWMutex
	functions map[string]Function
}

// New assembles a Seeder from explicit components. The execution side is
// picked once at construction: processes running inside a dispatched job
// execute calls locally, everything else dispatches them remotely.
func New(c Components, opts Options) (*Seeder, error) {
	if c.Registry == nil {
		return nil, fmt.Errorf("codeseeder: registry is required")
	}
	s := &Seeder{
		registry:    c.Registry,
		builder:     c.Builder,
		provisioner: c.Provisioner,
		dispatcher:  c.Dispatcher,
		watch:       c.Watch,
		opts:        opts,
		functions:   defaultFunctionTable(),
	}
	if seeder.ExecutingRemotely() {
		s.runner = &localRunner{seeder: s}
	} else {
		s.runner = &remoteRunner{seeder: s}
	}
	return s, nil
}

// NewFromClients assembles a Seeder on live AWS clients. Bundles are staged
// under workDir; an empty workDir means the current working directory.
func NewFromClients(clients *services.AWSClients, registry *seeder.Registry, workDir string, opts Options) (*Seeder, error) {
	if opts.Region == "" {
		opts.Region = clients.Region
	}
	return New(Components{
		Registry:    registry,
		Builder:     bundle.NewBuilder(workDir),
		Provisioner: seedkit.NewProvisioner(clients.CloudFormation, clients.S3, clients.STS),
		Dispatcher:  dispatch.NewDispatcher(clients.CodeBuild, clients.S3),
		Watch: func(ctx context.Context, job *seeder.Job, mopts monitor.Options) (*monitor.BuildInfo, error) {
			return monitor.New(clients.CodeBuild, clients.Logs, mopts).Watch(ctx, job)
		},
	}, opts)
}

// RegisterFunction adds a function to the table under its "module:function"
// identity. Registering the same identity again overwrites the previous
// entry.
func (s *Seeder) RegisterFunction(fnID string, fn Function) error {
	if err := validateFnID(fnID); err != nil {
		return err
	}
	if fn == nil {
		return seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("function %q is nil", fnID), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[fnID] = fn
	return nil
}

// lookupFunction resolves a function identity against the table.
func (s *Seeder) lookupFunction(fnID string) (Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[fnID]
	if !ok {
		return nil, seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("function %q is not registered", fnID), nil)
	}
	return fn, nil
}

// ExecutingRemotely reports which side of the process boundary this Seeder
// runs on.
func (s *Seeder) ExecutingRemotely() bool {
	_, ok := s.runner.(*localRunner)
	return ok
}

// RemoteCall executes the identified function against the named seedkit and
// returns its decoded result. On the dispatching side this runs the full
// pipeline; inside a dispatched job the function is invoked directly.
func (s *Seeder) RemoteCall(ctx context.Context, name, fnID string, args []interface{}, kwargs map[string]interface{}, overrides *seeder.Configuration) (*seeder.Result, error) {
	if err := validateFnID(fnID); err != nil {
		return nil, err
	}
	payload := seeder.CallPayload{FnID: fnID, Args: args, Kwargs: kwargs}
	return s.runner.run(ctx, name, payload, overrides)
}

// ExecutePayload invokes a decoded call payload against the function table.
// It is the entry point of the remote side of the boundary.
func (s *Seeder) ExecutePayload(ctx context.Context, payload seeder.CallPayload) (*seeder.Result, error) {
	return s.executeLocal(ctx, payload)
}

func validateFnID(fnID string) error {
	parts := strings.SplitN(fnID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("function id %q is not of the form module:function", fnID), nil)
	}
	return nil
}
