package codeseeder

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/bundle"
	"github.com/awslabs/aws-codeseeder/pkg/monitor"
	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/seedkit"
)

type fakeBuilder struct {
	calls    int
	lastSpec bundle.Spec
	err      error
}

func (f *fakeBuilder) Build(ctx context.Context, spec bundle.Spec, bundleID string) (*bundle.Bundle, error) {
	f.calls++
	f.lastSpec = spec
	if f.err != nil {
		return nil, f.err
	}
	return &bundle.Bundle{ID: "test-bundle", ZipPath: "/nonexistent/bundle.zip"}, nil
}

type fakeProvisioner struct {
	calls               int
	lastDeployIfMissing bool
	env                 *seeder.EnvironmentRef
	err                 error
}

func (f *fakeProvisioner) Ensure(ctx context.Context, d seeder.Deployment, deployIfMissing bool, opts seedkit.DeployOptions) (*seeder.EnvironmentRef, error) {
	f.calls++
	f.lastDeployIfMissing = deployIfMissing
	if f.err != nil {
		return nil, f.err
	}
	return f.env, nil
}

type fakeDispatcher struct {
	submits  int
	stops    int
	cleanups int
	lastZip  string
	job      *seeder.Job
	err      error
}

func (f *fakeDispatcher) Submit(ctx context.Context, env *seeder.EnvironmentRef, cfg *seeder.Configuration, bundleZip string) (*seeder.Job, error) {
	f.submits++
	f.lastZip = bundleZip
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeDispatcher) Stop(ctx context.Context, job *seeder.Job) error {
	f.stops++
	return nil
}

func (f *fakeDispatcher) Cleanup(ctx context.Context, env *seeder.EnvironmentRef, job *seeder.Job) error {
	f.cleanups++
	return nil
}

type fakeHistory struct {
	deployments int
	jobs        []seeder.JobStatus
}

func (f *fakeHistory) RecordDeployment(ctx context.Context, env *seeder.EnvironmentRef) error {
	f.deployments++
	return nil
}

func (f *fakeHistory) RecordJob(ctx context.Context, job *seeder.Job, status seeder.JobStatus) error {
	f.jobs = append(f.jobs, status)
	return nil
}

func testEnvironment() *seeder.EnvironmentRef {
	return &seeder.EnvironmentRef{
		Deployment: seeder.Deployment{Name: "toolkit", Region: "us-east-1"},
		StackName:  "aws-codeseeder-toolkit",
		Outputs: map[string]string{
			seeder.OutputBucket:           "toolkit-bucket",
			seeder.OutputCodeBuildProject: "codeseeder-toolkit",
		},
	}
}

func testJob() *seeder.Job {
	return &seeder.Job{
		ID:          "codeseeder-toolkit:1234",
		Seedkit:     "toolkit",
		ExecutionID: "abcdefgh",
		ProjectName: "codeseeder-toolkit",
		StartTime:   time.Now(),
		Timeout:     30 * time.Minute,
	}
}

type testHarness struct {
	seeder      *Seeder
	builder     *fakeBuilder
	provisioner *fakeProvisioner
	dispatcher  *fakeDispatcher
	watches     *int
	watchResult *monitor.BuildInfo
	watchErr    error
}

func newTestSeeder(t *testing.T, opts Options) *testHarness {
	t.Helper()

	registry := seeder.NewRegistry()
	registry.Configure("toolkit", seeder.Configuration{}, true)

	h := &testHarness{
		builder:     &fakeBuilder{},
		provisioner: &fakeProvisioner{env: testEnvironment()},
		dispatcher:  &fakeDispatcher{job: testJob()},
		watches:     new(int),
		watchResult: &monitor.BuildInfo{
			BuildID:      "codeseeder-toolkit:1234",
			Status:       seeder.JobStatusSucceeded,
			ExportedVars: map[string]string{seeder.OutputEnvVar: `{"answer": 42}`},
		},
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	s, err := New(Components{
		Registry:    registry,
		Builder:     h.builder,
		Provisioner: h.provisioner,
		Dispatcher:  h.dispatcher,
		Watch: func(ctx context.Context, job *seeder.Job, mopts monitor.Options) (*monitor.BuildInfo, error) {
			*h.watches++
			if h.watchErr != nil {
				return nil, h.watchErr
			}
			return h.watchResult, nil
		},
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.seeder = s
	return h
}

func TestRemoteCallRunsFullPipeline(t *testing.T) {
	h := newTestSeeder(t, Options{})

	res, err := h.seeder.RemoteCall(context.Background(), "toolkit", "deploy:apply",
		[]interface{}{"a"}, map[string]interface{}{"k": "v"}, nil)
	if err != nil {
		t.Fatalf("RemoteCall: %v", err)
	}

	if h.builder.calls != 1 || h.provisioner.calls != 1 || h.dispatcher.submits != 1 || *h.watches != 1 {
		t.Fatalf("pipeline stages ran build=%d ensure=%d submit=%d watch=%d, want 1 each",
			h.builder.calls, h.provisioner.calls, h.dispatcher.submits, *h.watches)
	}
	if h.dispatcher.cleanups != 1 {
		t.Fatalf("cleanups = %d, want 1", h.dispatcher.cleanups)
	}
	if !h.provisioner.lastDeployIfMissing {
		t.Fatal("Ensure called with deployIfMissing=false, want true from registry")
	}

	want := map[string]interface{}{"answer": float64(42)}
	if !reflect.DeepEqual(res.ReturnValue, want) {
		t.Fatalf("ReturnValue = %#v, want %#v", res.ReturnValue, want)
	}
	if h.builder.lastSpec.Payload.FnID != "deploy:apply" {
		t.Fatalf("bundled FnID = %q", h.builder.lastSpec.Payload.FnID)
	}
}

func TestRemoteCallUnknownSeedkitFailsEarly(t *testing.T) {
	h := newTestSeeder(t, Options{})

	_, err := h.seeder.RemoteCall(context.Background(), "unknown", "deploy:apply", nil, nil, nil)
	if !seeder.IsConfigurationError(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if h.builder.calls != 0 || h.provisioner.calls != 0 || h.dispatcher.submits != 0 {
		t.Fatal("pipeline stages ran after resolution failure")
	}
}

func TestRemoteCallInvalidFunctionID(t *testing.T) {
	h := newTestSeeder(t, Options{})

	for _, fnID := range []string{"", "noseparator", ":fn", "module:"} {
		if _, err := h.seeder.RemoteCall(context.Background(), "toolkit", fnID, nil, nil, nil); !seeder.IsConfigurationError(err) {
			t.Fatalf("fnID %q: err = %v, want configuration error", fnID, err)
		}
	}
}

func TestRemoteCallPrebuiltBundleSkipsBuild(t *testing.T) {
	h := newTestSeeder(t, Options{})

	overrides := &seeder.Configuration{PrebuiltBundle: "s3://other-bucket/bundle.zip"}
	if _, err := h.seeder.RemoteCall(context.Background(), "toolkit", "deploy:apply", nil, nil, overrides); err != nil {
		t.Fatalf("RemoteCall: %v", err)
	}
	if h.builder.calls != 0 {
		t.Fatalf("builder ran %d times, want 0 with prebuilt bundle", h.builder.calls)
	}
	if h.dispatcher.lastZip != "" {
		t.Fatalf("Submit received local zip %q, want none", h.dispatcher.lastZip)
	}
}

func TestRemoteCallWatchFailureStillCleansUp(t *testing.T) {
	h := newTestSeeder(t, Options{})
	h.watchErr = seeder.NewError(seeder.ErrCodeJobFailure, "phase PRE_BUILD failed", nil)

	_, err := h.seeder.RemoteCall(context.Background(), "toolkit", "deploy:apply", nil, nil, nil)
	if !seeder.IsJobFailure(err) {
		t.Fatalf("err = %v, want job failure", err)
	}
	if h.dispatcher.cleanups != 1 {
		t.Fatalf("cleanups = %d, want 1 after failed watch", h.dispatcher.cleanups)
	}
}

func TestRemoteCallStopsBuildOnCancellation(t *testing.T) {
	h := newTestSeeder(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	h.watchErr = seeder.NewTransientError(seeder.ErrCodeMonitor, "canceled", context.Canceled)

	done := make(chan error, 1)
	s := h.seeder
	// Cancel before the watch runs so watchJob observes ctx.Err() != nil.
	cancel()
	go func() {
		_, err := s.RemoteCall(ctx, "toolkit", "deploy:apply", nil, nil, nil)
		done <- err
	}()

	if err := <-done; err == nil {
		t.Fatal("RemoteCall succeeded, want error after cancellation")
	}
	if h.dispatcher.stops != 1 {
		t.Fatalf("stops = %d, want 1 best-effort stop", h.dispatcher.stops)
	}
}

func TestRemoteCallRecordsHistory(t *testing.T) {
	history := &fakeHistory{}
	h := newTestSeeder(t, Options{History: history})

	if _, err := h.seeder.RemoteCall(context.Background(), "toolkit", "deploy:apply", nil, nil, nil); err != nil {
		t.Fatalf("RemoteCall: %v", err)
	}
	if history.deployments != 1 {
		t.Fatalf("deployments recorded = %d, want 1", history.deployments)
	}
	if len(history.jobs) != 1 || history.jobs[0] != seeder.JobStatusSucceeded {
		t.Fatalf("jobs recorded = %v, want [SUCCEEDED]", history.jobs)
	}
}

func TestRegisterFunctionValidation(t *testing.T) {
	h := newTestSeeder(t, Options{})

	if err := h.seeder.RegisterFunction("deploy:apply", nil); !seeder.IsConfigurationError(err) {
		t.Fatalf("nil function: err = %v, want configuration error", err)
	}
	if err := h.seeder.RegisterFunction("broken", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	}); !seeder.IsConfigurationError(err) {
		t.Fatalf("bad id: err = %v, want configuration error", err)
	}
}

func TestExecutePayloadInvokesRegisteredFunction(t *testing.T) {
	h := newTestSeeder(t, Options{})

	var gotArgs []interface{}
	err := h.seeder.RegisterFunction("deploy:apply", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		gotArgs = args
		return map[string]interface{}{"ok": true}, nil
	})
	if err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}
	t.Cleanup(func() { os.Remove(seeder.ExportFilePath) })

	res, err := h.seeder.ExecutePayload(context.Background(), seeder.CallPayload{
		FnID: "deploy:apply",
		Args: []interface{}{"x", float64(1)},
	})
	if err != nil {
		t.Fatalf("ExecutePayload: %v", err)
	}
	if !reflect.DeepEqual(gotArgs, []interface{}{"x", float64(1)}) {
		t.Fatalf("args = %#v", gotArgs)
	}
	if res.ReturnValue == nil {
		t.Fatal("ReturnValue is nil")
	}
	if _, err := os.Stat(seeder.ExportFilePath); err != nil {
		t.Fatalf("export file not written: %v", err)
	}
}

func TestExecutePayloadUnregisteredFunction(t *testing.T) {
	h := newTestSeeder(t, Options{})

	_, err := h.seeder.ExecutePayload(context.Background(), seeder.CallPayload{FnID: "missing:fn"})
	if !seeder.IsConfigurationError(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestExecutePayloadUnserializableResult(t *testing.T) {
	h := newTestSeeder(t, Options{})

	if err := h.seeder.RegisterFunction("deploy:bad", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return make(chan int), nil
	}); err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}

	_, err := h.seeder.ExecutePayload(context.Background(), seeder.CallPayload{FnID: "deploy:bad"})
	if !seeder.IsSerializationError(err) {
		t.Fatalf("err = %v, want serialization error", err)
	}
}

func TestRunnerSelectionFollowsEnvironment(t *testing.T) {
	t.Setenv(seeder.ExecutingEnvVar, "Yes")
	h := newTestSeeder(t, Options{})
	if !h.seeder.ExecutingRemotely() {
		t.Fatal("Seeder built inside a job should run locally")
	}

	// A local call never touches the pipeline.
	if err := h.seeder.RegisterFunction("deploy:apply", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}
	if _, err := h.seeder.RemoteCall(context.Background(), "toolkit", "deploy:apply", nil, nil, nil); err != nil {
		t.Fatalf("RemoteCall: %v", err)
	}
	if h.dispatcher.submits != 0 {
		t.Fatal("local execution dispatched a build")
	}
}

func TestLocalFunctionErrorPropagates(t *testing.T) {
	t.Setenv(seeder.ExecutingEnvVar, "Yes")
	h := newTestSeeder(t, Options{})

	wantErr := errors.New("boom")
	if err := h.seeder.RegisterFunction("deploy:apply", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, wantErr
	}); err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}

	_, err := h.seeder.RemoteCall(context.Background(), "toolkit", "deploy:apply", nil, nil, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
