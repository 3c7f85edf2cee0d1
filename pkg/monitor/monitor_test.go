package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// scriptedCodeBuild returns one scripted response per BatchGetBuilds call,
// repeating the last entry once the script is exhausted.
type scriptedCodeBuild struct {
	mu     sync.Mutex
	script []func() (*codebuild.BatchGetBuildsOutput, error)
	calls  int
}

func (f *scriptedCodeBuild) BatchGetBuilds(ctx context.Context, params *codebuild.BatchGetBuildsInput, optFns ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	return f.script[idx]()
}

type fakeLogs struct {
	mu         sync.Mutex
	streams    []string
	events     []cwltypes.OutputLogEvent
	startTimes []int64
}

func (f *fakeLogs) DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &cloudwatchlogs.DescribeLogStreamsOutput{}
	for _, s := range f.streams {
		out.LogStreams = append(out.LogStreams, cwltypes.LogStream{LogStreamName: aws.String(s)})
	}
	return out, nil
}

func (f *fakeLogs) GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startTimes = append(f.startTimes, aws.ToInt64(params.StartTime))
	start := aws.ToInt64(params.StartTime)
	out := &cloudwatchlogs.GetLogEventsOutput{}
	for _, e := range f.events {
		if aws.ToInt64(e.Timestamp) >= start {
			out.Events = append(out.Events, e)
		}
	}
	return out, nil
}

func buildResponse(status cbtypes.StatusType, phases ...cbtypes.BuildPhase) func() (*codebuild.BatchGetBuildsOutput, error) {
	return func() (*codebuild.BatchGetBuildsOutput, error) {
		return &codebuild.BatchGetBuildsOutput{
			Builds: []cbtypes.Build{{
				Id:           aws.String("codeseeder-demo:build-1"),
				BuildStatus:  status,
				CurrentPhase: aws.String("BUILD"),
				Phases:       phases,
				Logs: &cbtypes.LogsLocation{
					GroupName:  aws.String("/aws/codebuild/codeseeder-demo"),
					StreamName: aws.String("codeseeder-abcdefgh/uuid"),
					CloudWatchLogs: &cbtypes.CloudWatchLogsConfig{
						Status: cbtypes.LogsConfigStatusTypeEnabled,
					},
				},
				ExportedEnvironmentVariables: []cbtypes.ExportedEnvironmentVariable{
					{Name: aws.String(seeder.OutputEnvVar), Value: aws.String(`{"ok":true}`)},
				},
			}},
		}, nil
	}
}

func testJob() *seeder.Job {
	return &seeder.Job{
		ID:          "codeseeder-demo:build-1",
		Seedkit:     "demo",
		ExecutionID: "abcdefgh",
		ProjectName: "codeseeder-demo",
		StartTime:   time.Now().UTC(),
		Timeout:     5 * time.Second,
	}
}

func newTestMonitor(cb CodeBuildAPI, logs LogsAPI, opts Options) *Monitor {
	opts.PollInterval = time.Millisecond
	return New(cb, logs, opts)
}

func TestWatchSuccess(t *testing.T) {
	cb := &scriptedCodeBuild{script: []func() (*codebuild.BatchGetBuildsOutput, error){
		buildResponse(cbtypes.StatusTypeInProgress),
		buildResponse(cbtypes.StatusTypeSucceeded,
			cbtypes.BuildPhase{PhaseType: cbtypes.BuildPhaseTypeBuild, PhaseStatus: cbtypes.StatusTypeSucceeded},
		),
	}}
	logs := &fakeLogs{
		streams: []string{"codeseeder-abcdefgh/uuid"},
		events: []cwltypes.OutputLogEvent{
			{Timestamp: aws.Int64(1000), Message: aws.String("line one\n")},
			{Timestamp: aws.Int64(2000), Message: aws.String("line two\n")},
		},
	}

	var seenLines []string
	m := newTestMonitor(cb, logs, Options{
		LogCallback: func(line string) { seenLines = append(seenLines, line) },
	})
	info, err := m.Watch(context.Background(), testJob())
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if info.Status != seeder.JobStatusSucceeded {
		t.Errorf("status = %s", info.Status)
	}
	if info.ExportedVars[seeder.OutputEnvVar] != `{"ok":true}` {
		t.Errorf("exported vars = %v", info.ExportedVars)
	}
	if len(seenLines) == 0 || seenLines[0] != "line one" {
		t.Errorf("log lines = %v", seenLines)
	}
}

func TestWatchLogCursorAdvances(t *testing.T) {
	cb := &scriptedCodeBuild{script: []func() (*codebuild.BatchGetBuildsOutput, error){
		buildResponse(cbtypes.StatusTypeInProgress),
		buildResponse(cbtypes.StatusTypeInProgress),
		buildResponse(cbtypes.StatusTypeSucceeded),
	}}
	logs := &fakeLogs{
		streams: []string{"codeseeder-abcdefgh/uuid"},
		events: []cwltypes.OutputLogEvent{
			{Timestamp: aws.Int64(1000), Message: aws.String("line one")},
		},
	}

	m := newTestMonitor(cb, logs, Options{})
	if _, err := m.Watch(context.Background(), testJob()); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	if len(logs.startTimes) < 2 {
		t.Fatalf("expected at least two log polls, got %v", logs.startTimes)
	}
	// First poll reads from the head, later polls resume just past the
	// last observed event.
	if logs.startTimes[0] != 0 {
		t.Errorf("first poll start = %d, want 0", logs.startTimes[0])
	}
	for _, st := range logs.startTimes[1:] {
		if st != 1001 {
			t.Errorf("subsequent poll start = %d, want 1001", st)
		}
	}
}

func TestWatchJobFailureAttributesFirstFailedPhase(t *testing.T) {
	cb := &scriptedCodeBuild{script: []func() (*codebuild.BatchGetBuildsOutput, error){
		buildResponse(cbtypes.StatusTypeFailed,
			cbtypes.BuildPhase{PhaseType: cbtypes.BuildPhaseTypeInstall, PhaseStatus: cbtypes.StatusTypeSucceeded},
			cbtypes.BuildPhase{
				PhaseType:   cbtypes.BuildPhaseTypePreBuild,
				PhaseStatus: cbtypes.StatusTypeFailed,
				Contexts:    []cbtypes.PhaseContext{{Message: aws.String("command failed")}},
			},
			cbtypes.BuildPhase{PhaseType: cbtypes.BuildPhaseTypeBuild, PhaseStatus: cbtypes.StatusTypeFailed},
		),
	}}
	m := newTestMonitor(cb, &fakeLogs{}, Options{})

	_, err := m.Watch(context.Background(), testJob())
	if !seeder.IsJobFailure(err) {
		t.Fatalf("expected job failure, got %v", err)
	}
	var serr *seeder.SeederError
	if !errors.As(err, &serr) {
		t.Fatal("expected a classified error")
	}
	if serr.Phase != "PRE_BUILD" {
		t.Errorf("failure attributed to %q, want PRE_BUILD", serr.Phase)
	}
}

func TestWatchTimeoutIsNotJobFailure(t *testing.T) {
	cb := &scriptedCodeBuild{script: []func() (*codebuild.BatchGetBuildsOutput, error){
		buildResponse(cbtypes.StatusTypeInProgress),
	}}
	m := newTestMonitor(cb, &fakeLogs{}, Options{})

	job := testJob()
	job.Timeout = 20 * time.Millisecond
	_, err := m.Watch(context.Background(), job)
	if !seeder.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if seeder.IsJobFailure(err) {
		t.Error("a watch timeout must not be classified as a job failure")
	}
}

func TestWatchRecoversFromTransientPollFailures(t *testing.T) {
	pollErr := errors.New("throttled")
	cb := &scriptedCodeBuild{script: []func() (*codebuild.BatchGetBuildsOutput, error){
		func() (*codebuild.BatchGetBuildsOutput, error) { return nil, pollErr },
		func() (*codebuild.BatchGetBuildsOutput, error) { return nil, pollErr },
		buildResponse(cbtypes.StatusTypeSucceeded),
	}}
	m := newTestMonitor(cb, &fakeLogs{}, Options{})

	info, err := m.Watch(context.Background(), testJob())
	if err != nil {
		t.Fatalf("watch should have recovered: %v", err)
	}
	if info.Status != seeder.JobStatusSucceeded {
		t.Errorf("status = %s", info.Status)
	}
}

func TestWatchGivesUpAfterRetryBudget(t *testing.T) {
	pollErr := errors.New("service unavailable")
	cb := &scriptedCodeBuild{script: []func() (*codebuild.BatchGetBuildsOutput, error){
		func() (*codebuild.BatchGetBuildsOutput, error) { return nil, pollErr },
	}}
	m := newTestMonitor(cb, &fakeLogs{}, Options{MaxAPIRetries: 3})

	_, err := m.Watch(context.Background(), testJob())
	if !seeder.IsMonitorError(err) {
		t.Fatalf("expected monitor error, got %v", err)
	}
	if !seeder.IsRetryable(err) {
		t.Error("exhausted poll failures should be classified transient")
	}
	if cb.calls != 3 {
		t.Errorf("expected 3 poll attempts, got %d", cb.calls)
	}
}

func TestWatchReportsPhaseTransitionsOnce(t *testing.T) {
	phases := []cbtypes.BuildPhase{
		{PhaseType: cbtypes.BuildPhaseTypeInstall, PhaseStatus: cbtypes.StatusTypeSucceeded},
	}
	cb := &scriptedCodeBuild{script: []func() (*codebuild.BatchGetBuildsOutput, error){
		buildResponse(cbtypes.StatusTypeInProgress, phases...),
		buildResponse(cbtypes.StatusTypeInProgress, phases...),
		buildResponse(cbtypes.StatusTypeSucceeded, phases...),
	}}

	var transitions []seeder.PhaseInfo
	m := newTestMonitor(cb, &fakeLogs{}, Options{
		PhaseCallback: func(info seeder.PhaseInfo) { transitions = append(transitions, info) },
	})
	if _, err := m.Watch(context.Background(), testJob()); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	count := 0
	for _, tr := range transitions {
		if tr.Phase == seeder.PhaseInstall && tr.Status == seeder.PhaseStatusSucceeded {
			count++
		}
	}
	if count != 1 {
		t.Errorf("INSTALL/SUCCEEDED reported %d times, want once", count)
	}
}
