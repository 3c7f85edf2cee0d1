// Package monitor tracks a dispatched CodeBuild job to completion, streaming
// its CloudWatch logs and reporting phase transitions along the way.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultMaxAPIRetries = 5
	logTailSize          = 10
)

// CodeBuildAPI is the CodeBuild surface used by the monitor.
type CodeBuildAPI interface {
	BatchGetBuilds(ctx context.Context, params *codebuild.BatchGetBuildsInput, optFns ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error)
}

// LogsAPI is the CloudWatch Logs surface used by the monitor.
type LogsAPI interface {
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// Options tune the monitor's polling behavior and callbacks.
type Options struct {
	// PollInterval between build status polls. Defaults to 5 seconds.
	PollInterval time.Duration

	// MaxAPIRetries bounds consecutive transient API failures before the
	// watch gives up. Defaults to 5.
	MaxAPIRetries int

	// LogCallback receives each remote log line as it is observed.
	LogCallback func(line string)

	// PhaseCallback receives each phase transition as it is observed.
	PhaseCallback func(info seeder.PhaseInfo)
}

// BuildInfo is the final observed state of a watched job.
type BuildInfo struct {
	BuildID      string
	Status       seeder.JobStatus
	CurrentPhase seeder.JobPhase
	Phases       []seeder.PhaseInfo
	ExportedVars map[string]string
	LogGroup     string
	LogStream    string
}

// Monitor watches dispatched jobs until they reach a terminal state.
type Monitor struct {
	codebuild CodeBuildAPI
	logs      LogsAPI
	opts      Options
}

// New builds a Monitor on the given service clients.
func New(cb CodeBuildAPI, logs LogsAPI, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxAPIRetries <= 0 {
		opts.MaxAPIRetries = defaultMaxAPIRetries
	}
	return &Monitor{codebuild: cb, logs: logs, opts: opts}
}

// Watch polls the job until it reaches a terminal state, pumping logs and
// phase transitions through the configured callbacks. It returns the final
// build info on success, a job-failure error when a phase fails, and a
// timeout error when the job's deadline elapses before completion. The
// deadline elapsing is not a job failure: the remote outcome is unknown.
func (m *Monitor) Watch(ctx context.Context, job *seeder.Job) (*BuildInfo, error) {
	deadline := job.StartTime.Add(job.Timeout)
	cursor := logCursor{
		prefix: fmt.Sprintf("codeseeder-%s/", job.ExecutionID),
	}
	seenPhases := map[string]bool{}
	tail := make([]string, 0, logTailSize)
	failures := 0

	for {
		info, err := m.fetchBuild(ctx, job.ID)
		if err != nil {
			failures++
			if failures >= m.opts.MaxAPIRetries {
				return nil, seeder.NewTransientError(seeder.ErrCodeMonitor,
					fmt.Sprintf("giving up watching build %s after %d consecutive poll failures", job.ID, failures),
					err).WithJob(job.ID)
			}
			log.Warn().Err(err).Str("build_id", job.ID).Int("failures", failures).Msg("build poll failed")
			if err := m.sleep(ctx, job, deadline); err != nil {
				return nil, err
			}
			continue
		}
		failures = 0

		m.reportPhases(info, seenPhases)

		if info.LogGroup != "" {
			lines, err := m.pumpLogs(ctx, info.LogGroup, &cursor)
			if err != nil {
				log.Debug().Err(err).Msg("log pump failed")
			}
			for _, line := range lines {
				tail = appendTail(tail, line)
				if m.opts.LogCallback != nil {
					m.opts.LogCallback(line)
				}
			}
		}

		if info.Status.IsTerminal() {
			return m.finish(job, info, tail)
		}

		if err := m.sleep(ctx, job, deadline); err != nil {
			return nil, err
		}
	}
}

func (m *Monitor) finish(job *seeder.Job, info *BuildInfo, tail []string) (*BuildInfo, error) {
	switch info.Status {
	case seeder.JobStatusSucceeded:
		return info, nil
	case seeder.JobStatusTimedOut:
		return nil, seeder.NewError(seeder.ErrCodeTimeout,
			fmt.Sprintf("build %s timed out remotely", job.ID), nil).
			WithJob(job.ID).WithSeedkit(job.Seedkit)
	}

	err := seeder.NewError(seeder.ErrCodeJobFailure,
		fmt.Sprintf("build %s finished with status %s", job.ID, info.Status), nil).
		WithJob(job.ID).WithSeedkit(job.Seedkit).WithLogTail(tail)
	if failed, ok := seeder.FirstFailure(info.Phases); ok {
		err = err.WithPhase(string(failed.Phase))
	}
	return nil, err
}

func (m *Monitor) sleep(ctx context.Context, job *seeder.Job, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return seeder.NewError(seeder.ErrCodeTimeout,
			fmt.Sprintf("watch of build %s exceeded the %s timeout", job.ID, job.Timeout), nil).
			WithJob(job.ID).WithSeedkit(job.Seedkit)
	}
	interval := m.opts.PollInterval
	if interval > remaining {
		interval = remaining
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return seeder.NewError(seeder.ErrCodeMonitor,
			fmt.Sprintf("watch of build %s canceled", job.ID), ctx.Err()).WithJob(job.ID)
	case <-timer.C:
		return nil
	}
}

func (m *Monitor) fetchBuild(ctx context.Context, buildID string) (*BuildInfo, error) {
	out, err := m.codebuild.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: []string{buildID}})
	if err != nil {
		return nil, err
	}
	if len(out.Builds) == 0 {
		return nil, fmt.Errorf("build %s not found", buildID)
	}
	build := out.Builds[0]

	info := &BuildInfo{
		BuildID:      buildID,
		Status:       seeder.JobStatus(build.BuildStatus),
		CurrentPhase: seeder.JobPhase(aws.ToString(build.CurrentPhase)),
		ExportedVars: map[string]string{},
	}
	for _, v := range build.ExportedEnvironmentVariables {
		info.ExportedVars[aws.ToString(v.Name)] = aws.ToString(v.Value)
	}
	for _, p := range build.Phases {
		info.Phases = append(info.Phases, seeder.PhaseInfo{
			Phase:   seeder.JobPhase(p.PhaseType),
			Status:  seeder.PhaseStatus(p.PhaseStatus),
			Message: phaseMessage(p),
		})
	}
	if build.Logs != nil && build.Logs.CloudWatchLogs != nil &&
		build.Logs.CloudWatchLogs.Status == cbtypes.LogsConfigStatusTypeEnabled {
		info.LogGroup = aws.ToString(build.Logs.GroupName)
		info.LogStream = aws.ToString(build.Logs.StreamName)
	}
	return info, nil
}

func (m *Monitor) reportPhases(info *BuildInfo, seen map[string]bool) {
	for _, p := range info.Phases {
		key := string(p.Phase) + "/" + string(p.Status)
		if p.Status == "" || seen[key] {
			continue
		}
		seen[key] = true
		log.Debug().Str("phase", string(p.Phase)).Str("status", string(p.Status)).Msg("phase transition")
		if m.opts.PhaseCallback != nil {
			m.opts.PhaseCallback(p)
		}
	}
}

// logCursor tracks progress through the job's log stream. The next read
// starts one millisecond after the last observed event so no event is
// replayed and none is skipped.
type logCursor struct {
	prefix    string
	stream    string
	startTime int64
}

func (m *Monitor) pumpLogs(ctx context.Context, group string, cursor *logCursor) ([]string, error) {
	if cursor.stream == "" {
		out, err := m.logs.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
			LogGroupName:        aws.String(group),
			LogStreamNamePrefix: aws.String(cursor.prefix),
			Limit:               aws.Int32(1),
		})
		if err != nil {
			return nil, err
		}
		if len(out.LogStreams) == 0 {
			return nil, nil
		}
		cursor.stream = aws.ToString(out.LogStreams[0].LogStreamName)
	}

	input := &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(cursor.stream),
		StartFromHead: aws.Bool(true),
	}
	if cursor.startTime > 0 {
		input.StartTime = aws.Int64(cursor.startTime)
	}
	out, err := m.logs.GetLogEvents(ctx, input)
	if err != nil {
		return nil, err
	}

	var lines []string
	var last int64
	for _, event := range out.Events {
		lines = append(lines, strings.TrimSuffix(aws.ToString(event.Message), "\n"))
		if ts := aws.ToInt64(event.Timestamp); ts > last {
			last = ts
		}
	}
	if last > 0 {
		cursor.startTime = last + 1
	}
	return lines, nil
}

func appendTail(tail []string, line string) []string {
	if len(tail) == logTailSize {
		copy(tail, tail[1:])
		tail = tail[:logTailSize-1]
	}
	return append(tail, line)
}

func phaseMessage(p cbtypes.BuildPhase) string {
	for _, c := range p.Contexts {
		if msg := aws.ToString(c.Message); msg != "" {
			return msg
		}
	}
	return ""
}
