package dispatch

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/services"
)

// CodeBuildAPI is the CodeBuild surface used by the dispatcher.
type CodeBuildAPI interface {
	StartBuild(ctx context.Context, params *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
	StopBuild(ctx context.Context, params *codebuild.StopBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StopBuildOutput, error)
}

// Dispatcher submits bundles for remote execution.
type Dispatcher struct {
	codebuild CodeBuildAPI
	s3        services.S3API
}

// NewDispatcher builds a Dispatcher on the given service clients.
func NewDispatcher(cb CodeBuildAPI, s3api services.S3API) *Dispatcher {
	return &Dispatcher{codebuild: cb, s3: s3api}
}

// NewExecutionID returns a fresh per-call identifier: eight random lowercase
// letters, used in artifact keys and log stream names.
func NewExecutionID() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = letters[int(b)%len(letters)]
	}
	return string(buf)
}

// BundleKey returns the object key for an execution's bundle.
func BundleKey(executionID string) string {
	return fmt.Sprintf("codeseeder/%s/bundle.zip", executionID)
}

// StreamNamePrefix returns the CloudWatch Logs stream prefix of an execution.
func StreamNamePrefix(executionID string) string {
	return fmt.Sprintf("codeseeder-%s", executionID)
}

// Submit stages the bundle in the seedkit bucket and starts a CodeBuild job
// for it. The returned Job carries everything the monitor needs to track the
// execution.
func (d *Dispatcher) Submit(ctx context.Context, env *seeder.EnvironmentRef, cfg *seeder.Configuration, bundleZip string) (*seeder.Job, error) {
	executionID := NewExecutionID()

	bucket := env.Bucket()
	if bucket == "" {
		return nil, seeder.NewError(seeder.ErrCodeEnvironmentNotFound,
			"environment has no artifact bucket output", nil).WithSeedkit(env.Deployment.Name)
	}
	project := env.ProjectName()
	if project == "" {
		return nil, seeder.NewError(seeder.ErrCodeEnvironmentNotFound,
			"environment has no CodeBuild project output", nil).WithSeedkit(env.Deployment.Name)
	}

	var location string
	if cfg.PrebuiltBundle != "" {
		prebuiltBucket, key, err := parseS3URL(cfg.PrebuiltBundle)
		if err != nil {
			return nil, err
		}
		location = prebuiltBucket + "/" + key
	} else {
		key := BundleKey(executionID)
		// Stale objects under the same key would be served to the build.
		if err := services.DeleteObjects(ctx, d.s3, bucket, []string{key}); err != nil {
			return nil, seeder.NewError(seeder.ErrCodeDispatch,
				"failed to clear stale bundle object", err).WithSeedkit(env.Deployment.Name)
		}
		if err := services.UploadFile(ctx, d.s3, bundleZip, bucket, key); err != nil {
			return nil, seeder.NewError(seeder.ErrCodeDispatch,
				"failed to upload bundle", err).WithSeedkit(env.Deployment.Name)
		}
		location = bucket + "/" + key
	}

	spec, err := GenerateBuildspec(cfg, env)
	if err != nil {
		return nil, err
	}

	input := &codebuild.StartBuildInput{
		ProjectName:              aws.String(project),
		SourceTypeOverride:       cbtypes.SourceTypeS3,
		SourceLocationOverride:   aws.String(location),
		BuildspecOverride:        aws.String(spec),
		TimeoutInMinutesOverride: aws.Int32(int32(cfg.EffectiveTimeout() / time.Minute)),
		PrivilegedModeOverride:   aws.Bool(true),
		LogsConfigOverride: &cbtypes.LogsConfig{
			CloudWatchLogs: &cbtypes.CloudWatchLogsConfig{
				Status:     cbtypes.LogsConfigStatusTypeEnabled,
				GroupName:  aws.String(fmt.Sprintf("/aws/codebuild/%s", project)),
				StreamName: aws.String(StreamNamePrefix(executionID)),
			},
			S3Logs: &cbtypes.S3LogsConfig{Status: cbtypes.LogsConfigStatusTypeDisabled},
		},
	}
	applyOverrides(input, cfg)

	out, err := d.codebuild.StartBuild(ctx, input)
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeDispatch,
			fmt.Sprintf("failed to start build on project %s", project), err).WithSeedkit(env.Deployment.Name)
	}
	if out.Build == nil || out.Build.Id == nil {
		return nil, seeder.NewError(seeder.ErrCodeDispatch,
			"StartBuild returned no build id", nil).WithSeedkit(env.Deployment.Name)
	}

	job := &seeder.Job{
		ID:             aws.ToString(out.Build.Id),
		Seedkit:        env.Deployment.Name,
		ExecutionID:    executionID,
		BundleLocation: location,
		ProjectName:    project,
		StartTime:      time.Now().UTC(),
		Timeout:        cfg.EffectiveTimeout(),
	}
	log.Info().
		Str("seedkit", job.Seedkit).
		Str("build_id", job.ID).
		Str("execution_id", executionID).
		Msg("build submitted")
	return job, nil
}

// Stop requests a best-effort stop of a running job.
func (d *Dispatcher) Stop(ctx context.Context, job *seeder.Job) error {
	_, err := d.codebuild.StopBuild(ctx, &codebuild.StopBuildInput{Id: aws.String(job.ID)})
	if err != nil {
		return seeder.NewError(seeder.ErrCodeDispatch,
			fmt.Sprintf("failed to stop build %s", job.ID), err).WithJob(job.ID)
	}
	return nil
}

// Cleanup removes the staged bundle object of a finished job. Prebuilt
// bundles are left in place.
func (d *Dispatcher) Cleanup(ctx context.Context, env *seeder.EnvironmentRef, job *seeder.Job) error {
	prefix := env.Bucket() + "/"
	if !strings.HasPrefix(job.BundleLocation, prefix) {
		return nil
	}
	key := strings.TrimPrefix(job.BundleLocation, prefix)
	if key != BundleKey(job.ExecutionID) {
		return nil
	}
	return services.DeleteObjects(ctx, d.s3, env.Bucket(), []string{key})
}

func applyOverrides(input *codebuild.StartBuildInput, cfg *seeder.Configuration) {
	if cfg.CodeBuildImage != "" {
		input.ImageOverride = aws.String(cfg.CodeBuildImage)
		// Curated images are pulled with CodeBuild credentials, custom
		// images with the project's service role.
		if strings.HasPrefix(cfg.CodeBuildImage, "aws/") {
			input.ImagePullCredentialsTypeOverride = cbtypes.ImagePullCredentialsTypeCodebuild
		} else {
			input.ImagePullCredentialsTypeOverride = cbtypes.ImagePullCredentialsTypeServiceRole
		}
	}
	if cfg.CodeBuildRole != "" {
		input.ServiceRoleOverride = aws.String(cfg.CodeBuildRole)
	}
	if cfg.CodeBuildEnvironmentType != "" {
		input.EnvironmentTypeOverride = cbtypes.EnvironmentType(cfg.CodeBuildEnvironmentType)
	}
	if cfg.CodeBuildComputeType != "" {
		input.ComputeTypeOverride = cbtypes.ComputeType(cfg.CodeBuildComputeType)
	}
}

func parseS3URL(raw string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(raw, "s3://")
	if trimmed == raw {
		return "", "", seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("prebuilt bundle %q is not an s3:// URL", raw), nil)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("prebuilt bundle %q is missing a bucket or key", raw), nil)
	}
	return parts[0], parts[1], nil
}
