package seeder

import (
	"fmt"
	"os"
	"time"
)

// Deployment identifies a named, region-scoped provisioning domain. All
// remote resources backing the deployment derive their names from it.
type Deployment struct {
	// Name is the seedkit name. Resource names include it.
	Name string `json:"name"`

	// Region is the AWS region the seedkit is deployed to. Global resource
	// names (S3, IAM) also include the region so the same seedkit name can
	// exist in multiple regions.
	Region string `json:"region"`
}

// StackName returns the CloudFormation stack name backing this deployment.
func (d Deployment) StackName() string {
	return fmt.Sprintf("aws-codeseeder-%s", d.Name)
}

// ResourcePrefix returns the naming prefix applied to resources provisioned
// for this deployment.
func (d Deployment) ResourcePrefix() string {
	return fmt.Sprintf("codeseeder-%s-%s", d.Name, d.Region)
}

// EnvVarType identifies how an environment variable value is sourced inside
// the remote execution.
type EnvVarType string

const (
	// EnvVarPlaintext passes the value through as-is.
	EnvVarPlaintext EnvVarType = "PLAINTEXT"

	// EnvVarParameterStore resolves the value from SSM Parameter Store at
	// execution time.
	EnvVarParameterStore EnvVarType = "PARAMETER_STORE"

	// EnvVarSecretsManager resolves the value from Secrets Manager at
	// execution time.
	EnvVarSecretsManager EnvVarType = "SECRETS_MANAGER"
)

// EnvVar declares an environment variable made available inside the remote
// execution. The zero Type means plaintext.
type EnvVar struct {
	Value string     `json:"value"`
	Type  EnvVarType `json:"type,omitempty"`
}

// Configuration is the resolved set of options scoped to one deployment.
// It is fully resolved before bundling begins and immutable for the duration
// of one remote call.
type Configuration struct {
	// Timeout bounds the remote execution. Zero means the 30 minute default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Modules lists packages to install from the package repository during
	// the install phase.
	Modules []string `json:"modules,omitempty"`

	// LocalModules maps a logical module name to a local directory that is
	// bundled and installed during the install phase.
	LocalModules map[string]string `json:"local_modules,omitempty"`

	// RequirementsFiles maps a logical name to a local requirements file
	// that is bundled and installed during the install phase.
	RequirementsFiles map[string]string `json:"requirements_files,omitempty"`

	// Dirs maps a logical path (forward-slash separated, may be nested) to a
	// local directory included in the bundle.
	Dirs map[string]string `json:"dirs,omitempty"`

	// Files maps a logical path (forward-slash separated, may be nested) to
	// a local file included in the bundle.
	Files map[string]string `json:"files,omitempty"`

	// InstallCommands run during the install phase, after dependency installs.
	InstallCommands []string `json:"install_commands,omitempty"`

	// PreBuildCommands run during the pre_build phase.
	PreBuildCommands []string `json:"pre_build_commands,omitempty"`

	// PreExecutionCommands run during the build phase, before the remote
	// function is invoked.
	PreExecutionCommands []string `json:"pre_execution_commands,omitempty"`

	// BuildCommands run during the build phase, after the remote function.
	BuildCommands []string `json:"build_commands,omitempty"`

	// PostBuildCommands run during the post_build phase.
	PostBuildCommands []string `json:"post_build_commands,omitempty"`

	// EnvVars are set in the remote execution.
	EnvVars map[string]EnvVar `json:"env_vars,omitempty"`

	// ExportedEnvVars lists variable names the remote execution exports back
	// to the caller.
	ExportedEnvVars []string `json:"exported_env_vars,omitempty"`

	// AbortPhasesOnFailure toggles fail-fast behavior between phases.
	// Nil means the default, true.
	AbortPhasesOnFailure *bool `json:"abort_phases_on_failure,omitempty"`

	// RuntimeVersions overrides runtimes installed during the install phase
	// (e.g. {"python": "3.11"}).
	RuntimeVersions map[string]string `json:"runtime_versions,omitempty"`

	// CodeBuildImage overrides the container image of the execution.
	CodeBuildImage string `json:"codebuild_image,omitempty"`

	// CodeBuildRole overrides the IAM role of the execution.
	CodeBuildRole string `json:"codebuild_role,omitempty"`

	// CodeBuildEnvironmentType overrides the environment type (e.g.
	// LINUX_CONTAINER).
	CodeBuildEnvironmentType string `json:"codebuild_environment_type,omitempty"`

	// CodeBuildComputeType overrides the compute type (e.g.
	// BUILD_GENERAL1_SMALL).
	CodeBuildComputeType string `json:"codebuild_compute_type,omitempty"`

	// NpmMirror configures an npm registry mirror for the install phase.
	NpmMirror string `json:"npm_mirror,omitempty"`

	// PypiMirror configures a pypi index mirror for the install phase.
	PypiMirror string `json:"pypi_mirror,omitempty"`

	// PrebuiltBundle is an s3://bucket/key location of a previously built
	// bundle to use instead of bundling locally.
	PrebuiltBundle string `json:"prebuilt_bundle,omitempty"`
}

// AbortOnFailure returns the effective fail-fast policy.
func (c *Configuration) AbortOnFailure() bool {
	if c.AbortPhasesOnFailure == nil {
		return true
	}
	return *c.AbortPhasesOnFailure
}

// EffectiveTimeout returns the execution timeout with the default applied.
func (c *Configuration) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Minute
	}
	return c.Timeout
}

// CallPayload carries the function identity and arguments across the process
// boundary. It is serialized into the bundle as fn_args.json and decoded by
// the remote side to reconstruct and invoke the call.
type CallPayload struct {
	// FnID identifies the target function as "module:function".
	FnID string `json:"fn_id"`

	// Args are the positional arguments, restricted to the JSON value domain.
	Args []interface{} `json:"args"`

	// Kwargs are the named arguments, restricted to the JSON value domain.
	Kwargs map[string]interface{} `json:"kwargs"`
}

// EnvironmentRef references a provisioned seedkit environment and the stack
// outputs required to dispatch jobs against it.
type EnvironmentRef struct {
	// Deployment is the deployment this environment backs.
	Deployment Deployment `json:"deployment"`

	// StackName is the CloudFormation stack backing the environment.
	StackName string `json:"stack_name"`

	// Outputs are the stack outputs (bucket, project, role, key ids).
	Outputs map[string]string `json:"outputs"`
}

// Well-known stack output keys.
const (
	OutputBucket                 = "Bucket"
	OutputCodeBuildProject       = "CodeBuildProject"
	OutputCodeBuildRole          = "CodeBuildRole"
	OutputKMSKey                 = "KMSKey"
	OutputDeployID               = "DeployId"
	OutputCodeArtifactDomain     = "CodeArtifactDomain"
	OutputCodeArtifactRepository = "CodeArtifactRepository"
)

// Bucket returns the artifact bucket of the environment.
func (e *EnvironmentRef) Bucket() string {
	return e.Outputs[OutputBucket]
}

// ProjectName returns the CodeBuild project of the environment.
func (e *EnvironmentRef) ProjectName() string {
	return e.Outputs[OutputCodeBuildProject]
}

// Job is one remote execution of a bundle against an environment.
type Job struct {
	// ID is the CodeBuild build id.
	ID string `json:"id"`

	// Seedkit is the deployment name the job runs against.
	Seedkit string `json:"seedkit"`

	// ExecutionID is the per-call identifier used in artifact keys and log
	// stream names.
	ExecutionID string `json:"execution_id"`

	// BundleLocation is the bucket/key of the uploaded bundle.
	BundleLocation string `json:"bundle_location"`

	// ProjectName is the CodeBuild project the job was started on.
	ProjectName string `json:"project_name"`

	// StartTime is when the job was submitted.
	StartTime time.Time `json:"start_time"`

	// Timeout bounds the remote execution.
	Timeout time.Duration `json:"timeout"`
}

// Environment contract between the dispatching process and the remote
// execution.
const (
	// ExecutingEnvVar marks a process as running inside the remote
	// environment. Set to "Yes" in every dispatched job.
	ExecutingEnvVar = "AWS_CODESEEDER_CLI_EXECUTING"

	// OutputEnvVar carries the JSON-encoded return value of the remote
	// function back through exported build variables.
	OutputEnvVar = "AWS_CODESEEDER_OUTPUT"

	// ExportFilePath is where the remote side writes the export script that
	// publishes OutputEnvVar into the build environment.
	ExportFilePath = "/tmp/codeseeder_export.sh"

	// NpmMirrorSecretEnvVar names the Secrets Manager secret holding npm
	// mirror credentials, optionally suffixed "::<alias>".
	NpmMirrorSecretEnvVar = "AWS_CODESEEDER_NPM_MIRROR_SECRET"

	// PypiMirrorSecretEnvVar names the Secrets Manager secret holding pypi
	// mirror credentials, optionally suffixed "::<alias>".
	PypiMirrorSecretEnvVar = "AWS_CODESEEDER_PYPI_MIRROR_SECRET"
)

// ExecutingRemotely reports whether this process runs inside a dispatched
// job.
func ExecutingRemotely() bool {
	return os.Getenv(ExecutingEnvVar) == "Yes"
}

// Result is the decoded payload produced by a completed job.
type Result struct {
	// ExportedVars maps exported environment-variable names to values.
	ExportedVars map[string]string `json:"exported_vars"`

	// ReturnValue is the JSON-decoded return value of the remote function,
	// or nil when the remote function produced none.
	ReturnValue interface{} `json:"return_value,omitempty"`
}
