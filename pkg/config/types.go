package config

import (
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/seedkit"
)

// SeedkitSettings describes the seedkit deployment declared in a
// configuration file.
type SeedkitSettings struct {
	// Name is the seedkit name. Resource names derive from it.
	Name string `json:"name" validate:"required,min=1,max=40"`

	// Region overrides the region from the environment.
	Region string `json:"region,omitempty"`

	// DeployIfNotExists provisions the seedkit lazily on first use.
	DeployIfNotExists bool `json:"deploy_if_not_exists,omitempty"`

	// ManagedPolicyArns attach to the CodeBuild role.
	ManagedPolicyArns []string `json:"managed_policy_arns,omitempty" validate:"dive,startswith=arn:"`

	// PermissionsBoundaryArn bounds the CodeBuild role.
	PermissionsBoundaryArn string `json:"permissions_boundary_arn,omitempty" validate:"omitempty,startswith=arn:"`

	// RolePrefix places the CodeBuild role under an IAM path.
	RolePrefix string `json:"role_prefix,omitempty"`

	// DeployCodeArtifact provisions a CodeArtifact domain and repository.
	DeployCodeArtifact bool `json:"deploy_codeartifact,omitempty"`

	// VPC runs builds inside a VPC.
	VPC *VPCSettings `json:"vpc,omitempty"`
}

// VPCSettings place the CodeBuild project inside a VPC.
type VPCSettings struct {
	ID             string   `json:"id" validate:"required"`
	Subnets        []string `json:"subnets" validate:"min=1"`
	SecurityGroups []string `json:"security_groups" validate:"min=1"`
}

// EnvVarSpec declares one remote environment variable.
type EnvVarSpec struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty" validate:"omitempty,oneof=PLAINTEXT PARAMETER_STORE SECRETS_MANAGER"`
}

// ConfigurationSpec mirrors the per-deployment call defaults as they appear
// in a configuration file.
type ConfigurationSpec struct {
	TimeoutMinutes       int                   `json:"timeout_minutes,omitempty" validate:"min=0,max=480"`
	Modules              []string              `json:"modules,omitempty"`
	LocalModules         map[string]string     `json:"local_modules,omitempty"`
	RequirementsFiles    map[string]string     `json:"requirements_files,omitempty"`
	Dirs                 map[string]string     `json:"dirs,omitempty"`
	Files                map[string]string     `json:"files,omitempty"`
	InstallCommands      []string              `json:"install_commands,omitempty"`
	PreBuildCommands     []string              `json:"pre_build_commands,omitempty"`
	PreExecutionCommands []string              `json:"pre_execution_commands,omitempty"`
	BuildCommands        []string              `json:"build_commands,omitempty"`
	PostBuildCommands    []string              `json:"post_build_commands,omitempty"`
	EnvVars              map[string]EnvVarSpec `json:"env_vars,omitempty" validate:"dive"`
	ExportedEnvVars      []string              `json:"exported_env_vars,omitempty"`
	AbortPhasesOnFailure *bool                 `json:"abort_phases_on_failure,omitempty"`
	RuntimeVersions      map[string]string     `json:"runtime_versions,omitempty"`
	CodeBuildImage       string                `json:"codebuild_image,omitempty"`
	CodeBuildRole        string                `json:"codebuild_role,omitempty"`
	EnvironmentType      string                `json:"environment_type,omitempty"`
	ComputeType          string                `json:"compute_type,omitempty"`
	NpmMirror            string                `json:"npm_mirror,omitempty"`
	PypiMirror           string                `json:"pypi_mirror,omitempty"`
	PrebuiltBundle       string                `json:"prebuilt_bundle,omitempty" validate:"omitempty,startswith=s3://"`
}

// SeedkitFile is a fully parsed seedkit configuration file.
type SeedkitFile struct {
	// Seedkit is the deployment declaration.
	Seedkit SeedkitSettings `json:"seedkit"`

	// Configuration are the call defaults registered for the seedkit.
	Configuration ConfigurationSpec `json:"configuration"`

	// EnvExpressions map environment variable names to starlark expressions
	// evaluated at load time; results merge into Configuration.EnvVars as
	// plaintext values.
	EnvExpressions map[string]string `json:"env_expressions,omitempty"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "configuration.env_vars").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// ToConfiguration converts the file's call defaults to the registry form.
func (f *SeedkitFile) ToConfiguration() seeder.Configuration {
	spec := f.Configuration
	cfg := seeder.Configuration{
		Timeout:                  time.Duration(spec.TimeoutMinutes) * time.Minute,
		Modules:                  spec.Modules,
		LocalModules:             spec.LocalModules,
		RequirementsFiles:        spec.RequirementsFiles,
		Dirs:                     spec.Dirs,
		Files:                    spec.Files,
		InstallCommands:          spec.InstallCommands,
		PreBuildCommands:         spec.PreBuildCommands,
		PreExecutionCommands:     spec.PreExecutionCommands,
		BuildCommands:            spec.BuildCommands,
		PostBuildCommands:        spec.PostBuildCommands,
		ExportedEnvVars:          spec.ExportedEnvVars,
		AbortPhasesOnFailure:     spec.AbortPhasesOnFailure,
		RuntimeVersions:          spec.RuntimeVersions,
		CodeBuildImage:           spec.CodeBuildImage,
		CodeBuildRole:            spec.CodeBuildRole,
		CodeBuildEnvironmentType: spec.EnvironmentType,
		CodeBuildComputeType:     spec.ComputeType,
		NpmMirror:                spec.NpmMirror,
		PypiMirror:               spec.PypiMirror,
		PrebuiltBundle:           spec.PrebuiltBundle,
	}
	if len(spec.EnvVars) > 0 {
		cfg.EnvVars = make(map[string]seeder.EnvVar, len(spec.EnvVars))
		for name, v := range spec.EnvVars {
			cfg.EnvVars[name] = seeder.EnvVar{
				Value: v.Value,
				Type:  seeder.EnvVarType(v.Type),
			}
		}
	}
	return cfg
}

// ToDeployOptions converts the seedkit declaration to provisioning options.
func (f *SeedkitFile) ToDeployOptions() seedkit.DeployOptions {
	opts := seedkit.DeployOptions{
		ManagedPolicyArns:      f.Seedkit.ManagedPolicyArns,
		PermissionsBoundaryArn: f.Seedkit.PermissionsBoundaryArn,
		RolePrefix:             f.Seedkit.RolePrefix,
		DeployCodeArtifact:     f.Seedkit.DeployCodeArtifact,
	}
	if f.Seedkit.VPC != nil {
		opts.VpcID = f.Seedkit.VPC.ID
		opts.SubnetIDs = f.Seedkit.VPC.Subnets
		opts.SecurityGroupIDs = f.Seedkit.VPC.SecurityGroups
	}
	return opts
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
