package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("seedkit", builtinSeedkitSchema)
	sr.RegisterSchema("configuration", builtinConfigurationSchema)
	sr.RegisterSchema("env_var", builtinEnvVarSchema)
	sr.RegisterSchema("vpc", builtinVPCSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	// Schemas declare their constraints in a definition; unify against the
	// definition itself, not the enclosing file.
	if iter, err := val.Fields(cue.Definitions(true)); err == nil {
		for iter.Next() {
			if iter.Selector().IsDefinition() {
				val = iter.Value()
				break
			}
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinSeedkitSchema = `
// Seedkit schema for the deployment declaration
#Seedkit: {
	// Name is the seedkit name; resource names derive from it
	name: string & =~"^[a-zA-Z0-9][a-zA-Z0-9-]{0,39}$"

	// Region overrides the region from the environment
	region?: string

	// DeployIfNotExists provisions the seedkit lazily on first use
	deploy_if_not_exists?: bool

	// ManagedPolicyArns attach to the CodeBuild role
	managed_policy_arns?: [...string & =~"^arn:"]

	// PermissionsBoundaryArn bounds the CodeBuild role
	permissions_boundary_arn?: string & =~"^arn:"

	// RolePrefix places the CodeBuild role under an IAM path
	role_prefix?: string

	// DeployCodeArtifact provisions a CodeArtifact domain and repository
	deploy_codeartifact?: bool

	// VPC runs builds inside a VPC
	vpc?: {
		id:              string & =~"^vpc-"
		subnets:         [...string] & [_, ...]
		security_groups: [...string] & [_, ...]
	}
}
`

const builtinVPCSchema = `
// VPC schema for in-VPC build placement
#VPC: {
	// ID is the VPC id
	id: string & =~"^vpc-"

	// Subnets lists the subnet ids
	subnets: [...string] & [_, ...]

	// SecurityGroups lists the security group ids
	security_groups: [...string] & [_, ...]
}
`

const builtinConfigurationSchema = `
// Configuration schema for per-deployment call defaults
#Configuration: {
	// TimeoutMinutes bounds the remote execution
	timeout_minutes?: int & >=0 & <=480

	// Modules lists packages installed during the install phase
	modules?: [...string]

	// LocalModules maps logical names to bundled local directories
	local_modules?: {[string]: string}

	// RequirementsFiles maps logical names to bundled requirements files
	requirements_files?: {[string]: string}

	// Dirs and Files add extra bundle content
	dirs?: {[string]: string}
	files?: {[string]: string}

	install_commands?: [...string]
	pre_build_commands?: [...string]
	pre_execution_commands?: [...string]
	build_commands?: [...string]
	post_build_commands?: [...string]

	// EnvVars are set in the remote execution
	env_vars?: {[string]: {
		value: string
		type?: "PLAINTEXT" | "PARAMETER_STORE" | "SECRETS_MANAGER"
	}}

	// ExportedEnvVars list variables the remote execution exports back
	exported_env_vars?: [...string]

	abort_phases_on_failure?: bool
	runtime_versions?: {[string]: string}
	codebuild_image?: string
	codebuild_role?: string
	environment_type?: string
	compute_type?: string
	npm_mirror?: string
	pypi_mirror?: string
	prebuilt_bundle?: string & =~"^s3://"
}
`

const builtinEnvVarSchema = `
// EnvVar schema for one remote environment variable
#EnvVar: {
	value: string
	type?: "PLAINTEXT" | "PARAMETER_STORE" | "SECRETS_MANAGER"
}
`

// ValidateSeedkit validates a seedkit declaration against the seedkit schema.
func (sr *SchemaRegistry) ValidateSeedkit(ctx context.Context, settings SeedkitSettings) error {
	return sr.ValidateAgainstSchema(ctx, "seedkit", settings)
}

// ValidateConfiguration validates call defaults against the configuration
// schema.
func (sr *SchemaRegistry) ValidateConfiguration(ctx context.Context, spec ConfigurationSpec) error {
	return sr.ValidateAgainstSchema(ctx, "configuration", spec)
}
