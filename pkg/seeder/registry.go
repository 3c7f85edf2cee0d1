package seeder

import (
	"sync"
	"time"
)

// Registry holds per-deployment configuration defaults. It is explicitly
// constructed and passed to the Seeder; it starts empty and is populated by
// Configure, read by Resolve.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	config            Configuration
	deployIfNotExists bool
}

// NewRegistry creates an empty configuration registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// Configure registers or overwrites the default configuration for a seedkit
// name. deployIfNotExists controls lazy provisioning on first use.
func (r *Registry) Configure(name string, cfg Configuration, deployIfNotExists bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &registryEntry{
		config:            cloneConfiguration(&cfg),
		deployIfNotExists: deployIfNotExists,
	}
}

// DeployIfNotExists reports whether the named seedkit is provisioned lazily
// on first use.
func (r *Registry) DeployIfNotExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return ok && entry.deployIfNotExists
}

// Configured reports whether the named seedkit has registered configuration.
func (r *Registry) Configured(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Resolve merges the registered defaults with per-call overrides (overrides
// win) and returns the immutable configuration for one remote call. Lists
// append, maps merge with override keys winning, scalars replace when set.
// Resolving twice with identical overrides yields a deep-equal result.
func (r *Registry) Resolve(name string, overrides *Configuration) (*Configuration, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	var base Configuration
	if ok {
		base = cloneConfiguration(&entry.config)
	}
	r.mu.RUnlock()

	if !ok {
		return nil, NewError(ErrCodeConfiguration,
			"no configuration registered", nil).WithSeedkit(name)
	}

	resolved := mergeConfiguration(&base, overrides)
	return resolved, nil
}

// mergeConfiguration merges overrides onto base. base must be a private copy;
// it is mutated and returned.
func mergeConfiguration(base, overrides *Configuration) *Configuration {
	if overrides == nil {
		return base
	}

	base.Modules = append(base.Modules, overrides.Modules...)
	base.InstallCommands = append(base.InstallCommands, overrides.InstallCommands...)
	base.PreBuildCommands = append(base.PreBuildCommands, overrides.PreBuildCommands...)
	base.PreExecutionCommands = append(base.PreExecutionCommands, overrides.PreExecutionCommands...)
	base.BuildCommands = append(base.BuildCommands, overrides.BuildCommands...)
	base.PostBuildCommands = append(base.PostBuildCommands, overrides.PostBuildCommands...)
	base.ExportedEnvVars = append(base.ExportedEnvVars, overrides.ExportedEnvVars...)

	base.LocalModules = mergeStringMap(base.LocalModules, overrides.LocalModules)
	base.RequirementsFiles = mergeStringMap(base.RequirementsFiles, overrides.RequirementsFiles)
	base.Dirs = mergeStringMap(base.Dirs, overrides.Dirs)
	base.Files = mergeStringMap(base.Files, overrides.Files)

	if len(overrides.EnvVars) > 0 {
		if base.EnvVars == nil {
			base.EnvVars = make(map[string]EnvVar, len(overrides.EnvVars))
		}
		for k, v := range overrides.EnvVars {
			base.EnvVars[k] = v
		}
	}
	if len(overrides.RuntimeVersions) > 0 {
		base.RuntimeVersions = mergeStringMap(base.RuntimeVersions, overrides.RuntimeVersions)
	}

	if overrides.Timeout > 0 {
		base.Timeout = overrides.Timeout
	}
	if overrides.AbortPhasesOnFailure != nil {
		v := *overrides.AbortPhasesOnFailure
		base.AbortPhasesOnFailure = &v
	}
	if overrides.CodeBuildImage != "" {
		base.CodeBuildImage = overrides.CodeBuildImage
	}
	if overrides.CodeBuildRole != "" {
		base.CodeBuildRole = overrides.CodeBuildRole
	}
	if overrides.CodeBuildEnvironmentType != "" {
		base.CodeBuildEnvironmentType = overrides.CodeBuildEnvironmentType
	}
	if overrides.CodeBuildComputeType != "" {
		base.CodeBuildComputeType = overrides.CodeBuildComputeType
	}
	if overrides.NpmMirror != "" {
		base.NpmMirror = overrides.NpmMirror
	}
	if overrides.PypiMirror != "" {
		base.PypiMirror = overrides.PypiMirror
	}
	if overrides.PrebuiltBundle != "" {
		base.PrebuiltBundle = overrides.PrebuiltBundle
	}

	return base
}

// cloneConfiguration deep-copies a configuration so callers never observe a
// partially merged snapshot.
func cloneConfiguration(cfg *Configuration) Configuration {
	out := *cfg
	out.Modules = cloneStrings(cfg.Modules)
	out.InstallCommands = cloneStrings(cfg.InstallCommands)
	out.PreBuildCommands = cloneStrings(cfg.PreBuildCommands)
	out.PreExecutionCommands = cloneStrings(cfg.PreExecutionCommands)
	out.BuildCommands = cloneStrings(cfg.BuildCommands)
	out.PostBuildCommands = cloneStrings(cfg.PostBuildCommands)
	out.ExportedEnvVars = cloneStrings(cfg.ExportedEnvVars)
	out.LocalModules = cloneStringMap(cfg.LocalModules)
	out.RequirementsFiles = cloneStringMap(cfg.RequirementsFiles)
	out.Dirs = cloneStringMap(cfg.Dirs)
	out.Files = cloneStringMap(cfg.Files)
	out.RuntimeVersions = cloneStringMap(cfg.RuntimeVersions)
	if cfg.EnvVars != nil {
		out.EnvVars = make(map[string]EnvVar, len(cfg.EnvVars))
		for k, v := range cfg.EnvVars {
			out.EnvVars[k] = v
		}
	}
	if cfg.AbortPhasesOnFailure != nil {
		v := *cfg.AbortPhasesOnFailure
		out.AbortPhasesOnFailure = &v
	}
	if cfg.Timeout < 0 {
		out.Timeout = time.Duration(0)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mergeStringMap(base, overrides map[string]string) map[string]string {
	if len(overrides) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(overrides))
	}
	for k, v := range overrides {
		base[k] = v
	}
	return base
}
