// Package dispatch turns a resolved configuration and a built bundle into a
// running CodeBuild job: it generates the buildspec, stages the bundle in the
// seedkit bucket, and starts the build with the configured overrides.
package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// OnFailureAbort and OnFailureContinue are the CodeBuild phase failure
// policies.
const (
	OnFailureAbort    = "ABORT"
	OnFailureContinue = "CONTINUE"
)

const enterBundleDir = "cd ${CODEBUILD_SRC_DIR}/bundle"

type buildspecEnv struct {
	Shell             string            `yaml:"shell"`
	Variables         map[string]string `yaml:"variables,omitempty"`
	ParameterStore    map[string]string `yaml:"parameter-store,omitempty"`
	SecretsManager    map[string]string `yaml:"secrets-manager,omitempty"`
	ExportedVariables []string          `yaml:"exported-variables"`
}

type buildspecPhase struct {
	RuntimeVersions map[string]string `yaml:"runtime-versions,omitempty"`
	Commands        []string          `yaml:"commands"`
	OnFailure       string            `yaml:"on-failure"`
}

type buildspecPhases struct {
	Install   buildspecPhase `yaml:"install"`
	PreBuild  buildspecPhase `yaml:"pre_build"`
	Build     buildspecPhase `yaml:"build"`
	PostBuild buildspecPhase `yaml:"post_build"`
}

type buildspec struct {
	Version float64         `yaml:"version"`
	Env     buildspecEnv    `yaml:"env"`
	Phases  buildspecPhases `yaml:"phases"`
}

// GenerateBuildspec renders the buildspec for one remote call. Every phase
// carries the configured failure policy and the environment always exports
// the output variable in addition to any configured exports.
func GenerateBuildspec(cfg *seeder.Configuration, env *seeder.EnvironmentRef) (string, error) {
	onFailure := OnFailureContinue
	if cfg.AbortOnFailure() {
		onFailure = OnFailureAbort
	}

	spec := buildspec{
		Version: 0.2,
		Env: buildspecEnv{
			Shell:             "bash",
			Variables:         map[string]string{seeder.ExecutingEnvVar: "Yes"},
			ExportedVariables: exportedVariables(cfg.ExportedEnvVars),
		},
		Phases: buildspecPhases{
			Install: buildspecPhase{
				RuntimeVersions: cfg.RuntimeVersions,
				Commands:        installCommands(cfg, env),
				OnFailure:       onFailure,
			},
			PreBuild: buildspecPhase{
				Commands:  phaseCommands(cfg.PreBuildCommands),
				OnFailure: onFailure,
			},
			Build: buildspecPhase{
				Commands:  buildCommands(cfg),
				OnFailure: onFailure,
			},
			PostBuild: buildspecPhase{
				Commands:  phaseCommands(cfg.PostBuildCommands),
				OnFailure: onFailure,
			},
		},
	}

	for name, v := range cfg.EnvVars {
		switch v.Type {
		case seeder.EnvVarParameterStore:
			if spec.Env.ParameterStore == nil {
				spec.Env.ParameterStore = map[string]string{}
			}
			spec.Env.ParameterStore[name] = v.Value
		case seeder.EnvVarSecretsManager:
			if spec.Env.SecretsManager == nil {
				spec.Env.SecretsManager = map[string]string{}
			}
			spec.Env.SecretsManager[name] = v.Value
		default:
			spec.Env.Variables[name] = v.Value
		}
	}

	out, err := yaml.Marshal(spec)
	if err != nil {
		return "", seeder.NewError(seeder.ErrCodeSerialization, "buildspec serialization failed", err)
	}
	return string(out), nil
}

func exportedVariables(extra []string) []string {
	seen := map[string]bool{seeder.OutputEnvVar: true}
	vars := []string{seeder.OutputEnvVar}
	for _, name := range extra {
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	return vars
}

func installCommands(cfg *seeder.Configuration, env *seeder.EnvironmentRef) []string {
	cmds := []string{enterBundleDir}

	if cfg.PypiMirror != "" {
		cmds = append(cmds, fmt.Sprintf("codeseeder mirror pypi %s", cfg.PypiMirror))
	}
	if cfg.NpmMirror != "" {
		cmds = append(cmds, fmt.Sprintf("codeseeder mirror npm %s", cfg.NpmMirror))
	}

	domain := env.Outputs[seeder.OutputCodeArtifactDomain]
	repository := env.Outputs[seeder.OutputCodeArtifactRepository]
	if domain != "" && repository != "" {
		cmds = append(cmds, fmt.Sprintf(
			"aws codeartifact login --tool pip --domain %s --repository %s", domain, repository))
	}

	for _, name := range sortedKeys(cfg.RequirementsFiles) {
		cmds = append(cmds, fmt.Sprintf("pip install -r requirements-%s", name))
	}
	for _, name := range sortedKeys(cfg.LocalModules) {
		cmds = append(cmds, fmt.Sprintf("pip install %s/", name))
	}
	if len(cfg.Modules) > 0 {
		cmds = append(cmds, fmt.Sprintf("pip install %s", strings.Join(cfg.Modules, " ")))
	}

	return append(cmds, cfg.InstallCommands...)
}

func buildCommands(cfg *seeder.Configuration) []string {
	cmds := []string{enterBundleDir}
	cmds = append(cmds, cfg.PreExecutionCommands...)
	cmds = append(cmds,
		fmt.Sprintf("codeseeder execute --args-file %s", "fn_args.json"),
		fmt.Sprintf("if [[ -f %[1]s ]]; then source %[1]s; else echo 'No output to export'; fi", seeder.ExportFilePath),
	)
	return append(cmds, cfg.BuildCommands...)
}

func phaseCommands(userCommands []string) []string {
	return append([]string{enterBundleDir}, userCommands...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
