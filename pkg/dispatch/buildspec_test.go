package dispatch

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

func boolPtr(b bool) *bool { return &b }

func testEnv(outputs map[string]string) *seeder.EnvironmentRef {
	merged := map[string]string{
		seeder.OutputBucket:           "bucket",
		seeder.OutputCodeBuildProject: "codeseeder-demo",
	}
	for k, v := range outputs {
		merged[k] = v
	}
	return &seeder.EnvironmentRef{
		Deployment: seeder.Deployment{Name: "demo", Region: "us-west-2"},
		StackName:  "aws-codeseeder-demo",
		Outputs:    merged,
	}
}

func decodeSpec(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatalf("buildspec is not valid YAML: %v", err)
	}
	return doc
}

func phase(t *testing.T, doc map[string]interface{}, name string) map[string]interface{} {
	t.Helper()
	phases, ok := doc["phases"].(map[string]interface{})
	if !ok {
		t.Fatalf("buildspec has no phases: %v", doc)
	}
	p, ok := phases[name].(map[string]interface{})
	if !ok {
		t.Fatalf("buildspec has no %s phase: %v", name, phases)
	}
	return p
}

func TestBuildspecAbortOnFailureDefault(t *testing.T) {
	body, err := GenerateBuildspec(&seeder.Configuration{}, testEnv(nil))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	doc := decodeSpec(t, body)
	for _, name := range []string{"install", "pre_build", "build", "post_build"} {
		if got := phase(t, doc, name)["on-failure"]; got != OnFailureAbort {
			t.Errorf("phase %s: on-failure = %v, want %s", name, got, OnFailureAbort)
		}
	}
}

func TestBuildspecContinueOnFailure(t *testing.T) {
	cfg := &seeder.Configuration{AbortPhasesOnFailure: boolPtr(false)}
	body, err := GenerateBuildspec(cfg, testEnv(nil))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	doc := decodeSpec(t, body)
	for _, name := range []string{"install", "pre_build", "build", "post_build"} {
		if got := phase(t, doc, name)["on-failure"]; got != OnFailureContinue {
			t.Errorf("phase %s: on-failure = %v, want %s", name, got, OnFailureContinue)
		}
	}
}

func TestBuildspecAlwaysExportsOutputVar(t *testing.T) {
	cfg := &seeder.Configuration{ExportedEnvVars: []string{"DEPLOY_RESULT", seeder.OutputEnvVar}}
	body, err := GenerateBuildspec(cfg, testEnv(nil))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	doc := decodeSpec(t, body)
	env := doc["env"].(map[string]interface{})
	exported := env["exported-variables"].([]interface{})

	count := 0
	sawCustom := false
	for _, v := range exported {
		if v == seeder.OutputEnvVar {
			count++
		}
		if v == "DEPLOY_RESULT" {
			sawCustom = true
		}
	}
	if count != 1 {
		t.Errorf("output var exported %d times, want exactly once: %v", count, exported)
	}
	if !sawCustom {
		t.Errorf("custom exported var missing: %v", exported)
	}
}

func TestBuildspecEnvVarTypes(t *testing.T) {
	cfg := &seeder.Configuration{
		EnvVars: map[string]seeder.EnvVar{
			"PLAIN":  {Value: "v"},
			"PARAM":  {Value: "/path/param", Type: seeder.EnvVarParameterStore},
			"SECRET": {Value: "my-secret", Type: seeder.EnvVarSecretsManager},
		},
	}
	body, err := GenerateBuildspec(cfg, testEnv(nil))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	doc := decodeSpec(t, body)
	env := doc["env"].(map[string]interface{})

	variables := env["variables"].(map[string]interface{})
	if variables["PLAIN"] != "v" {
		t.Errorf("plaintext var missing: %v", variables)
	}
	if variables[seeder.ExecutingEnvVar] != "Yes" {
		t.Errorf("remote execution flag missing: %v", variables)
	}
	if ps := env["parameter-store"].(map[string]interface{}); ps["PARAM"] != "/path/param" {
		t.Errorf("parameter-store var missing: %v", ps)
	}
	if sm := env["secrets-manager"].(map[string]interface{}); sm["SECRET"] != "my-secret" {
		t.Errorf("secrets-manager var missing: %v", sm)
	}
}

func TestBuildspecCodeArtifactLogin(t *testing.T) {
	env := testEnv(map[string]string{
		seeder.OutputCodeArtifactDomain:     "domain",
		seeder.OutputCodeArtifactRepository: "repo",
	})
	body, err := GenerateBuildspec(&seeder.Configuration{}, env)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(body, "aws codeartifact login --tool pip --domain domain --repository repo") {
		t.Errorf("codeartifact login missing from buildspec:\n%s", body)
	}

	plain, err := GenerateBuildspec(&seeder.Configuration{}, testEnv(nil))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(plain, "codeartifact login") {
		t.Error("codeartifact login emitted without domain outputs")
	}
}

func TestBuildspecInstallOrder(t *testing.T) {
	cfg := &seeder.Configuration{
		Modules:           []string{"seed-farmer"},
		LocalModules:      map[string]string{"mymodule": "/src/mymodule"},
		RequirementsFiles: map[string]string{"base": "/src/requirements.txt"},
		InstallCommands:   []string{"echo custom-install"},
		PypiMirror:        "https://mirror.example.com/simple",
	}
	body, err := GenerateBuildspec(cfg, testEnv(nil))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	doc := decodeSpec(t, body)
	raw := phase(t, doc, "install")["commands"].([]interface{})
	cmds := make([]string, 0, len(raw))
	for _, c := range raw {
		cmds = append(cmds, c.(string))
	}

	idx := func(substr string) int {
		for i, c := range cmds {
			if strings.Contains(c, substr) {
				return i
			}
		}
		t.Fatalf("command containing %q missing: %v", substr, cmds)
		return -1
	}

	if idx("mirror pypi") > idx("pip install -r requirements-base") {
		t.Error("mirror setup must precede dependency installs")
	}
	if idx("pip install -r requirements-base") > idx("pip install mymodule/") {
		t.Error("requirements files install before local modules")
	}
	if idx("pip install seed-farmer") > idx("echo custom-install") {
		t.Error("module installs must precede user install commands")
	}
}

func TestBuildspecBuildPhaseRunsPayload(t *testing.T) {
	cfg := &seeder.Configuration{
		PreExecutionCommands: []string{"echo pre-exec"},
		BuildCommands:        []string{"echo post-exec"},
	}
	body, err := GenerateBuildspec(cfg, testEnv(nil))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	doc := decodeSpec(t, body)
	raw := phase(t, doc, "build")["commands"].([]interface{})
	cmds := make([]string, 0, len(raw))
	for _, c := range raw {
		cmds = append(cmds, c.(string))
	}

	var preIdx, execIdx, sourceIdx, postIdx int = -1, -1, -1, -1
	for i, c := range cmds {
		switch {
		case strings.Contains(c, "echo pre-exec"):
			preIdx = i
		case strings.Contains(c, "codeseeder execute --args-file fn_args.json"):
			execIdx = i
		case strings.Contains(c, seeder.ExportFilePath):
			sourceIdx = i
		case strings.Contains(c, "echo post-exec"):
			postIdx = i
		}
	}
	if preIdx < 0 || execIdx < 0 || sourceIdx < 0 || postIdx < 0 {
		t.Fatalf("build phase missing expected commands: %v", cmds)
	}
	if !(preIdx < execIdx && execIdx < sourceIdx && sourceIdx < postIdx) {
		t.Errorf("build phase commands out of order: %v", cmds)
	}
}
