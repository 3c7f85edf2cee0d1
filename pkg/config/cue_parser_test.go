package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

const validConfig = `
seedkit: {
	name:                 "my-toolkit"
	region:               "us-east-1"
	deploy_if_not_exists: true
	managed_policy_arns: ["arn:aws:iam::aws:policy/AdministratorAccess"]
}

configuration: {
	timeout_minutes: 45
	modules: ["my-package"]
	local_modules: {"my-module": "./my-module"}
	env_vars: {
		STAGE: {value: "prod"}
		DB_PASSWORD: {value: "/prod/db/password", type: "SECRETS_MANAGER"}
	}
	exported_env_vars: ["DEPLOYMENT_OUTPUT"]
	abort_phases_on_failure: false
}
`

func TestParseInlineValidConfig(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.ParseInline(context.Background(), validConfig)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("unexpected validation errors: %v", parsed.Errors)
	}

	if parsed.Seedkit.Name != "my-toolkit" {
		t.Fatalf("Name = %q", parsed.Seedkit.Name)
	}
	if !parsed.Seedkit.DeployIfNotExists {
		t.Fatal("DeployIfNotExists = false")
	}
	if got := parsed.Configuration.TimeoutMinutes; got != 45 {
		t.Fatalf("TimeoutMinutes = %d", got)
	}
	if got := parsed.Configuration.EnvVars["DB_PASSWORD"].Type; got != "SECRETS_MANAGER" {
		t.Fatalf("DB_PASSWORD type = %q", got)
	}
}

func TestParseInlineMissingSeedkit(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.ParseInline(context.Background(), `configuration: {timeout_minutes: 5}`)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("expected a validation error for the missing seedkit declaration")
	}
	if parsed.Errors[0].Path != "seedkit" {
		t.Fatalf("error path = %q", parsed.Errors[0].Path)
	}
}

func TestParseInlineInvalidCUE(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.ParseInline(context.Background(), `seedkit: name: 42 & "x"`)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("expected CUE errors for conflicting values")
	}
}

func TestParseValidationCatchesBadValues(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.ParseInline(context.Background(), `
seedkit: {name: "toolkit", vpc: {id: "vpc-123", subnets: [], security_groups: []}}
`)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("expected validation errors for empty VPC subnets")
	}
}

func TestLoadFileEvaluatesEnvExpressions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seedkit.cue")
	content := validConfig + `
env_expressions: {
	DEPLOY_TARGET: "seedkit + \"-\" + region"
}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	parser := NewCUEParser()
	parsed, err := parser.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := parsed.Configuration.EnvVars["DEPLOY_TARGET"]
	if got.Value != "my-toolkit-us-east-1" {
		t.Fatalf("DEPLOY_TARGET = %q", got.Value)
	}
	// Declared env vars survive expression merging.
	if parsed.Configuration.EnvVars["STAGE"].Value != "prod" {
		t.Fatalf("STAGE = %q", parsed.Configuration.EnvVars["STAGE"].Value)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seedkit.cue")
	if err := os.WriteFile(path, []byte(`configuration: {}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	parser := NewCUEParser()
	_, err := parser.Load(context.Background(), path)
	if !seeder.IsConfigurationError(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestToConfiguration(t *testing.T) {
	parser := NewCUEParser()
	parsed, err := parser.ParseInline(context.Background(), validConfig)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}

	cfg := parsed.ToConfiguration()
	if cfg.Timeout != 45*time.Minute {
		t.Fatalf("Timeout = %s", cfg.Timeout)
	}
	if cfg.AbortOnFailure() {
		t.Fatal("AbortOnFailure = true, want false from file")
	}
	if cfg.EnvVars["DB_PASSWORD"].Type != seeder.EnvVarSecretsManager {
		t.Fatalf("DB_PASSWORD type = %q", cfg.EnvVars["DB_PASSWORD"].Type)
	}
	if cfg.LocalModules["my-module"] != "./my-module" {
		t.Fatalf("LocalModules = %v", cfg.LocalModules)
	}
}

func TestToDeployOptions(t *testing.T) {
	parser := NewCUEParser()
	parsed, err := parser.ParseInline(context.Background(), `
seedkit: {
	name: "toolkit"
	permissions_boundary_arn: "arn:aws:iam::111111111111:policy/boundary"
	vpc: {id: "vpc-0abc", subnets: ["subnet-1"], security_groups: ["sg-1"]}
}
`)
	if err != nil {
		t.Fatalf("ParseInline: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", parsed.Errors)
	}

	opts := parsed.ToDeployOptions()
	if opts.PermissionsBoundaryArn != "arn:aws:iam::111111111111:policy/boundary" {
		t.Fatalf("PermissionsBoundaryArn = %q", opts.PermissionsBoundaryArn)
	}
	if opts.VpcID != "vpc-0abc" || len(opts.SubnetIDs) != 1 || len(opts.SecurityGroupIDs) != 1 {
		t.Fatalf("vpc options = %+v", opts)
	}
}

func TestParseUnifiesMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.cue")
	extra := filepath.Join(dir, "extra.cue")
	if err := os.WriteFile(base, []byte(`seedkit: {name: "toolkit"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(extra, []byte(`configuration: {timeout_minutes: 10}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	parser := NewCUEParser()
	parsed, err := parser.Parse(context.Background(), []string{base, extra})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", parsed.Errors)
	}
	if parsed.Seedkit.Name != "toolkit" || parsed.Configuration.TimeoutMinutes != 10 {
		t.Fatalf("unified config = %+v", parsed)
	}
}
