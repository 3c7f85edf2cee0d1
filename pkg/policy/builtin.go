package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		iamGuardrailsPolicy(),
		permissionsBoundaryPolicy(),
		vpcPlacementPolicy(),
		buildTimeoutPolicy(),
		imageSourcePolicy(),
		plaintextSecretsPolicy(),
	}
}

// iamGuardrailsPolicy checks the IAM policies attached to the build role.
func iamGuardrailsPolicy() Policy {
	return Policy{
		Name:        "iam-guardrails",
		Description: "Checks the managed policies attached to the CodeBuild role",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"iam", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package codeseeder.policies.iam

import rego.v1

# Managed policy references must be full ARNs
deny contains violation if {
	input.seedkit
	some arn in input.seedkit.managed_policy_arns
	not startswith(arn, "arn:")
	violation := {
		"message": sprintf("managed policy '%s' is not an ARN", [arn]),
		"severity": "error",
	}
}

# Full administrator access deserves a second look
deny contains violation if {
	input.seedkit
	some arn in input.seedkit.managed_policy_arns
	endswith(arn, "policy/AdministratorAccess")
	violation := {
		"message": "seedkit role attaches AdministratorAccess",
		"severity": "warning",
	}
}
`,
	}
}

// permissionsBoundaryPolicy flags roles deployed without a boundary.
func permissionsBoundaryPolicy() Policy {
	return Policy{
		Name:        "permissions-boundary",
		Description: "Flags seedkits whose CodeBuild role has no permissions boundary",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"iam", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package codeseeder.policies.boundary

import rego.v1

deny contains violation if {
	input.seedkit
	not input.seedkit.permissions_boundary_arn
	violation := {
		"message": "seedkit role has no permissions boundary",
		"severity": "warning",
	}
}
`,
	}
}

// vpcPlacementPolicy validates in-VPC build placement.
func vpcPlacementPolicy() Policy {
	return Policy{
		Name:        "vpc-placement",
		Description: "Validates subnet and security group selections for in-VPC builds",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package codeseeder.policies.vpc

import rego.v1

deny contains violation if {
	input.seedkit.vpc
	count(input.seedkit.vpc.subnets) == 0
	violation := {
		"message": "in-VPC builds need at least one subnet",
		"severity": "error",
	}
}

deny contains violation if {
	input.seedkit.vpc
	count(input.seedkit.vpc.security_groups) == 0
	violation := {
		"message": "in-VPC builds need at least one security group",
		"severity": "error",
	}
}
`,
	}
}

// buildTimeoutPolicy bounds remote execution timeouts.
func buildTimeoutPolicy() Policy {
	return Policy{
		Name:        "build-timeout",
		Description: "Bounds the remote execution timeout to the CodeBuild ceiling",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package codeseeder.policies.timeout

import rego.v1

deny contains violation if {
	input.configuration
	input.configuration.timeout_minutes > 480
	violation := {
		"message": sprintf("timeout of %d minutes exceeds the 480 minute ceiling", [input.configuration.timeout_minutes]),
		"severity": "error",
	}
}
`,
	}
}

// imageSourcePolicy restricts build images to trusted registries.
func imageSourcePolicy() Policy {
	return Policy{
		Name:        "image-source",
		Description: "Restricts build images to curated CodeBuild images and private ECR",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"supply-chain"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package codeseeder.policies.image

import rego.v1

deny contains violation if {
	input.configuration.codebuild_image
	image := input.configuration.codebuild_image
	not startswith(image, "aws/codebuild/")
	not regex.match(` + "`" + `^[0-9]{12}\.dkr\.ecr\.` + "`" + `, image)
	violation := {
		"message": sprintf("build image '%s' is not from a trusted registry", [image]),
		"severity": "error",
	}
}
`,
	}
}

// plaintextSecretsPolicy flags secrets passed as plaintext env vars.
func plaintextSecretsPolicy() Policy {
	return Policy{
		Name:        "plaintext-secrets",
		Description: "Flags secret-looking environment variables passed as plaintext",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package codeseeder.policies.secrets

import rego.v1

secretish := ["PASSWORD", "SECRET", "TOKEN", "API_KEY"]

deny contains violation if {
	input.configuration.env_vars
	some name, spec in input.configuration.env_vars
	some marker in secretish
	contains(upper(name), marker)
	object.get(spec, "type", "PLAINTEXT") == "PLAINTEXT"
	violation := {
		"message": sprintf("environment variable '%s' looks like a secret but is plaintext; use SECRETS_MANAGER or PARAMETER_STORE", [name]),
		"severity": "warning",
	}
}
`,
	}
}
