// Package seedkit provisions the per-deployment AWS environment (the
// "seedkit"): an S3 bucket, a KMS key, a CodeBuild project and its role,
// and optionally a CodeArtifact domain/repository, all managed through a
// single CloudFormation stack.
package seedkit

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

//go:embed resources/template.yaml
var stackTemplate string

// SynthOptions parameterize stack template synthesis.
type SynthOptions struct {
	SeedkitName string
	DeployID    string
	Region      string
	AccountID   string
	Partition   string

	// RolePrefix is the IAM path for the CodeBuild role. Defaults to "/".
	RolePrefix string

	// ManagedPolicyArns are attached to the CodeBuild role in addition to
	// the inline seedkit policy.
	ManagedPolicyArns []string

	// PermissionsBoundaryArn, when set, is applied to the CodeBuild role.
	PermissionsBoundaryArn string

	// DeployCodeArtifact keeps the CodeArtifact domain and repository in
	// the stack. When false those resources and their outputs are removed.
	DeployCodeArtifact bool

	// VPC configuration for the CodeBuild project. All three must be set
	// together or the project runs outside any VPC.
	VpcID            string
	SubnetIDs        []string
	SecurityGroupIDs []string
}

type templateVars struct {
	SeedkitName string
	DeployID    string
	Region      string
	AccountID   string
	Partition   string
	RolePrefix  string
}

// Synth renders the seedkit CloudFormation template for the given options
// and returns the final template body.
func Synth(opts SynthOptions) (string, error) {
	if opts.SeedkitName == "" || opts.DeployID == "" || opts.Region == "" || opts.AccountID == "" {
		return "", seeder.NewError(seeder.ErrCodeConfiguration,
			"seedkit synthesis requires a name, deploy id, region, and account id", nil)
	}
	vars := templateVars{
		SeedkitName: opts.SeedkitName,
		DeployID:    opts.DeployID,
		Region:      opts.Region,
		AccountID:   opts.AccountID,
		Partition:   opts.Partition,
		RolePrefix:  opts.RolePrefix,
	}
	if vars.Partition == "" {
		vars.Partition = "aws"
	}
	if vars.RolePrefix == "" {
		vars.RolePrefix = "/"
	}

	tmpl, err := template.New("seedkit").Parse(stackTemplate)
	if err != nil {
		return "", seeder.NewError(seeder.ErrCodeInternal, "seedkit template is malformed", err)
	}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, vars); err != nil {
		return "", seeder.NewError(seeder.ErrCodeInternal, "seedkit template rendering failed", err)
	}

	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(rendered.Bytes(), &doc); err != nil {
		return "", seeder.NewError(seeder.ErrCodeInternal, "rendered seedkit template is not valid YAML", err)
	}

	if err := applyRoleOptions(doc, opts); err != nil {
		return "", err
	}
	if err := applyVpcOptions(doc, opts); err != nil {
		return "", err
	}
	if !opts.DeployCodeArtifact {
		stripCodeArtifact(doc)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", seeder.NewError(seeder.ErrCodeInternal, "seedkit template serialization failed", err)
	}
	return string(out), nil
}

func resourceProperties(doc map[string]interface{}, name string) (map[string]interface{}, error) {
	resources, ok := doc["Resources"].(map[string]interface{})
	if !ok {
		return nil, seeder.NewError(seeder.ErrCodeInternal, "seedkit template has no Resources section", nil)
	}
	resource, ok := resources[name].(map[string]interface{})
	if !ok {
		return nil, seeder.NewError(seeder.ErrCodeInternal,
			fmt.Sprintf("seedkit template has no %s resource", name), nil)
	}
	props, ok := resource["Properties"].(map[string]interface{})
	if !ok {
		return nil, seeder.NewError(seeder.ErrCodeInternal,
			fmt.Sprintf("seedkit resource %s has no Properties", name), nil)
	}
	return props, nil
}

func applyRoleOptions(doc map[string]interface{}, opts SynthOptions) error {
	props, err := resourceProperties(doc, "CodeBuildRole")
	if err != nil {
		return err
	}
	arns := make([]interface{}, 0, len(opts.ManagedPolicyArns))
	for _, arn := range opts.ManagedPolicyArns {
		arns = append(arns, arn)
	}
	props["ManagedPolicyArns"] = arns
	if opts.PermissionsBoundaryArn != "" {
		props["PermissionsBoundary"] = opts.PermissionsBoundaryArn
	}
	return nil
}

func applyVpcOptions(doc map[string]interface{}, opts SynthOptions) error {
	if opts.VpcID == "" {
		return nil
	}
	if len(opts.SubnetIDs) == 0 || len(opts.SecurityGroupIDs) == 0 {
		return seeder.NewError(seeder.ErrCodeConfiguration,
			"VPC configuration requires subnet ids and security group ids", nil)
	}
	props, err := resourceProperties(doc, "CodeBuildProject")
	if err != nil {
		return err
	}
	subnets := make([]interface{}, 0, len(opts.SubnetIDs))
	for _, id := range opts.SubnetIDs {
		subnets = append(subnets, id)
	}
	groups := make([]interface{}, 0, len(opts.SecurityGroupIDs))
	for _, id := range opts.SecurityGroupIDs {
		groups = append(groups, id)
	}
	props["VpcConfig"] = map[string]interface{}{
		"VpcId":            opts.VpcID,
		"Subnets":          subnets,
		"SecurityGroupIds": groups,
	}

	// Running inside a VPC needs ENI management permissions on the role.
	roleProps, err := resourceProperties(doc, "CodeBuildRole")
	if err != nil {
		return err
	}
	policies, _ := roleProps["Policies"].([]interface{})
	policies = append(policies, map[string]interface{}{
		"PolicyName": "codeseeder-vpc",
		"PolicyDocument": map[string]interface{}{
			"Version": "2012-10-17",
			"Statement": []interface{}{
				map[string]interface{}{
					"Effect": "Allow",
					"Action": []interface{}{
						"ec2:CreateNetworkInterface",
						"ec2:CreateNetworkInterfacePermission",
						"ec2:DeleteNetworkInterface",
						"ec2:DescribeDhcpOptions",
						"ec2:DescribeNetworkInterfaces",
						"ec2:DescribeSecurityGroups",
						"ec2:DescribeSubnets",
						"ec2:DescribeVpcs",
					},
					"Resource": "*",
				},
			},
		},
	})
	roleProps["Policies"] = policies
	return nil
}

func stripCodeArtifact(doc map[string]interface{}) {
	if resources, ok := doc["Resources"].(map[string]interface{}); ok {
		delete(resources, "CodeArtifactDomain")
		delete(resources, "CodeArtifactRepository")
	}
	if outputs, ok := doc["Outputs"].(map[string]interface{}); ok {
		delete(outputs, seeder.OutputCodeArtifactDomain)
		delete(outputs, seeder.OutputCodeArtifactRepository)
	}
}
