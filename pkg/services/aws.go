// Package services initializes the AWS SDK clients the orchestration engine
// talks to and provides small shared helpers on top of them.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSClients holds all AWS SDK clients used by the engine.
type AWSClients struct {
	CloudFormation *cloudformation.Client
	CodeBuild      *codebuild.Client
	S3             *s3.Client
	Logs           *cloudwatchlogs.Client
	Secrets        *secretsmanager.Client
	STS            *sts.Client

	// Region is the resolved region of the loaded configuration.
	Region string
}

// Options configures AWS client construction.
type Options struct {
	// Region overrides the region from the environment/shared config.
	Region string

	// Profile selects a shared-config credentials profile.
	Profile string

	// EndpointURL points every client at a custom endpoint. Used by tests
	// against local AWS simulators.
	EndpointURL string
}

// NewAWSClients initializes AWS SDK clients from the default configuration
// chain plus the given options.
func NewAWSClients(ctx context.Context, opts Options) (*AWSClients, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("unable to infer an AWS region from the environment")
	}

	clients := &AWSClients{Region: cfg.Region}
	if opts.EndpointURL != "" {
		endpoint := opts.EndpointURL
		clients.CloudFormation = cloudformation.NewFromConfig(cfg, func(o *cloudformation.Options) { o.BaseEndpoint = aws.String(endpoint) })
		clients.CodeBuild = codebuild.NewFromConfig(cfg, func(o *codebuild.Options) { o.BaseEndpoint = aws.String(endpoint) })
		clients.S3 = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		clients.Logs = cloudwatchlogs.NewFromConfig(cfg, func(o *cloudwatchlogs.Options) { o.BaseEndpoint = aws.String(endpoint) })
		clients.Secrets = secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) { o.BaseEndpoint = aws.String(endpoint) })
		clients.STS = sts.NewFromConfig(cfg, func(o *sts.Options) { o.BaseEndpoint = aws.String(endpoint) })
		return clients, nil
	}

	clients.CloudFormation = cloudformation.NewFromConfig(cfg)
	clients.CodeBuild = codebuild.NewFromConfig(cfg)
	clients.S3 = s3.NewFromConfig(cfg)
	clients.Logs = cloudwatchlogs.NewFromConfig(cfg)
	clients.Secrets = secretsmanager.NewFromConfig(cfg)
	clients.STS = sts.NewFromConfig(cfg)
	return clients, nil
}

// CallerIdentity describes the AWS account the clients operate in.
type CallerIdentity struct {
	AccountID string
	Partition string
}

// STSAPI is the STS surface used by the engine.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// GetCallerIdentity resolves the account id and partition of the current
// credentials.
func GetCallerIdentity(ctx context.Context, api STSAPI) (*CallerIdentity, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve caller identity: %w", err)
	}
	identity := &CallerIdentity{AccountID: aws.ToString(out.Account)}
	// arn:<partition>:sts::<account>:...
	parts := strings.Split(aws.ToString(out.Arn), ":")
	if len(parts) > 1 {
		identity.Partition = parts[1]
	}
	if identity.Partition == "" {
		identity.Partition = "aws"
	}
	return identity, nil
}
