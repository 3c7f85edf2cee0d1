package seedkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/services"
)

const defaultPollInterval = 5 * time.Second

// CloudFormationAPI is the CloudFormation surface used by the provisioner.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	ExecuteChangeSet(ctx context.Context, params *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// DeployOptions tune a seedkit deployment beyond its defaults.
type DeployOptions struct {
	ManagedPolicyArns      []string
	PermissionsBoundaryArn string
	RolePrefix             string
	DeployCodeArtifact     bool
	VpcID                  string
	SubnetIDs              []string
	SecurityGroupIDs       []string
}

// StackInfo is the observed state of a seedkit stack.
type StackInfo struct {
	Exists  bool
	Status  cfntypes.StackStatus
	Outputs map[string]string
}

// Provisioner creates, inspects, and destroys seedkit environments. It is
// safe for concurrent use: calls for the same deployment are serialized so
// at most one provisioning operation runs per deployment.
type Provisioner struct {
	cfn CloudFormationAPI
	s3  services.S3API
	sts services.STSAPI

	pollInterval time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProvisioner builds a Provisioner on the given service clients.
func NewProvisioner(cfn CloudFormationAPI, s3api services.S3API, stsapi services.STSAPI) *Provisioner {
	return &Provisioner{
		cfn:          cfn,
		s3:           s3api,
		sts:          stsapi,
		pollInterval: defaultPollInterval,
		locks:        map[string]*sync.Mutex{},
	}
}

// SetPollInterval overrides the stack polling interval.
func (p *Provisioner) SetPollInterval(d time.Duration) {
	if d > 0 {
		p.pollInterval = d
	}
}

func (p *Provisioner) lockFor(d seeder.Deployment) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := d.Region + "/" + d.Name
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

// Status describes the current state of the deployment's stack.
func (p *Provisioner) Status(ctx context.Context, d seeder.Deployment) (*StackInfo, error) {
	out, err := p.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(d.StackName()),
	})
	if err != nil {
		if isStackMissing(err) {
			return &StackInfo{Exists: false}, nil
		}
		return nil, seeder.NewTransientError(seeder.ErrCodeMonitor,
			fmt.Sprintf("failed to describe stack %s", d.StackName()), err).WithSeedkit(d.Name)
	}
	if len(out.Stacks) == 0 {
		return &StackInfo{Exists: false}, nil
	}
	stack := out.Stacks[0]
	info := &StackInfo{
		Exists:  true,
		Status:  stack.StackStatus,
		Outputs: map[string]string{},
	}
	for _, o := range stack.Outputs {
		info.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return info, nil
}

// Ensure returns a reference to the deployment's environment, provisioning
// it first when it does not exist and deployIfMissing is set. Concurrent
// callers for the same deployment share a single provisioning operation.
func (p *Provisioner) Ensure(ctx context.Context, d seeder.Deployment, deployIfMissing bool, opts DeployOptions) (*seeder.EnvironmentRef, error) {
	lock := p.lockFor(d)
	lock.Lock()
	defer lock.Unlock()

	info, err := p.Status(ctx, d)
	if err != nil {
		return nil, err
	}
	if info.Exists && isStackInProgress(info.Status) {
		// Another process is mid-deploy. Wait for it to settle instead of
		// racing it with a second changeset.
		info, err = p.waitStack(ctx, d)
		if err != nil {
			return nil, err
		}
	}
	if info.Exists {
		if !isStackUsable(info.Status) {
			return nil, seeder.NewError(seeder.ErrCodeEnvironmentNotFound,
				fmt.Sprintf("stack %s is in unusable state %s", d.StackName(), info.Status), nil).WithSeedkit(d.Name)
		}
		return environmentRef(d, info.Outputs), nil
	}
	if !deployIfMissing {
		return nil, seeder.NewError(seeder.ErrCodeEnvironmentNotFound,
			fmt.Sprintf("seedkit %s has no environment in %s and on-demand deployment is disabled", d.Name, d.Region), nil).WithSeedkit(d.Name)
	}
	return p.deploy(ctx, d, opts)
}

// Deploy creates or updates the deployment's environment.
func (p *Provisioner) Deploy(ctx context.Context, d seeder.Deployment, opts DeployOptions) (*seeder.EnvironmentRef, error) {
	lock := p.lockFor(d)
	lock.Lock()
	defer lock.Unlock()
	return p.deploy(ctx, d, opts)
}

func (p *Provisioner) deploy(ctx context.Context, d seeder.Deployment, opts DeployOptions) (*seeder.EnvironmentRef, error) {
	identity, err := services.GetCallerIdentity(ctx, p.sts)
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeConfiguration,
			"unable to resolve AWS caller identity", err).WithSeedkit(d.Name)
	}

	info, err := p.Status(ctx, d)
	if err != nil {
		return nil, err
	}

	deployID := info.Outputs[seeder.OutputDeployID]
	if deployID == "" {
		deployID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	body, err := Synth(SynthOptions{
		SeedkitName:            d.Name,
		DeployID:               deployID,
		Region:                 d.Region,
		AccountID:              identity.AccountID,
		Partition:              identity.Partition,
		RolePrefix:             opts.RolePrefix,
		ManagedPolicyArns:      opts.ManagedPolicyArns,
		PermissionsBoundaryArn: opts.PermissionsBoundaryArn,
		DeployCodeArtifact:     opts.DeployCodeArtifact,
		VpcID:                  opts.VpcID,
		SubnetIDs:              opts.SubnetIDs,
		SecurityGroupIDs:       opts.SecurityGroupIDs,
	})
	if err != nil {
		return nil, err
	}

	changeSetType := cfntypes.ChangeSetTypeCreate
	if info.Exists {
		changeSetType = cfntypes.ChangeSetTypeUpdate
	}
	changeSetName := fmt.Sprintf("codeseeder-%s", deployID)

	log.Info().
		Str("seedkit", d.Name).
		Str("stack", d.StackName()).
		Str("change_set_type", string(changeSetType)).
		Msg("deploying seedkit stack")

	_, err = p.cfn.CreateChangeSet(ctx, &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(d.StackName()),
		ChangeSetName: aws.String(changeSetName),
		ChangeSetType: changeSetType,
		TemplateBody:  aws.String(body),
		Capabilities: []cfntypes.Capability{
			cfntypes.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeDispatch,
			fmt.Sprintf("failed to create change set for stack %s", d.StackName()), err).WithSeedkit(d.Name)
	}

	hasChanges, err := p.waitChangeSet(ctx, d, changeSetName)
	if err != nil {
		return nil, err
	}
	if !hasChanges {
		log.Debug().Str("seedkit", d.Name).Msg("stack is already up to date")
		if changeSetType == cfntypes.ChangeSetTypeCreate {
			// An empty create changeset leaves the stack in REVIEW_IN_PROGRESS.
			_, _ = p.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
				StackName: aws.String(d.StackName()),
			})
			return nil, seeder.NewError(seeder.ErrCodeInternal,
				fmt.Sprintf("create change set for stack %s produced no changes", d.StackName()), nil).WithSeedkit(d.Name)
		}
		return environmentRef(d, info.Outputs), nil
	}

	_, err = p.cfn.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{
		StackName:     aws.String(d.StackName()),
		ChangeSetName: aws.String(changeSetName),
	})
	if err != nil {
		return nil, seeder.NewError(seeder.ErrCodeDispatch,
			fmt.Sprintf("failed to execute change set for stack %s", d.StackName()), err).WithSeedkit(d.Name)
	}

	final, err := p.waitStack(ctx, d)
	if err != nil {
		return nil, err
	}
	if !final.Exists || !isStackUsable(final.Status) {
		return nil, seeder.NewError(seeder.ErrCodeEnvironmentNotFound,
			fmt.Sprintf("stack %s ended in state %s", d.StackName(), final.Status), nil).WithSeedkit(d.Name)
	}
	log.Info().Str("seedkit", d.Name).Str("bucket", final.Outputs[seeder.OutputBucket]).Msg("seedkit stack ready")
	return environmentRef(d, final.Outputs), nil
}

// Destroy empties the seedkit bucket and deletes the stack. Destroying a
// deployment that has no environment is a no-op.
func (p *Provisioner) Destroy(ctx context.Context, d seeder.Deployment) error {
	lock := p.lockFor(d)
	lock.Lock()
	defer lock.Unlock()

	info, err := p.Status(ctx, d)
	if err != nil {
		return err
	}
	if !info.Exists {
		log.Debug().Str("seedkit", d.Name).Msg("no stack to destroy")
		return nil
	}

	if bucket := info.Outputs[seeder.OutputBucket]; bucket != "" {
		if err := services.EmptyBucket(ctx, p.s3, bucket); err != nil {
			return seeder.NewError(seeder.ErrCodeDispatch,
				fmt.Sprintf("failed to empty seedkit bucket %s", bucket), err).WithSeedkit(d.Name)
		}
	}

	log.Info().Str("seedkit", d.Name).Str("stack", d.StackName()).Msg("destroying seedkit stack")
	_, err = p.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(d.StackName()),
	})
	if err != nil {
		return seeder.NewError(seeder.ErrCodeDispatch,
			fmt.Sprintf("failed to delete stack %s", d.StackName()), err).WithSeedkit(d.Name)
	}

	for {
		info, err := p.Status(ctx, d)
		if err != nil {
			return err
		}
		if !info.Exists {
			return nil
		}
		if info.Status == cfntypes.StackStatusDeleteComplete {
			return nil
		}
		if info.Status == cfntypes.StackStatusDeleteFailed {
			return seeder.NewError(seeder.ErrCodeInternal,
				fmt.Sprintf("stack %s deletion failed", d.StackName()), nil).WithSeedkit(d.Name)
		}
		if err := sleepCtx(ctx, p.pollInterval); err != nil {
			return seeder.NewError(seeder.ErrCodeTimeout,
				fmt.Sprintf("interrupted waiting for stack %s deletion", d.StackName()), err).WithSeedkit(d.Name)
		}
	}
}

func (p *Provisioner) waitChangeSet(ctx context.Context, d seeder.Deployment, name string) (bool, error) {
	for {
		out, err := p.cfn.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
			StackName:     aws.String(d.StackName()),
			ChangeSetName: aws.String(name),
		})
		if err != nil {
			return false, seeder.NewTransientError(seeder.ErrCodeMonitor,
				fmt.Sprintf("failed to describe change set %s", name), err).WithSeedkit(d.Name)
		}
		switch out.Status {
		case cfntypes.ChangeSetStatusCreateComplete:
			return true, nil
		case cfntypes.ChangeSetStatusFailed:
			reason := aws.ToString(out.StatusReason)
			if isNoChangesReason(reason) {
				return false, nil
			}
			return false, seeder.NewError(seeder.ErrCodeDispatch,
				fmt.Sprintf("change set %s failed: %s", name, reason), nil).WithSeedkit(d.Name)
		}
		if err := sleepCtx(ctx, p.pollInterval); err != nil {
			return false, seeder.NewError(seeder.ErrCodeTimeout,
				fmt.Sprintf("interrupted waiting for change set %s", name), err).WithSeedkit(d.Name)
		}
	}
}

func (p *Provisioner) waitStack(ctx context.Context, d seeder.Deployment) (*StackInfo, error) {
	for {
		info, err := p.Status(ctx, d)
		if err != nil {
			return nil, err
		}
		if !info.Exists || !isStackInProgress(info.Status) {
			if info.Exists && isStackFailed(info.Status) {
				return nil, seeder.NewError(seeder.ErrCodeInternal,
					fmt.Sprintf("stack %s entered failure state %s", d.StackName(), info.Status), nil).WithSeedkit(d.Name)
			}
			return info, nil
		}
		if err := sleepCtx(ctx, p.pollInterval); err != nil {
			return nil, seeder.NewError(seeder.ErrCodeTimeout,
				fmt.Sprintf("interrupted waiting for stack %s", d.StackName()), err).WithSeedkit(d.Name)
		}
	}
}

func environmentRef(d seeder.Deployment, outputs map[string]string) *seeder.EnvironmentRef {
	copied := make(map[string]string, len(outputs))
	for k, v := range outputs {
		copied[k] = v
	}
	return &seeder.EnvironmentRef{
		Deployment: d,
		StackName:  d.StackName(),
		Outputs:    copied,
	}
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

func isNoChangesReason(reason string) bool {
	return strings.Contains(reason, "didn't contain changes") ||
		strings.Contains(reason, "No updates are to be performed")
}

func isStackInProgress(status cfntypes.StackStatus) bool {
	return strings.HasSuffix(string(status), "_IN_PROGRESS")
}

func isStackUsable(status cfntypes.StackStatus) bool {
	switch status {
	case cfntypes.StackStatusCreateComplete,
		cfntypes.StackStatusUpdateComplete,
		cfntypes.StackStatusUpdateRollbackComplete:
		return true
	}
	return false
}

func isStackFailed(status cfntypes.StackStatus) bool {
	switch status {
	case cfntypes.StackStatusCreateFailed,
		cfntypes.StackStatusRollbackComplete,
		cfntypes.StackStatusRollbackFailed,
		cfntypes.StackStatusDeleteFailed,
		cfntypes.StackStatusUpdateRollbackFailed:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
