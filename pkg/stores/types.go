package stores

import (
	"context"
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// DeploymentRecord is the stored history of one seedkit deployment. The
// record is keyed by seedkit name and region; redeploying the same seedkit
// refreshes the existing record.
type DeploymentRecord struct {
	Seedkit    string            `json:"seedkit"`
	Region     string            `json:"region"`
	StackName  string            `json:"stack_name"`
	Outputs    map[string]string `json:"outputs"`
	DeployedAt time.Time         `json:"deployed_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// JobRecord is the stored history of one remote job, keyed by the CodeBuild
// build id. Recording the same job again updates its status.
type JobRecord struct {
	ID             string           `json:"id"`
	Seedkit        string           `json:"seedkit"`
	ExecutionID    string           `json:"execution_id"`
	ProjectName    string           `json:"project_name"`
	BundleLocation string           `json:"bundle_location"`
	Status         seeder.JobStatus `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Store defines the interface for the local history database.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Deployment history
	RecordDeployment(ctx context.Context, env *seeder.EnvironmentRef) error
	GetDeployment(ctx context.Context, seedkit, region string) (*DeploymentRecord, error)
	ListDeployments(ctx context.Context, limit, offset int) ([]*DeploymentRecord, error)
	DeleteDeployment(ctx context.Context, seedkit, region string) error

	// Job history
	RecordJob(ctx context.Context, job *seeder.Job, status seeder.JobStatus) error
	GetJob(ctx context.Context, id string) (*JobRecord, error)
	ListJobs(ctx context.Context, seedkit *string, limit, offset int) ([]*JobRecord, error)
	PruneJobs(ctx context.Context, olderThan time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
