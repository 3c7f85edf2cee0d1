package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// setupTestStore creates a file-backed SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func testEnvironment(name, region string) *seeder.EnvironmentRef {
	d := seeder.Deployment{Name: name, Region: region}
	return &seeder.EnvironmentRef{
		Deployment: d,
		StackName:  d.StackName(),
		Outputs: map[string]string{
			seeder.OutputBucket:           "codeseeder-" + name + "-" + region + "-111111111111",
			seeder.OutputCodeBuildProject: d.ResourcePrefix(),
		},
	}
}

func testJob(id, name string) *seeder.Job {
	return &seeder.Job{
		ID:             id,
		Seedkit:        name,
		ExecutionID:    "codeseeder-abcdwxyz",
		ProjectName:    "codeseeder-" + name + "-us-east-1",
		BundleLocation: "s3://bucket/codeseeder/codeseeder-abcdwxyz/bundle.zip",
		StartTime:      time.Now(),
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordDeploymentUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := testEnvironment("toolkit", "us-east-1")
	if err := store.RecordDeployment(ctx, env); err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}

	rec, err := store.GetDeployment(ctx, "toolkit", "us-east-1")
	if err != nil {
		t.Fatalf("GetDeployment: %v", err)
	}
	if rec.StackName != "aws-codeseeder-toolkit" {
		t.Errorf("StackName = %q", rec.StackName)
	}
	if rec.Outputs[seeder.OutputCodeBuildProject] != "codeseeder-toolkit-us-east-1" {
		t.Errorf("Outputs = %v", rec.Outputs)
	}

	// Redeploying refreshes the record instead of duplicating it.
	env.Outputs[seeder.OutputDeployID] = "deploy-2"
	if err := store.RecordDeployment(ctx, env); err != nil {
		t.Fatalf("RecordDeployment (second): %v", err)
	}

	records, err := store.ListDeployments(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListDeployments: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Outputs[seeder.OutputDeployID] != "deploy-2" {
		t.Errorf("Outputs not refreshed: %v", records[0].Outputs)
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.GetDeployment(context.Background(), "missing", "us-east-1"); err == nil {
		t.Fatal("expected error for missing deployment")
	}
}

func TestDeploymentsAreRegionScoped(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordDeployment(ctx, testEnvironment("toolkit", "us-east-1")); err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}
	if err := store.RecordDeployment(ctx, testEnvironment("toolkit", "eu-west-1")); err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}

	records, err := store.ListDeployments(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListDeployments: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

func TestDeleteDeployment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordDeployment(ctx, testEnvironment("toolkit", "us-east-1")); err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}

	if err := store.DeleteDeployment(ctx, "toolkit", "us-east-1"); err != nil {
		t.Fatalf("DeleteDeployment: %v", err)
	}
	if _, err := store.GetDeployment(ctx, "toolkit", "us-east-1"); err == nil {
		t.Fatal("deployment still present after delete")
	}

	if err := store.DeleteDeployment(ctx, "toolkit", "us-east-1"); err == nil {
		t.Fatal("expected error deleting a missing deployment")
	}
}

func TestRecordJobLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := testJob("build-1", "toolkit")
	if err := store.RecordJob(ctx, job, seeder.JobStatusInProgress); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	rec, err := store.GetJob(ctx, "build-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if rec.Status != seeder.JobStatusInProgress {
		t.Errorf("Status = %s", rec.Status)
	}
	if rec.CompletedAt != nil {
		t.Error("CompletedAt set for non-terminal status")
	}

	if err := store.RecordJob(ctx, job, seeder.JobStatusSucceeded); err != nil {
		t.Fatalf("RecordJob (terminal): %v", err)
	}

	rec, err = store.GetJob(ctx, "build-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if rec.Status != seeder.JobStatusSucceeded {
		t.Errorf("Status = %s", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Error("CompletedAt not set for terminal status")
	}
	if rec.BundleLocation != job.BundleLocation {
		t.Errorf("BundleLocation = %q", rec.BundleLocation)
	}
}

func TestRecordJobRejectsInvalidStatus(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordJob(context.Background(), testJob("build-1", "toolkit"), seeder.JobStatus("BOGUS"))
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestListJobsFilterBySeedkit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"toolkit", "toolkit", "other"} {
		job := testJob("build-"+string(rune('a'+i)), name)
		if err := store.RecordJob(ctx, job, seeder.JobStatusSucceeded); err != nil {
			t.Fatalf("RecordJob: %v", err)
		}
	}

	all, err := store.ListJobs(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d jobs, want 3", len(all))
	}

	name := "toolkit"
	filtered, err := store.ListJobs(ctx, &name, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs (filtered): %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("got %d jobs, want 2", len(filtered))
	}
	for _, rec := range filtered {
		if rec.Seedkit != "toolkit" {
			t.Errorf("Seedkit = %q", rec.Seedkit)
		}
	}
}

func TestPruneJobs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := testJob("build-old", "toolkit")
	old.StartTime = time.Now().Add(-48 * time.Hour)
	if err := store.RecordJob(ctx, old, seeder.JobStatusSucceeded); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	running := testJob("build-running", "toolkit")
	running.StartTime = time.Now().Add(-48 * time.Hour)
	if err := store.RecordJob(ctx, running, seeder.JobStatusInProgress); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	pruned, err := store.PruneJobs(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneJobs: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned %d jobs, want 1", pruned)
	}

	// Running jobs survive pruning even when old.
	if _, err := store.GetJob(ctx, "build-running"); err != nil {
		t.Errorf("running job pruned: %v", err)
	}
	if _, err := store.GetJob(ctx, "build-old"); err == nil {
		t.Error("terminal job not pruned")
	}
}

func TestHealthCheck(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	uninitialized := &SQLiteStore{}
	if err := uninitialized.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error for uninitialized store")
	}
}
