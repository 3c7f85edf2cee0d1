package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_RecordDeployment demonstrates recording a seedkit
// deployment.
func ExampleSQLiteStore_RecordDeployment() {
	// A single connection keeps the in-memory database alive.
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	env := &seeder.EnvironmentRef{
		Deployment: seeder.Deployment{Name: "my-toolkit", Region: "us-east-1"},
		StackName:  "aws-codeseeder-my-toolkit",
		Outputs: map[string]string{
			seeder.OutputBucket:           "codeseeder-my-toolkit-us-east-1-111111111111",
			seeder.OutputCodeBuildProject: "codeseeder-my-toolkit-us-east-1",
		},
	}

	if err := store.RecordDeployment(ctx, env); err != nil {
		log.Fatal(err)
	}

	rec, err := store.GetDeployment(ctx, "my-toolkit", "us-east-1")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Seedkit: %s, Stack: %s\n", rec.Seedkit, rec.StackName)
	// Output: Seedkit: my-toolkit, Stack: aws-codeseeder-my-toolkit
}

// ExampleSQLiteStore_RecordJob demonstrates recording a remote job and its
// final status.
func ExampleSQLiteStore_RecordJob() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	job := &seeder.Job{
		ID:          "codeseeder-my-toolkit-us-east-1:abcd1234",
		Seedkit:     "my-toolkit",
		ExecutionID: "codeseeder-wxyzabcd",
		ProjectName: "codeseeder-my-toolkit-us-east-1",
		StartTime:   time.Now(),
	}

	// Record the submission, then the terminal status once the build ends.
	if err := store.RecordJob(ctx, job, seeder.JobStatusInProgress); err != nil {
		log.Fatal(err)
	}
	if err := store.RecordJob(ctx, job, seeder.JobStatusSucceeded); err != nil {
		log.Fatal(err)
	}

	rec, err := store.GetJob(ctx, job.ID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Seedkit: %s, Status: %s\n", rec.Seedkit, rec.Status)
	// Output: Seedkit: my-toolkit, Status: SUCCEEDED
}

// ExampleSQLiteStore_ListJobs demonstrates listing job history for one
// seedkit.
func ExampleSQLiteStore_ListJobs() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	for i, name := range []string{"my-toolkit", "my-toolkit", "other"} {
		job := &seeder.Job{
			ID:          fmt.Sprintf("build-%d", i),
			Seedkit:     name,
			ExecutionID: fmt.Sprintf("codeseeder-exec%d", i),
			ProjectName: "codeseeder-" + name + "-us-east-1",
			StartTime:   time.Now(),
		}
		_ = store.RecordJob(ctx, job, seeder.JobStatusSucceeded)
	}

	seedkit := "my-toolkit"
	jobs, err := store.ListJobs(ctx, &seedkit, 10, 0)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Jobs for %s: %d\n", seedkit, len(jobs))
	// Output: Jobs for my-toolkit: 2
}
