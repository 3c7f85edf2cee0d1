package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/seedkit"
	"github.com/awslabs/aws-codeseeder/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect codeseeder resources",
		Long:  `Commands for inspecting deployed codeseeder resources.`,
	}

	cmd.AddCommand(newStatusSeedkitCommand())

	return cmd
}

// seedkitStatus is the JSON shape of the status seedkit command.
type seedkitStatus struct {
	Seedkit    string              `json:"seedkit"`
	Region     string              `json:"region"`
	StackName  string              `json:"stack_name"`
	Exists     bool                `json:"exists"`
	Status     string              `json:"status,omitempty"`
	Outputs    map[string]string   `json:"outputs,omitempty"`
	RecentJobs []*stores.JobRecord `json:"recent_jobs,omitempty"`
}

func newStatusSeedkitCommand() *cobra.Command {
	var jobLimit int

	cmd := &cobra.Command{
		Use:   "seedkit NAME",
		Short: "Show the state of a seedkit",
		Long: `Describe the CloudFormation stack backing a seedkit and list its
recent jobs from the local history database.`,
		Example: `  # Show seedkit state
  codeseeder status seedkit my-toolkit

  # Machine-readable output
  codeseeder status seedkit my-toolkit --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			clients, err := newAWSClients(ctx)
			if err != nil {
				return err
			}
			d := seeder.Deployment{Name: name, Region: clients.Region}
			if region != "" {
				d.Region = region
			}

			provisioner := seedkit.NewProvisioner(clients.CloudFormation, clients.S3, clients.STS)
			info, err := provisioner.Status(ctx, d)
			if err != nil {
				return err
			}

			status := seedkitStatus{
				Seedkit:   d.Name,
				Region:    d.Region,
				StackName: d.StackName(),
				Exists:    info.Exists,
				Status:    string(info.Status),
				Outputs:   info.Outputs,
			}

			if store, err := openHistory(ctx); err != nil {
				log.Warn().Err(err).Msg("History unavailable")
			} else {
				defer func() { _ = store.Close() }()
				jobs, err := store.ListJobs(ctx, &name, jobLimit, 0)
				if err != nil {
					log.Warn().Err(err).Msg("Failed to list job history")
				} else {
					status.RecentJobs = jobs
				}
			}

			if jsonOutput {
				return printJSON(status)
			}

			if !status.Exists {
				fmt.Printf("Seedkit %s is not deployed in %s\n", d.Name, d.Region)
				return nil
			}
			fmt.Printf("Seedkit %s (stack %s): %s\n", d.Name, status.StackName, status.Status)
			for key, value := range status.Outputs {
				fmt.Printf("  %s: %s\n", key, value)
			}
			if len(status.RecentJobs) > 0 {
				fmt.Println("Recent jobs:")
				for _, job := range status.RecentJobs {
					fmt.Printf("  %s  %-12s  %s\n", job.StartedAt.Format("2006-01-02 15:04:05"), job.Status, job.ID)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&jobLimit, "jobs", 10, "number of recent jobs to list")

	return cmd
}
