package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/seedkit"
	"github.com/awslabs/aws-codeseeder/pkg/telemetry"
)

func newDestroyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy codeseeder resources",
		Long:  `Commands for tearing down codeseeder resources in AWS.`,
	}

	cmd.AddCommand(newDestroySeedkitCommand())

	return cmd
}

func newDestroySeedkitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seedkit NAME",
		Short: "Destroy a seedkit environment",
		Long: `Delete the CloudFormation stack backing a seedkit.

The artifact bucket is emptied before the stack is deleted. Destroying a
seedkit that does not exist is not an error.`,
		Example: `  # Destroy a seedkit in the default region
  codeseeder destroy seedkit my-toolkit

  # Destroy a seedkit in an explicit region
  codeseeder destroy seedkit my-toolkit --region eu-west-1`,
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

			tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(ctx) }()
			ctx = tel.WithContext(ctx)

			log.Info().
				Str("seedkit", d.Name).
				Str("region", d.Region).
				Str("stack", d.StackName()).
				Msg("Destroying seedkit")

			provisioner := seedkit.NewProvisioner(clients.CloudFormation, clients.S3, clients.STS)
			if err := provisioner.Destroy(ctx, d); err != nil {
				return err
			}
			_ = tel.Events.PublishSeedkitDestroyed(d.Name, d.StackName())

			if store, err := openHistory(ctx); err != nil {
				log.Warn().Err(err).Msg("History unavailable")
			} else {
				defer func() { _ = store.Close() }()
				if err := store.DeleteDeployment(ctx, d.Name, d.Region); err != nil {
					log.Warn().Err(err).Msg("Failed to remove deployment history")
				}
			}

			fmt.Printf("Seedkit %s destroyed\n", d.Name)
			return nil
		},
	}

	return cmd
}
