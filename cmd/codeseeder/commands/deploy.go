package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awslabs/aws-codeseeder/pkg/seedkit"
	"github.com/awslabs/aws-codeseeder/pkg/telemetry"
)

func newDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy codeseeder resources",
		Long: `Commands for deploying codeseeder resources to AWS.

A seedkit is the per-name environment (S3 bucket, CodeBuild project, IAM
role, KMS key) that remote functions execute against.`,
	}

	cmd.AddCommand(newDeploySeedkitCommand())

	return cmd
}

func newDeploySeedkitCommand() *cobra.Command {
	var skipPolicies bool

	cmd := &cobra.Command{
		Use:   "seedkit [NAME]",
		Short: "Deploy a seedkit environment",
		Long: `Deploy the CloudFormation stack backing a seedkit.

The seedkit declaration is read from the configuration file. An explicit
NAME argument overrides the configured name. Deploying an existing seedkit
updates it in place via a change set.`,
		Example: `  # Deploy the seedkit declared in seedkit.cue
  codeseeder deploy seedkit

  # Deploy under an explicit name
  codeseeder deploy seedkit my-toolkit

  # Deploy from a different configuration file
  codeseeder deploy seedkit --config ./envs/prod.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			file, err := loadSeedkitFile(ctx)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				file.Seedkit.Name = args[0]
			}

			clients, err := newAWSClients(ctx)
			if err != nil {
				return err
			}
			d := resolveDeployment(file, clients)

			tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(ctx) }()
			ctx = tel.WithContext(ctx)

			if !skipPolicies {
				engine, err := newPolicyEngine(ctx)
				if err != nil {
					return err
				}
				if err := enforcePolicies(ctx, engine, tel, d, file); err != nil {
					return err
				}
			}

			log.Info().
				Str("seedkit", d.Name).
				Str("region", d.Region).
				Str("stack", d.StackName()).
				Msg("Deploying seedkit")

			provisioner := seedkit.NewProvisioner(clients.CloudFormation, clients.S3, clients.STS)
			env, err := provisioner.Deploy(ctx, d, file.ToDeployOptions())
			if err != nil {
				return err
			}
			_ = tel.Events.PublishSeedkitDeployed(d.Name, env.StackName)

			if store, err := openHistory(ctx); err != nil {
				log.Warn().Err(err).Msg("History unavailable")
			} else {
				defer func() { _ = store.Close() }()
				if err := store.RecordDeployment(ctx, env); err != nil {
					log.Warn().Err(err).Msg("Failed to record deployment history")
				}
			}

			if jsonOutput {
				return printJSON(env)
			}
			fmt.Printf("Seedkit %s deployed (stack %s)\n", d.Name, env.StackName)
			for key, value := range env.Outputs {
				fmt.Printf("  %s: %s\n", key, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPolicies, "skip-policies", false, "skip policy evaluation")

	return cmd
}
