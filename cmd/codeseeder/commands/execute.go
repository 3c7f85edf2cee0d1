package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awslabs/aws-codeseeder/pkg/codeseeder"
	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

func newExecuteCommand() *cobra.Command {
	var argsFile string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a bundled call payload",
		Long: `Execute the function call described by an arguments file.

This command runs inside dispatched CodeBuild jobs: the buildspec invokes it
against the fn_args.json bundled with the call. The target function must be
registered in this binary via codeseeder.Register.

The function's return value is published through the export file so the
dispatching process can collect it from the build's exported variables.`,
		Example: `  # Execute the bundled call (as the buildspec does)
  codeseeder execute --args-file fn_args.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(argsFile)
			if err != nil {
				return seeder.NewError(seeder.ErrCodeConfiguration,
					fmt.Sprintf("failed to read arguments file %s", argsFile), err)
			}
			var payload seeder.CallPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return seeder.NewError(seeder.ErrCodeSerialization,
					fmt.Sprintf("arguments file %s is not a valid call payload", argsFile), err)
			}

			log.Info().Str("fn_id", payload.FnID).Msg("Executing call payload")

			s, err := codeseeder.New(codeseeder.Components{Registry: seeder.NewRegistry()}, codeseeder.Options{})
			if err != nil {
				return err
			}
			result, err := s.ExecutePayload(ctx, payload)
			if err != nil {
				return err
			}

			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&argsFile, "args-file", "fn_args.json", "call payload file")

	return cmd
}
