package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awslabs/aws-codeseeder/pkg/dispatch"
)

func newMirrorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Configure package manager mirrors",
		Long: `Point package managers at mirror registries.

These commands run inside dispatched CodeBuild jobs during the install phase
when a mirror is configured for the seedkit. Credentials are resolved from
Secrets Manager when the matching *_MIRROR_SECRET environment variable names
a secret.`,
	}

	cmd.AddCommand(newMirrorToolCommand(dispatch.MirrorNpm, "npm registry"))
	cmd.AddCommand(newMirrorToolCommand(dispatch.MirrorPypi, "pypi index"))

	return cmd
}

func newMirrorToolCommand(tool dispatch.MirrorTool, registry string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s URL", tool),
		Short: fmt.Sprintf("Point %s at a mirror", tool),
		Long:  fmt.Sprintf("Configure the %s to resolve packages from a mirror.", registry),
		Example: fmt.Sprintf(`  # Configure an anonymous mirror
  codeseeder mirror %s https://mirror.example.com/%s/`, tool, tool),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mirrorURL := args[0]

			clients, err := newAWSClients(ctx)
			if err != nil {
				return err
			}

			log.Info().Str("tool", string(tool)).Str("url", mirrorURL).Msg("Configuring mirror")
			return dispatch.ConfigureMirror(ctx, clients.Secrets, tool, mirrorURL, runCommand)
		},
	}

	return cmd
}

// runCommand shells out to the package manager being configured.
func runCommand(ctx context.Context, name string, args ...string) error {
	c := exec.CommandContext(ctx, name, args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
