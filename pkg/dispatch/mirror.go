package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/services"
)

// MirrorTool identifies a package manager whose registry is redirected to a
// mirror inside the remote execution.
type MirrorTool string

const (
	MirrorNpm  MirrorTool = "npm"
	MirrorPypi MirrorTool = "pypi"
)

// CommandRunner runs an external command. Swapped for a recorder in tests.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ConfigureMirror points the given package manager at a mirror registry.
// Credentials are resolved from Secrets Manager when the matching
// *_MIRROR_SECRET environment variable names a secret; a missing variable
// configures an anonymous mirror.
func ConfigureMirror(ctx context.Context, secrets services.SecretsAPI, tool MirrorTool, mirrorURL string, run CommandRunner) error {
	switch tool {
	case MirrorNpm:
		return configureNpmMirror(ctx, secrets, mirrorURL, run)
	case MirrorPypi:
		return configurePypiMirror(ctx, secrets, mirrorURL, run)
	}
	return seeder.NewError(seeder.ErrCodeConfiguration,
		fmt.Sprintf("unknown mirror tool %q", tool), nil)
}

func configureNpmMirror(ctx context.Context, secrets services.SecretsAPI, mirrorURL string, run CommandRunner) error {
	if secretName := os.Getenv(seeder.NpmMirrorSecretEnvVar); secretName != "" {
		creds, err := services.GetMirrorCredentials(ctx, secrets, secretName, "npm")
		if err != nil {
			return err
		}
		registry := strings.TrimPrefix(strings.TrimPrefix(mirrorURL, "https:"), "http:")
		if err := run(ctx, "npm", "config", "set", fmt.Sprintf("%s:_auth=%s", registry, creds.Password)); err != nil {
			return seeder.NewError(seeder.ErrCodeConfiguration, "npm mirror auth setup failed", err)
		}
	}
	log.Debug().Str("registry", mirrorURL).Msg("configuring npm mirror")
	if err := run(ctx, "npm", "config", "set", "registry", mirrorURL); err != nil {
		return seeder.NewError(seeder.ErrCodeConfiguration, "npm mirror setup failed", err)
	}
	return nil
}

func configurePypiMirror(ctx context.Context, secrets services.SecretsAPI, mirrorURL string, run CommandRunner) error {
	indexURL := mirrorURL
	if secretName := os.Getenv(seeder.PypiMirrorSecretEnvVar); secretName != "" {
		creds, err := services.GetMirrorCredentials(ctx, secrets, secretName, "pypi")
		if err != nil {
			return err
		}
		parsed, err := url.Parse(mirrorURL)
		if err != nil {
			return seeder.NewError(seeder.ErrCodeConfiguration,
				fmt.Sprintf("pypi mirror URL %q is invalid", mirrorURL), err)
		}
		parsed.User = url.UserPassword(creds.Username, creds.Password)
		indexURL = parsed.String()
	}
	log.Debug().Str("index", mirrorURL).Msg("configuring pypi mirror")
	if err := run(ctx, "pip", "config", "set", "global.index-url", indexURL); err != nil {
		return seeder.NewError(seeder.ErrCodeConfiguration, "pypi mirror setup failed", err)
	}
	return nil
}
