package commands

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awslabs/aws-codeseeder/pkg/seedkit"
	"github.com/awslabs/aws-codeseeder/pkg/telemetry"
)

const devDebounce = 500 * time.Millisecond

func newDevCommand() *cobra.Command {
	var deployOnChange bool

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch the configuration and react to changes",
		Long: `Watch the seedkit configuration file and re-validate it on every
change. With --deploy the seedkit stack is also updated after each
successful validation.

Rapid successive writes (editor save storms) are debounced.`,
		Example: `  # Re-validate on every save
  codeseeder dev

  # Re-validate and redeploy on every save
  codeseeder dev --deploy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			clients, err := newAWSClients(ctx)
			if err != nil {
				return err
			}
			engine, err := newPolicyEngine(ctx)
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()
			ctx = tel.WithContext(ctx)

			reload := func() {
				file, err := loadSeedkitFile(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Configuration invalid")
					return
				}
				d := resolveDeployment(file, clients)
				if err := enforcePolicies(ctx, engine, tel, d, file); err != nil {
					log.Error().Err(err).Msg("Policy check failed")
					return
				}
				log.Info().Str("seedkit", d.Name).Msg("Configuration valid")

				if !deployOnChange {
					return
				}
				provisioner := seedkit.NewProvisioner(clients.CloudFormation, clients.S3, clients.STS)
				env, err := provisioner.Deploy(ctx, d, file.ToDeployOptions())
				if err != nil {
					log.Error().Err(err).Msg("Deploy failed")
					return
				}
				_ = tel.Events.PublishSeedkitDeployed(d.Name, env.StackName)
				log.Info().Str("stack", env.StackName).Msg("Seedkit updated")
			}

			// Initial pass before watching.
			reload()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Close() }()

			// Watch the directory: editors replace files on save, which
			// drops a watch placed on the file itself.
			target, err := filepath.Abs(configPath)
			if err != nil {
				return err
			}
			if err := watcher.Add(filepath.Dir(target)); err != nil {
				return err
			}
			log.Info().Str("config", target).Msg("Watching for changes")

			var timer *time.Timer
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(event.Name) != target {
						continue
					}
					if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
						continue
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(devDebounce, reload)
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watch error")
				}
			}
		},
	}

	cmd.Flags().BoolVar(&deployOnChange, "deploy", false, "redeploy the seedkit after each valid change")

	return cmd
}
