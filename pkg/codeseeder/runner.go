package codeseeder

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/bundle"
	"github.com/awslabs/aws-codeseeder/pkg/monitor"
	"github.com/awslabs/aws-codeseeder/pkg/result"
	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/telemetry"
)

// runner executes one call payload. The concrete runner is picked once at
// Seeder construction: localRunner inside a dispatched job, remoteRunner
// everywhere else.
type runner interface {
	run(ctx context.Context, name string, payload seeder.CallPayload, overrides *seeder.Configuration) (*seeder.Result, error)
}

// localRunner invokes the function in-process and publishes its return value
// through the export file. It runs on the remote side of the boundary.
type localRunner struct {
	seeder *Seeder
}

func (r *localRunner) run(ctx context.Context, name string, payload seeder.CallPayload, overrides *seeder.Configuration) (*seeder.Result, error) {
	return r.seeder.executeLocal(ctx, payload)
}

func (s *Seeder) executeLocal(ctx context.Context, payload seeder.CallPayload) (*seeder.Result, error) {
	fn, err := s.lookupFunction(payload.FnID)
	if err != nil {
		return nil, err
	}

	value, err := fn(ctx, payload.Args, payload.Kwargs)
	if err != nil {
		return nil, err
	}
	if err := result.EnsureSerializable(value); err != nil {
		return nil, err
	}
	if err := result.WriteExportFile(seeder.ExportFilePath, value); err != nil {
		return nil, err
	}

	return &seeder.Result{
		ExportedVars: map[string]string{},
		ReturnValue:  value,
	}, nil
}

// remoteRunner drives the full pipeline on the dispatching side.
type remoteRunner struct {
	seeder *Seeder
}

func (r *remoteRunner) run(ctx context.Context, name string, payload seeder.CallPayload, overrides *seeder.Configuration) (*seeder.Result, error) {
	return r.seeder.remoteCall(ctx, name, payload, overrides)
}

func (s *Seeder) remoteCall(ctx context.Context, name string, payload seeder.CallPayload, overrides *seeder.Configuration) (*seeder.Result, error) {
	logger := log.With().Str("seedkit", name).Str("fn_id", payload.FnID).Logger()

	ctx = telemetry.WithCallContext(ctx, name, "", payload.FnID)

	var cfg *seeder.Configuration
	err := telemetry.RecordStep(ctx, "resolve", name, func(ctx context.Context) error {
		var err error
		cfg, err = s.registry.Resolve(name, overrides)
		return err
	})
	if err != nil {
		telemetry.EndCallContext(ctx, name, "", "failed", err)
		return nil, err
	}

	var bundleZip string
	if cfg.PrebuiltBundle == "" {
		err = telemetry.RecordStep(ctx, "bundle", name, func(ctx context.Context) error {
			built, err := s.builder.Build(ctx, bundle.SpecFromConfiguration(cfg, payload), "")
			if err != nil {
				return err
			}
			bundleZip = built.ZipPath
			if info, statErr := os.Stat(built.ZipPath); statErr == nil {
				if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
					tel.Metrics.RecordBundleSize(info.Size())
				}
			}
			return nil
		})
		if err != nil {
			telemetry.EndCallContext(ctx, name, "", "failed", err)
			return nil, err
		}
	} else {
		logger.Debug().Str("bundle", cfg.PrebuiltBundle).Msg("using prebuilt bundle")
	}

	var env *seeder.EnvironmentRef
	err = telemetry.RecordStep(ctx, "ensure", name, func(ctx context.Context) error {
		var err error
		env, err = s.provisioner.Ensure(ctx,
			seeder.Deployment{Name: name, Region: s.opts.Region},
			s.registry.DeployIfNotExists(name), s.opts.DeployOptions)
		return err
	})
	if err != nil {
		telemetry.EndCallContext(ctx, name, "", "failed", err)
		return nil, err
	}
	if s.opts.History != nil {
		if histErr := s.opts.History.RecordDeployment(ctx, env); histErr != nil {
			logger.Warn().Err(histErr).Msg("failed to record deployment history")
		}
	}

	var job *seeder.Job
	err = telemetry.RecordStep(ctx, "submit", name, func(ctx context.Context) error {
		var err error
		job, err = s.dispatcher.Submit(ctx, env, cfg, bundleZip)
		return err
	})
	if err != nil {
		telemetry.EndCallContext(ctx, name, "", "failed", err)
		return nil, err
	}
	logger = logger.With().Str("build_id", job.ID).Str("execution_id", job.ExecutionID).Logger()
	logger.Info().Msg("build submitted")

	info, watchErr := s.watchJob(ctx, name, job)

	// The staged bundle is call-scoped; remove it regardless of outcome.
	if cleanupErr := s.dispatcher.Cleanup(context.WithoutCancel(ctx), env, job); cleanupErr != nil {
		logger.Warn().Err(cleanupErr).Msg("failed to clean up staged bundle")
	}

	if s.opts.History != nil {
		status := seeder.JobStatusSucceeded
		if watchErr != nil {
			status = seeder.JobStatusFailed
		}
		if info != nil {
			status = info.Status
		}
		if histErr := s.opts.History.RecordJob(context.WithoutCancel(ctx), job, status); histErr != nil {
			logger.Warn().Err(histErr).Msg("failed to record job history")
		}
	}

	if watchErr != nil {
		telemetry.EndCallContext(ctx, name, job.ID, "failed", watchErr)
		return nil, watchErr
	}

	var res *seeder.Result
	err = telemetry.RecordStep(ctx, "fetch", name, func(ctx context.Context) error {
		var err error
		res, err = result.Fetch(info.ExportedVars)
		var serr *seeder.SeederError
		if errors.As(err, &serr) {
			serr.WithSeedkit(name).WithJob(job.ID)
		}
		return err
	})
	if err != nil {
		telemetry.EndCallContext(ctx, name, job.ID, "failed", err)
		return nil, err
	}

	telemetry.EndCallContext(ctx, name, job.ID, "succeeded", nil)
	logger.Info().Msg("remote call completed")
	return res, nil
}

// watchJob polls the job to a terminal state, forwarding log lines and phase
// transitions. On context cancellation the build is stopped best-effort.
func (s *Seeder) watchJob(ctx context.Context, name string, job *seeder.Job) (*monitor.BuildInfo, error) {
	logger := log.With().Str("seedkit", name).Str("build_id", job.ID).Logger()
	tel := telemetry.FromTelemetryContext(ctx)

	opts := monitor.Options{
		PollInterval: s.opts.PollInterval,
		LogCallback: func(line string) {
			logger.Info().Str("source", "remote").Msg(line)
		},
		PhaseCallback: func(p seeder.PhaseInfo) {
			logger.Info().
				Str("phase", string(p.Phase)).
				Str("status", string(p.Status)).
				Msg("phase transition")
			if tel != nil {
				tel.Metrics.RecordPhaseTransition(string(p.Phase), string(p.Status))
				_ = tel.Events.PublishPhaseTransition(name, job.ID, string(p.Phase), string(p.Status))
			}
		},
	}

	var info *monitor.BuildInfo
	err := telemetry.RecordStep(ctx, "watch", name, func(ctx context.Context) error {
		var err error
		info, err = s.watch(ctx, job, opts)
		return err
	})
	if err != nil && ctx.Err() != nil {
		stopCtx := context.WithoutCancel(ctx)
		if stopErr := s.dispatcher.Stop(stopCtx, job); stopErr != nil {
			logger.Warn().Err(stopErr).Msg("failed to stop build after cancellation")
		} else {
			logger.Info().Msg("build stopped after cancellation")
		}
	}
	return info, err
}
