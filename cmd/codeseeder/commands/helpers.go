package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/config"
	"github.com/awslabs/aws-codeseeder/pkg/policy"
	"github.com/awslabs/aws-codeseeder/pkg/seeder"
	"github.com/awslabs/aws-codeseeder/pkg/services"
	"github.com/awslabs/aws-codeseeder/pkg/stores"
	"github.com/awslabs/aws-codeseeder/pkg/telemetry"
)

// loadSeedkitFile parses the configuration file named by the --config flag.
func loadSeedkitFile(ctx context.Context) (*config.SeedkitFile, error) {
	parser := config.NewCUEParser()
	file, err := parser.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("seedkit", file.Seedkit.Name).
		Strs("sources", file.SourceFiles).
		Msg("Configuration loaded")
	return file, nil
}

// newAWSClients initializes AWS clients from the global flags.
func newAWSClients(ctx context.Context) (*services.AWSClients, error) {
	return services.NewAWSClients(ctx, services.Options{
		Region:  region,
		Profile: profile,
	})
}

// resolveDeployment builds the deployment identity from the configuration
// file and the global flags. The --region flag wins over the file's region,
// which wins over the region of the loaded AWS configuration.
func resolveDeployment(file *config.SeedkitFile, clients *services.AWSClients) seeder.Deployment {
	d := seeder.Deployment{Name: file.Seedkit.Name, Region: clients.Region}
	if file.Seedkit.Region != "" {
		d.Region = file.Seedkit.Region
	}
	if region != "" {
		d.Region = region
	}
	return d
}

// openHistory opens the local history database. The default location is
// ~/.codeseeder/history.db; --history-db overrides it.
func openHistory(ctx context.Context) (stores.Store, error) {
	path := dbPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".codeseeder", "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newPolicyEngine builds the policy engine with the built-in policies plus
// any directories named by --policy-dir.
func newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}
	if len(policyDirs) > 0 {
		if err := engine.LoadPolicies(ctx, policyDirs); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// enforcePolicies evaluates the deployment and configuration policies for the
// given seedkit. Warning violations are logged; error and critical violations
// block the operation.
func enforcePolicies(ctx context.Context, engine *policy.Engine, tel *telemetry.Telemetry, d seeder.Deployment, file *config.SeedkitFile) error {
	deployResult, err := engine.EvaluateDeployment(ctx, d.Name, d.Region, file.Seedkit)
	if err != nil {
		return err
	}
	configResult, err := engine.EvaluateConfiguration(ctx, d.Name, file.Configuration)
	if err != nil {
		return err
	}

	var blocking []string
	for _, result := range []*policy.Result{deployResult, configResult} {
		for _, v := range result.Violations {
			if tel != nil {
				_ = tel.Events.PublishPolicyViolation(d.Name, v.Policy, v.Message)
			}
			switch v.Severity {
			case policy.SeverityError, policy.SeverityCritical:
				log.Error().Str("policy", v.Policy).Msg(v.Message)
				blocking = append(blocking, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			default:
				log.Warn().Str("policy", v.Policy).Msg(v.Message)
			}
		}
	}

	if len(blocking) > 0 {
		return seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("deployment blocked by policy: %s", strings.Join(blocking, "; ")), nil)
	}
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
