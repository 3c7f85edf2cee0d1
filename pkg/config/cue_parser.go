package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// CUEParser parses and validates seedkit configuration files.
type CUEParser struct {
	ctx               *cue.Context
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:               cuecontext.New(),
		schemaRegistry:    NewSchemaRegistry(),
		starlarkEvaluator: NewStarlarkEvaluator(30 * time.Second),
		validator:         validator.New(),
	}
}

// Load parses the source (a CUE file or directory), validates it, evaluates
// env expressions, and returns the seedkit file ready for registration. It is
// the high-level entry point used by the CLI.
func (cp *CUEParser) Load(ctx context.Context, source string) (*SeedkitFile, error) {
	parsed, err := cp.Parse(ctx, []string{source})
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, seeder.NewError(seeder.ErrCodeConfiguration,
			fmt.Sprintf("configuration %s is invalid: %v", source, parsed.Errors[0].Message), nil)
	}
	if err := cp.evaluateEnvExpressions(ctx, parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// Parse parses CUE configuration from the given sources. Multiple sources
// unify; conflicting values surface as CUE errors.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*SeedkitFile, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := cp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := cp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &SeedkitFile{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		parseErrors = append(parseErrors, cp.convertCUEErrors(err)...)
		return &SeedkitFile{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return cp.extractFile(cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*SeedkitFile, error) {
	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &SeedkitFile{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractFile(val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractFile extracts the seedkit file from a CUE value.
func (cp *CUEParser) extractFile(val cue.Value, sourceFiles []string) (*SeedkitFile, error) {
	parsed := &SeedkitFile{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	seedkitVal := val.LookupPath(cue.ParsePath("seedkit"))
	if !seedkitVal.Exists() {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "seedkit",
			Message:  "missing required seedkit declaration",
			Severity: "error",
		})
		return parsed, nil
	}
	if err := seedkitVal.Decode(&parsed.Seedkit); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "seedkit",
			Message:  fmt.Sprintf("failed to decode seedkit: %v", err),
			Severity: "error",
		})
		return parsed, nil
	}

	configVal := val.LookupPath(cue.ParsePath("configuration"))
	if configVal.Exists() {
		if err := configVal.Decode(&parsed.Configuration); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "configuration",
				Message:  fmt.Sprintf("failed to decode configuration: %v", err),
				Severity: "error",
			})
		}
	}

	exprVal := val.LookupPath(cue.ParsePath("env_expressions"))
	if exprVal.Exists() {
		if err := exprVal.Decode(&parsed.EnvExpressions); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "env_expressions",
				Message:  fmt.Sprintf("failed to decode env_expressions: %v", err),
				Severity: "error",
			})
		}
	}

	cp.validateFile(parsed)
	return parsed, nil
}

// validateFile runs struct validation over the decoded file.
func (cp *CUEParser) validateFile(parsed *SeedkitFile) {
	if err := cp.validator.Struct(parsed.Seedkit); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "seedkit",
			Message:  err.Error(),
			Severity: "error",
		})
	}
	if err := cp.validator.Struct(parsed.Configuration); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "configuration",
			Message:  err.Error(),
			Severity: "error",
		})
	}
	if parsed.Seedkit.VPC != nil {
		if err := cp.validator.Struct(parsed.Seedkit.VPC); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "seedkit.vpc",
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
}

// evaluateEnvExpressions evaluates the file's starlark env expressions and
// merges the results into the configuration as plaintext variables. Each
// expression sees the seedkit name, the region, and the process environment.
func (cp *CUEParser) evaluateEnvExpressions(ctx context.Context, parsed *SeedkitFile) error {
	if len(parsed.EnvExpressions) == 0 {
		return nil
	}

	environ := make(map[string]interface{})
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				environ[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	input := map[string]interface{}{
		"seedkit": parsed.Seedkit.Name,
		"region":  parsed.Seedkit.Region,
		"env":     environ,
	}

	if parsed.Configuration.EnvVars == nil {
		parsed.Configuration.EnvVars = make(map[string]EnvVarSpec, len(parsed.EnvExpressions))
	}
	for name, expr := range parsed.EnvExpressions {
		value, err := cp.starlarkEvaluator.EvaluateExpression(ctx, expr, input)
		if err != nil {
			return seeder.NewError(seeder.ErrCodeConfiguration,
				fmt.Sprintf("env expression %s failed", name), err)
		}
		parsed.Configuration.EnvVars[name] = EnvVarSpec{Value: fmt.Sprintf("%v", value)}
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// ValidateWithSchema validates data against a named schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}
