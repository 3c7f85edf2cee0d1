// Package result marshals remote function output back to the caller. The
// remote side writes an export script that publishes the JSON-encoded return
// value through an exported build variable; the caller decodes that variable
// together with any other exported variables.
package result

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

// Fetch decodes a finished job's exported variables into a Result. A missing
// output variable is a success with no return value; a malformed one is a
// decode error.
func Fetch(exportedVars map[string]string) (*seeder.Result, error) {
	result := &seeder.Result{ExportedVars: map[string]string{}}
	for name, value := range exportedVars {
		if name == seeder.OutputEnvVar {
			continue
		}
		result.ExportedVars[name] = value
	}

	raw, ok := exportedVars[seeder.OutputEnvVar]
	if !ok || raw == "" {
		return result, nil
	}
	if err := json.Unmarshal([]byte(raw), &result.ReturnValue); err != nil {
		return nil, seeder.NewError(seeder.ErrCodeResultDecode,
			"exported output variable is not valid JSON", err)
	}
	return result, nil
}

// Apply publishes the result's exported variables into this process's
// environment.
func Apply(r *seeder.Result) error {
	for name, value := range r.ExportedVars {
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

// EnsureSerializable verifies a value survives the JSON round trip to the
// caller. Called on the remote side before the function result is accepted.
func EnsureSerializable(v interface{}) error {
	if _, err := json.Marshal(v); err != nil {
		return seeder.NewError(seeder.ErrCodeSerialization,
			"remote function returned a value that cannot be represented as JSON", err)
	}
	return nil
}

// WriteExportFile writes the export script that publishes the return value
// into the build environment. Sourcing the script defines and exports the
// output variable; a nil value writes nothing.
func WriteExportFile(path string, value interface{}) error {
	if value == nil {
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return seeder.NewError(seeder.ErrCodeSerialization,
			"remote function returned a value that cannot be represented as JSON", err)
	}

	script := fmt.Sprintf("read -r -d '' %s <<'EOF'\n%s\nEOF\nexport %s\n",
		seeder.OutputEnvVar, encoded, seeder.OutputEnvVar)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return seeder.NewError(seeder.ErrCodeSerialization,
			fmt.Sprintf("failed to write export file %s", path), err)
	}
	log.Debug().Str("path", path).Msg("export file written")
	return nil
}
