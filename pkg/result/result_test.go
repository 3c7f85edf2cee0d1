package result

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

func TestFetchDecodesOutputAndVars(t *testing.T) {
	exported := map[string]string{
		"FOO":               "bar",
		seeder.OutputEnvVar: `{"exported_count": 2, "names": ["a", "b"]}`,
	}

	r, err := Fetch(exported)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if r.ExportedVars["FOO"] != "bar" {
		t.Errorf("exported vars = %v", r.ExportedVars)
	}
	if _, ok := r.ExportedVars[seeder.OutputEnvVar]; ok {
		t.Error("output variable must not leak into exported vars")
	}

	want := map[string]interface{}{
		"exported_count": float64(2),
		"names":          []interface{}{"a", "b"},
	}
	if !reflect.DeepEqual(r.ReturnValue, want) {
		t.Errorf("return value = %#v, want %#v", r.ReturnValue, want)
	}
}

func TestFetchMissingOutputIsSuccess(t *testing.T) {
	r, err := Fetch(map[string]string{"FOO": "bar"})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if r.ReturnValue != nil {
		t.Errorf("return value = %v, want nil", r.ReturnValue)
	}
	if r.ExportedVars["FOO"] != "bar" {
		t.Errorf("exported vars = %v", r.ExportedVars)
	}
}

func TestFetchMalformedOutputFails(t *testing.T) {
	_, err := Fetch(map[string]string{seeder.OutputEnvVar: "{not json"})
	if !seeder.IsResultDecodeError(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestApplySetsEnvironment(t *testing.T) {
	t.Setenv("CODESEEDER_TEST_VAR", "")
	r := &seeder.Result{ExportedVars: map[string]string{"CODESEEDER_TEST_VAR": "applied"}}
	if err := Apply(r); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if os.Getenv("CODESEEDER_TEST_VAR") != "applied" {
		t.Error("variable not applied to environment")
	}
}

func TestEnsureSerializable(t *testing.T) {
	if err := EnsureSerializable(map[string]interface{}{"x": 1}); err != nil {
		t.Errorf("plain map rejected: %v", err)
	}
	if err := EnsureSerializable(func() {}); !seeder.IsSerializationError(err) {
		t.Errorf("expected serialization error, got %v", err)
	}
}

func TestWriteExportFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.sh")
	value := map[string]interface{}{"deployed": true}

	if err := WriteExportFile(path, value); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	script := string(raw)
	if !strings.Contains(script, "read -r -d '' "+seeder.OutputEnvVar+" <<'EOF'") {
		t.Errorf("heredoc preamble missing:\n%s", script)
	}
	if !strings.Contains(script, `{"deployed":true}`) {
		t.Errorf("encoded value missing:\n%s", script)
	}
	if !strings.Contains(script, "export "+seeder.OutputEnvVar) {
		t.Errorf("export line missing:\n%s", script)
	}
}

func TestWriteExportFileNilValueWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.sh")
	if err := WriteExportFile(path, nil); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("nil value must not create an export file")
	}
}
