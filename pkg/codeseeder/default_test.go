package codeseeder

import (
	"context"
	"testing"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"
)

func unregister(t *testing.T, fnID string) {
	t.Helper()
	t.Cleanup(func() {
		defaultMu.Lock()
		delete(defaultFunctions, fnID)
		defaultMu.Unlock()
	})
}

func TestRegisterSeedsNewSeeders(t *testing.T) {
	unregister(t, "tests:echo")
	err := Register("tests:echo", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return "echo", nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	h := newTestSeeder(t, Options{})
	if _, err := h.seeder.lookupFunction("tests:echo"); err != nil {
		t.Fatalf("lookupFunction: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	if err := Register("tests:nil", nil); !seeder.IsConfigurationError(err) {
		t.Fatalf("nil function: err = %v, want configuration error", err)
	}
	if err := Register("noseparator", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	}); !seeder.IsConfigurationError(err) {
		t.Fatalf("bad id: err = %v, want configuration error", err)
	}
}

func TestMustRegisterPanicsOnBadID(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustRegister did not panic")
		}
	}()
	MustRegister("broken", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
}

func TestPerSeederRegistrationDoesNotLeak(t *testing.T) {
	h := newTestSeeder(t, Options{})
	if err := h.seeder.RegisterFunction("tests:local", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}

	other := newTestSeeder(t, Options{})
	if _, err := other.seeder.lookupFunction("tests:local"); !seeder.IsConfigurationError(err) {
		t.Fatalf("err = %v, want configuration error on unrelated seeder", err)
	}
}
