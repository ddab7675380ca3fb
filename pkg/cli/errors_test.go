package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/indexretain/pkg/index"
)

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "storage.data_dir",
		Message: "missing required field",
	}

	expected := "config error in storage.data_dir: missing required field"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	err = NewConfigError("", "failed to load config")
	if got, want := err.Error(), "config error: failed to load config"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := NewCommandError("checkpoint", underlyingErr)

	expected := "command checkpoint failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should find the underlying error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"config", NewConfigError("checkpoint.schedule", "bad"), ExitConfig},
		{"wrapped config", NewCommandError("run", NewConfigError("", "bad")), ExitConfig},
		{"conflict", index.NewCheckpointConflictError("idx", "process"), ExitConflict},
		{"duplicate", index.NewDuplicateJobError(7, false), ExitConflict},
		{"unknown scope", &index.UnknownScopeError{Scope: "nope"}, ExitNotFound},
		{"not found", fmt.Errorf("restore: %w", &index.NotFoundError{Scope: "sc1", JobID: 4}), ExitNotFound},
		{"invalid job", index.NewInvalidJobError(-1, "job id must be positive"), ExitInvalid},
		{"deleted subclient", &index.SubclientDeletedError{SubclientID: "sc1"}, ExitInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
