package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"gqlorm/internal/config"
)

func TestReportValidation(t *testing.T) {
	tests := []struct {
		name       string
		result     *config.ValidationResult
		wantErr    bool
		wantLogged []string
	}{
		{
			name:   "clean",
			result: &config.ValidationResult{},
		},
		{
			name: "warnings only",
			result: &config.ValidationResult{
				Warnings: []config.ValidationWarning{{Field: "server.schema_refresh_max_interval", Message: "below min"}},
			},
			wantLogged: []string{"configuration warning", "server.schema_refresh_max_interval"},
		},
		{
			name: "errors fail",
			result: &config.ValidationResult{
				Errors: []config.ValidationError{
					{Field: "optimizer.enabled", Message: "must be a boolean", Hint: "use true or false"},
				},
			},
			wantErr:    true,
			wantLogged: []string{"configuration error", "optimizer.enabled", "use true or false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			err := reportValidation(logger, tt.result)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got none")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.wantLogged {
				if !strings.Contains(buf.String(), want) {
					t.Fatalf("log output %q does not contain %q", buf.String(), want)
				}
			}
		})
	}
}
