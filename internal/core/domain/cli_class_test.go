package domain_test

import (
	"testing"

	"github.com/thushan/olla/internal/core/domain"
)

func TestCLIClassValid(t *testing.T) {
	valid := []domain.CLIClass{domain.CLIClassA, domain.CLIClassB, domain.CLIClassC}
	for _, c := range valid {
		if !c.Valid() {
			t.Errorf("%q: expected valid", c)
		}
	}
	if domain.CLIClassUnknown.Valid() {
		t.Error("CLIClassUnknown: expected invalid")
	}
	if domain.CLIClass("bogus").Valid() {
		t.Error("bogus class: expected invalid")
	}
}

func TestCLIClassString(t *testing.T) {
	if got := domain.CLIClassUnknown.String(); got != "unknown" {
		t.Errorf("String() = %q, want unknown", got)
	}
	if got := domain.CLIClassA.String(); got != "cli-a" {
		t.Errorf("String() = %q, want cli-a", got)
	}
}

func TestCLIClassAuthHeaderAndScheme(t *testing.T) {
	if got := domain.CLIClassA.AuthHeader(); got != "x-api-key" {
		t.Errorf("CLIClassA.AuthHeader() = %q", got)
	}
	if got := domain.CLIClassA.AuthScheme(); got != "" {
		t.Errorf("CLIClassA.AuthScheme() = %q, want empty", got)
	}
	for _, c := range []domain.CLIClass{domain.CLIClassB, domain.CLIClassC} {
		if got := c.AuthHeader(); got != "Authorization" {
			t.Errorf("%s.AuthHeader() = %q, want Authorization", c, got)
		}
		if got := c.AuthScheme(); got != "Bearer " {
			t.Errorf("%s.AuthScheme() = %q, want \"Bearer \"", c, got)
		}
	}
}

func TestCLIClassRequiredHeaders(t *testing.T) {
	if h := domain.CLIClassA.RequiredHeaders(); h["anthropic-version"] != "2023-06-01" {
		t.Errorf("CLIClassA required headers = %v", h)
	}
	if h := domain.CLIClassB.RequiredHeaders(); h["openai-beta"] != "responses=experimental" {
		t.Errorf("CLIClassB required headers = %v", h)
	}
	if h := domain.CLIClassC.RequiredHeaders(); h != nil {
		t.Errorf("CLIClassC required headers = %v, want nil", h)
	}
}

func TestCLIClassSupportsRectifiers(t *testing.T) {
	if !domain.CLIClassA.SupportsRectifiers() {
		t.Error("CLIClassA should support rectifiers")
	}
	if domain.CLIClassB.SupportsRectifiers() || domain.CLIClassC.SupportsRectifiers() {
		t.Error("only CLIClassA should support rectifiers")
	}
}

func TestCLIClassResponsesPath(t *testing.T) {
	if got := domain.CLIClassB.ResponsesPath(); got != "/responses" {
		t.Errorf("CLIClassB.ResponsesPath() = %q", got)
	}
	if got := domain.CLIClassA.ResponsesPath(); got != "" {
		t.Errorf("CLIClassA.ResponsesPath() = %q, want empty", got)
	}
}
