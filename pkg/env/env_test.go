package env

import "testing"

func TestGet(t *testing.T) {
	t.Setenv("STOREFRONT_ENV_TEST", "  console ")
	if got := Get("STOREFRONT_ENV_TEST", "json"); got != "console" {
		t.Fatalf("expected trimmed value, got %q", got)
	}

	t.Setenv("STOREFRONT_ENV_TEST", "   ")
	if got := Get("STOREFRONT_ENV_TEST", "json"); got != "json" {
		t.Fatalf("expected fallback for blank value, got %q", got)
	}
}
