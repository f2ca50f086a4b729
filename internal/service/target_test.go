package service

import "testing"

func TestNewUpstreamTarget(t *testing.T) {
	target, err := NewUpstreamTarget("https://chat.openai.com/backend-api/")
	if err != nil {
		t.Fatalf("NewUpstreamTarget() error = %v", err)
	}

	if got := target.Host(); got != "chat.openai.com" {
		t.Errorf("Host() = %q, want %q", got, "chat.openai.com")
	}
	if got := target.Origin(); got != "https://chat.openai.com" {
		t.Errorf("Origin() = %q, want %q", got, "https://chat.openai.com")
	}
	if got := target.BaseURL(); got != "https://chat.openai.com/backend-api/" {
		t.Errorf("BaseURL() = %q, want %q", got, "https://chat.openai.com/backend-api/")
	}
}

func TestNewUpstreamTarget_Invalid(t *testing.T) {
	for _, raw := range []string{"://bad", "/relative/only", ""} {
		t.Run(raw, func(t *testing.T) {
			if _, err := NewUpstreamTarget(raw); err == nil {
				t.Errorf("NewUpstreamTarget(%q) expected error, got nil", raw)
			}
		})
	}
}

func TestUpstreamTarget_URL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		suffix   string
		rawQuery string
		want     string
	}{
		{"simple", "https://chat.openai.com/backend-api/", "/models", "", "https://chat.openai.com/backend-api/models"},
		{"base without slash", "https://chat.openai.com/backend-api", "/models", "", "https://chat.openai.com/backend-api/models"},
		{"suffix without slash", "https://chat.openai.com/backend-api/", "models", "", "https://chat.openai.com/backend-api/models"},
		{"empty suffix", "https://chat.openai.com/backend-api/", "", "", "https://chat.openai.com/backend-api/"},
		{"root base", "https://example.com", "/a/b", "", "https://example.com/a/b"},
		{"query verbatim", "https://example.com/", "/conversations", "offset=0&limit=20&order=updated", "https://example.com/conversations?offset=0&limit=20&order=updated"},
		{"escaped path kept", "https://example.com/", "/files/a%2Fb%20c", "q=%E2%9C%93", "https://example.com/files/a%2Fb%20c?q=%E2%9C%93"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := NewUpstreamTarget(tt.base)
			if err != nil {
				t.Fatalf("NewUpstreamTarget() error = %v", err)
			}
			if got := target.URL(tt.suffix, tt.rawQuery); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}
