package planner

import "testing"

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "features:\n  - name: a\n", "features:\n  - name: a"},
		{"yaml fence", "```yaml\nfeatures:\n  - name: a\n```", "features:\n  - name: a"},
		{"bare fence", "```\nfeatures: []\n```\n", "features: []"},
		{"unclosed fence", "```yaml\nfeatures: []", "features: []"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestBedrockModelTranslation(t *testing.T) {
	got := translateModelForBedrock("claude-sonnet-4-20250514")
	if got != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("unexpected translation: %s", got)
	}
	// Unknown models pass through untouched.
	if got := translateModelForBedrock("custom-model"); got != "custom-model" {
		t.Errorf("custom model should pass through, got %s", got)
	}
}
