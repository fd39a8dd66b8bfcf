package analysis

import "testing"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		ok   bool
		want string
	}{
		{
			name: "bare object",
			text: `{"summary": "plain json"}`,
			ok:   true,
			want: "plain json",
		},
		{
			name: "fenced object",
			text: "```json\n{\"summary\": \"fenced\"}\n```",
			ok:   true,
			want: "fenced",
		},
		{
			name: "prose around object",
			text: `Sure, here is the analysis you asked for: {"summary": "embedded"} hope that helps!`,
			ok:   true,
			want: "embedded",
		},
		{
			name: "nested braces",
			text: `{"summary": "outer", "extra": {"inner": 1}}`,
			ok:   true,
			want: "outer",
		},
		{
			name: "braces inside strings",
			text: `{"summary": "code like {this} and \"quoted\" text"}`,
			ok:   true,
			want: `code like {this} and "quoted" text`,
		},
		{
			name: "no object at all",
			text: "the model refused and wrote an apology instead",
			ok:   false,
		},
		{
			name: "truncated object",
			text: `{"summary": "cut off mid`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Summary string `json:"summary"`
			}
			got := ExtractJSONObject(tt.text, &out)
			if got != tt.ok {
				t.Fatalf("ExtractJSONObject = %v, want %v", got, tt.ok)
			}
			if tt.ok && out.Summary != tt.want {
				t.Errorf("Summary = %q, want %q", out.Summary, tt.want)
			}
		})
	}
}

func TestCheckpointKeyIsStable(t *testing.T) {
	a := CheckpointKey("analysis", "linux-media", "thread-key")
	b := CheckpointKey("analysis", "linux-media", "thread-key")
	if a != b {
		t.Errorf("same inputs should give the same key: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("key length = %d, want 16", len(a))
	}
	if CheckpointKey("synthesis", "linux-media", "thread-key") == a {
		t.Error("different stages must not collide")
	}
	if CheckpointKey("analysis", "linux-input", "thread-key") == a {
		t.Error("different feeds must not collide")
	}
}
