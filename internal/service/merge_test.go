package service

import (
	"encoding/json"
	"testing"
)

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("bad fixture %s: %v", s, err)
	}
	return v
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name   string
		local  string
		remote string
		want   string
	}{
		{
			name:   "todos matched by id",
			local:  `{"todos":[{"id":1,"done":false}]}`,
			remote: `{"todos":[{"id":2,"done":true}]}`,
			want:   `{"todos":[{"done":true,"id":2},{"done":false,"id":1}]}`,
		},
		{
			name:   "same id merges fields with remote winning",
			local:  `{"todos":[{"id":1,"done":false,"note":"local"}]}`,
			remote: `{"todos":[{"id":1,"done":true}]}`,
			want:   `{"todos":[{"done":true,"id":1,"note":"local"}]}`,
		},
		{
			name:   "object key union",
			local:  `{"a":1,"nested":{"x":1}}`,
			remote: `{"b":2,"nested":{"y":2}}`,
			want:   `{"a":1,"b":2,"nested":{"x":1,"y":2}}`,
		},
		{
			name:   "scalar conflict takes remote",
			local:  `{"theme":"dark"}`,
			remote: `{"theme":"light"}`,
			want:   `{"theme":"light"}`,
		},
		{
			name:   "type mismatch takes remote",
			local:  `{"v":{"a":1}}`,
			remote: `{"v":[1]}`,
			want:   `{"v":[1]}`,
		},
		{
			name:   "plain arrays deduplicate",
			local:  `["a","b"]`,
			remote: `["b","c"]`,
			want:   `["b","c","a"]`,
		},
		{
			name:   "top level scalars",
			local:  `1`,
			remote: `2`,
			want:   `2`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := canonical(deepMerge(decodeJSON(t, tt.local), decodeJSON(t, tt.remote)))
			if got != tt.want {
				t.Errorf("deepMerge() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeepMerge_Idempotent(t *testing.T) {
	local := decodeJSON(t, `{"todos":[{"id":1,"done":false},{"id":3,"tags":["x"]}],"tags":["a"],"prefs":{"lang":"en"}}`)
	remote := decodeJSON(t, `{"todos":[{"id":2,"done":true},{"id":3,"tags":["y"]}],"tags":["b"],"prefs":{"tz":"UTC"}}`)

	merged := deepMerge(local, remote)
	want := canonical(merged)

	if got := canonical(deepMerge(local, remote)); got != want {
		t.Errorf("merge is not deterministic: %s vs %s", got, want)
	}
	if got := canonical(deepMerge(merged, remote)); got != want {
		t.Errorf("merging the result with remote again changed it: %s", got)
	}
	if got := canonical(deepMerge(local, merged)); got != want {
		t.Errorf("merging local into the result again changed it: %s", got)
	}
	if got := canonical(deepMerge(merged, merged)); got != want {
		t.Errorf("merging the result with itself changed it: %s", got)
	}
}
