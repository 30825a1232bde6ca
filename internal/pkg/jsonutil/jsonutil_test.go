package jsonutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"fenced", "analysis:\n```json\n{\"action\":\"LONG\"}\n```\nthanks", `{"action":"LONG"}`, true},
		{"inline object", `The verdict is {"confidence": 0.7, "note": "a } in string"} end`, `{"confidence": 0.7, "note": "a } in string"}`, true},
		{"array", `[1,2,3] trailing`, `[1,2,3]`, true},
		{"skips invalid prefix", `{not json} then {"ok":true}`, `{"ok":true}`, true},
		{"none", "no json here", "", false},
		{"unbalanced", `{"a": [1, 2}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", Pretty(`{"a":1}`))
	assert.Equal(t, "not json", Pretty("not json"))
}

func TestMarshalStable(t *testing.T) {
	a, err := MarshalStable(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := MarshalStable(map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": 2\n}\n", string(a))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(raw))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
