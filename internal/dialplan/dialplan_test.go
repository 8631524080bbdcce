package dialplan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `{
  "version": "1",
  "contexts": [
    {
      "name": "default",
      "extensions": [
        {"pattern": "100", "target": "sip:operator@pbx.local"},
        {"pattern": "_1XX", "target": "sip:${EXTEN}@pbx.local"},
        {"pattern": "_9.", "target": "sip:${EXTEN}@trunk.example.com"}
      ]
    },
    {
      "name": "fxs2",
      "extensions": [
        {"pattern": "_NXXXXXX", "target": "sip:${EXTEN}@local.example.com"}
      ]
    }
  ]
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dialplan.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndLookup(t *testing.T) {
	d, err := New(writeConfig(t, testConfig), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, d.ContextCount())

	ext, ok := d.Lookup("default", "100")
	require.True(t, ok)
	assert.Equal(t, "sip:operator@pbx.local", ext.Resolve("100"))

	ext, ok = d.Lookup("default", "142")
	require.True(t, ok)
	assert.Equal(t, "sip:142@pbx.local", ext.Resolve("142"))

	assert.True(t, d.Exists("default", "95551234"))
	assert.False(t, d.Exists("default", "9"), "dot needs at least one more digit")
	assert.False(t, d.Exists("default", "200"))
	assert.False(t, d.Exists("fxs2", "100"), "contexts are isolated")
	assert.True(t, d.Exists("fxs2", "5551234"))
	assert.False(t, d.Exists("nosuch", "100"))
}

func TestPatternMatching(t *testing.T) {
	tests := []struct {
		pattern string
		digits  string
		want    bool
	}{
		{"100", "100", true},
		{"100", "1001", false},
		{"_1XX", "199", true},
		{"_1XX", "19", false},
		{"_1XX", "1999", false},
		{"_ZXX", "099", false},
		{"_ZXX", "199", true},
		{"_NXX", "199", false},
		{"_NXX", "299", true},
		{"_9.", "91", true},
		{"_9.", "9555123456", true},
		{"_9.", "9", false},
		{"_9!", "9", true},
		{"_9!", "95551234", true},
		{"_*XX", "*69", true},
		{"_1XX", "1a2", false},
	}

	for _, tt := range tests {
		ext := &Extension{Pattern: tt.pattern, Target: "sip:${EXTEN}@x"}
		require.NoError(t, ext.Validate(), tt.pattern)
		assert.Equal(t, tt.want, ext.Match(tt.digits), "%s vs %s", tt.pattern, tt.digits)
	}
}

func TestValidateRejectsBadPattern(t *testing.T) {
	ext := &Extension{Pattern: "_1Q", Target: "sip:x@y"}
	assert.Error(t, ext.Validate())

	ext = &Extension{Pattern: "", Target: "sip:x@y"}
	assert.Error(t, ext.Validate())

	ext = &Extension{Pattern: "100", Target: ""}
	assert.Error(t, ext.Validate())
}

func TestReloadSwapsTable(t *testing.T) {
	path := writeConfig(t, testConfig)
	d, err := New(path, nil)
	require.NoError(t, err)
	require.True(t, d.Exists("default", "100"))

	updated := `{"version":"2","contexts":[{"name":"default","extensions":[
		{"pattern":"200","target":"sip:200@pbx.local"}]}]}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, d.Reload())

	assert.False(t, d.Exists("default", "100"))
	assert.True(t, d.Exists("default", "200"))
}

func TestReloadKeepsOldTableOnError(t *testing.T) {
	path := writeConfig(t, testConfig)
	d, err := New(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Error(t, d.Reload())
	assert.True(t, d.Exists("default", "100"), "previous table survives a bad reload")
}
