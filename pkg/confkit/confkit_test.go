package confkit_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		file     string
		expected string
	}{
		{name: "absolute path wins", base: "/base/dir", file: "/abs/feed.yaml", expected: "/abs/feed.yaml"},
		{name: "relative joined to base", base: "/base/dir", file: "etc/feed.yaml", expected: "/base/dir/etc/feed.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, confkit.ResolvePath(tt.base, tt.file))
		})
	}
}

func TestResolvePath_ExpandsEnv(t *testing.T) {
	t.Setenv("CONF_DIR", "confdir")
	got := confkit.ResolvePath("/base", "${CONF_DIR}/feed.yaml")
	assert.Equal(t, filepath.Join("/base", "confdir", "feed.yaml"), got)
}

func TestBaseDir(t *testing.T) {
	assert.Equal(t, "/etc/helmsman", confkit.BaseDir("/etc/helmsman/app.yaml"))
	assert.Equal(t, "/", confkit.BaseDir("/app.yaml"))
}

func TestSection_Hydrate(t *testing.T) {
	t.Run("empty file is a no-op", func(t *testing.T) {
		section := &confkit.Section[string]{}
		err := section.Hydrate("/base", func(string) (*string, error) {
			t.Fatal("loader must not run without a file")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, section.Value)
	})

	t.Run("loads and rewrites the path", func(t *testing.T) {
		section := &confkit.Section[string]{File: "agents.yaml"}
		value := "loaded"
		err := section.Hydrate("/base", func(path string) (*string, error) {
			assert.Equal(t, "/base/agents.yaml", path)
			return &value, nil
		})
		require.NoError(t, err)
		require.NotNil(t, section.Value)
		assert.Equal(t, "loaded", *section.Value)
		assert.Equal(t, "/base/agents.yaml", section.File)
	})
}
