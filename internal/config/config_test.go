package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseScalarsAndBareKey(t *testing.T) {
	c, err := Parse(`cache_size=500MB,isolation=snapshot,log.enabled`)
	require.NoError(t, err)

	require.Equal(t, int64(500*1<<20), c.Int("cache_size", 0))
	require.Equal(t, "snapshot", c.String("isolation", ""))
	require.True(t, c.Bool("log.enabled", false))
	require.Equal(t, "default", c.String("missing", "default"))
}

func TestParseNestedGroup(t *testing.T) {
	c, err := Parse(`checkpoint=(lsn=(file=3,offset=128),id=7)`)
	require.NoError(t, err)

	ckpt, ok := c.Sub("checkpoint")
	require.True(t, ok)
	require.Equal(t, int64(7), ckpt.Int("id", 0))

	lsn, ok := ckpt.Sub("lsn")
	require.True(t, ok)
	require.Equal(t, int64(3), lsn.Int("file", -1))
	require.Equal(t, int64(128), lsn.Int("offset", -1))
}

func TestParseQuotedValue(t *testing.T) {
	c, err := Parse(`path="/var/log/kvaerner",note="a \"quoted\" value"`)
	require.NoError(t, err)
	require.Equal(t, "/var/log/kvaerner", c.String("path", ""))
	require.Equal(t, `a "quoted" value`, c.String("note", ""))
}

func TestParseRejectsMalformedGroup(t *testing.T) {
	_, err := Parse(`checkpoint=(lsn=(file=3)`)
	require.Error(t, err)
}

func TestSizeSuffixes(t *testing.T) {
	c, err := Parse(`a=1K,b=2M,c=3G,d=4`)
	require.NoError(t, err)
	require.Equal(t, int64(1<<10), c.Int("a", 0))
	require.Equal(t, int64(2<<20), c.Int("b", 0))
	require.Equal(t, int64(3<<30), c.Int("c", 0))
	require.Equal(t, int64(4), c.Int("d", 0))
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, &EngineConfig{}, cfg)
}

func TestLoadFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvaerner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_size: 134217728\nisolation: snapshot\nlog_enabled: true\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, int64(134217728), cfg.CacheSize)
	require.Equal(t, "snapshot", cfg.Isolation)
	require.True(t, cfg.LogEnabled)
}
