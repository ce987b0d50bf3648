package main

import (
	"os"
	"path/filepath"
	"testing"

	"NcmTools/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-pattern", `\.bin$`, "-workers", "3", "-recursive", "-tag", "-fail-fast", "-v", "-vv", "-config", "x.yaml", "-cover-gap", "9"})
	require.NoError(t, err)

	assert.Equal(t, cliOptions{
		configPath: "x.yaml",
		verbosity:  3,
		pattern:    `\.bin$`,
		workers:    3,
		coverGap:   9,
		recursive:  true,
		writeTags:  true,
		failFast:   true,
	}, opts)
}

func TestParseOptionsErrors(t *testing.T) {
	for name, args := range map[string][]string{
		"missing value":  {"-workers"},
		"zero workers":   {"-workers", "0"},
		"not a number":   {"-workers", "many"},
		"zero cover gap": {"-cover-gap", "0"},
		"unknown option": {"-frobnicate"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseOptions(args)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\npattern: '\\.ncm$'\ncover_gap: 9\n"), 0o644))

	cfg, err := loadConfig(cliOptions{configPath: path, workers: 5, writeTags: true})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.CoverGap)

	cfg, err = loadConfig(cliOptions{configPath: path, workers: 5, writeTags: true, coverGap: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.CoverGap)

	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, `\.ncm$`, cfg.Pattern)
	assert.True(t, cfg.WriteTags)
}

func TestResolveOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Output = "from-config"

	assert.Equal(t, "from-config", resolveOutput("", cfg))
	assert.Equal(t, "given", resolveOutput("given", cfg))
}

func TestLoadConfigRejectsBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 1\n"), 0o644))

	_, err := loadConfig(cliOptions{configPath: path, pattern: "("})
	assert.Error(t, err)
}

func TestNewLoggerVerbosity(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, newLogger(logrus.InfoLevel, 0).GetLevel())
	assert.Equal(t, logrus.DebugLevel, newLogger(logrus.InfoLevel, 1).GetLevel())
	assert.Equal(t, logrus.TraceLevel, newLogger(logrus.InfoLevel, 5).GetLevel())
}

func TestDecodeAllMissingInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 1\n"), 0o644))

	err := decodeAll(filepath.Join(dir, "nope"), filepath.Join(dir, "out"), cliOptions{configPath: path})
	assert.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}
