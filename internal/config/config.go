package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DefaultPath is read when no config file is named on the command line.
const DefaultPath = "ncmtools.yaml"

// Config is the content of the YAML config file. Output is the folder
// used by the GUI and by -decode when no folder is given.
type Config struct {
	Output     string `yaml:"output"`
	Workers    int    `yaml:"workers"`
	BufferSize int    `yaml:"buffer_size"`
	LogLevel   string `yaml:"log_level"`
	Pattern    string `yaml:"pattern"`
	Recursive  bool   `yaml:"recursive"`
	WriteTags  bool   `yaml:"write_tags"`
	FailFast   bool   `yaml:"fail_fast"`
	CoverGap   int    `yaml:"cover_gap"` // 0 keeps the documented layout
}

// Default is the config used when no file exists.
func Default() Config {
	c := Config{}
	c.fillDefaults()
	return c
}

// Load reads the YAML file at path. A missing file is only an error when
// the path was given explicitly; with path == "" the DefaultPath is tried
// and defaults are used if it does not exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	var c Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return Config{}, fmt.Errorf("error parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// no config file, defaults only
	default:
		return Config{}, fmt.Errorf("unable to read %s: %w", path, err)
	}

	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) fillDefaults() {
	if c.Output == "" {
		c.Output = "output"
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.BufferSize == 0 {
		c.BufferSize = 32 * 1024
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Pattern == "" {
		c.Pattern = `(?i)\.ncm$`
	}
}

// Validate reports the first unusable value.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.CoverGap < 0 {
		return fmt.Errorf("cover_gap must not be negative, got %d", c.CoverGap)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := regexp.Compile(c.Pattern); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	return nil
}

// Level is the parsed LogLevel. Call after Validate.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// PatternRegexp is the compiled Pattern. Call after Validate.
func (c Config) PatternRegexp() *regexp.Regexp {
	return regexp.MustCompile(c.Pattern)
}
