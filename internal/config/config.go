// Package config handles minijvm.toml (or YAML) run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "minijvm.toml"

// Config holds the settings a run is built from. Zero values are replaced
// by Default's.
type Config struct {
	ClassPath      []string `toml:"classpath" yaml:"classpath"`
	Jmod           string   `toml:"jmod" yaml:"jmod"`
	MaxFrameDepth  int      `toml:"max-frame-depth" yaml:"max-frame-depth"`
	ClassCacheSize int      `toml:"class-cache-size" yaml:"class-cache-size"`
	MaxHeap        int64    `toml:"max-heap" yaml:"max-heap"` // array elements
	Version        Version  `toml:"version" yaml:"version"`
	Log            Log      `toml:"log" yaml:"log"`
	Trace          bool     `toml:"trace" yaml:"trace"`

	// Dir is the directory containing the loaded file (set at load time).
	// Relative class path entries and jmod are resolved against it.
	Dir string `toml:"-" yaml:"-"`
}

// Version bounds the accepted class file major versions.
type Version struct {
	Min uint16 `toml:"min" yaml:"min"`
	Max uint16 `toml:"max" yaml:"max"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	Path      string `toml:"path" yaml:"path"`
}

const (
	defaultMaxFrameDepth  = 1024
	defaultClassCacheSize = 512
	defaultMaxHeap        = 1 << 25
	defaultMinVersion     = 45
	defaultMaxVersion     = 69
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ClassPath:      []string{"."},
		MaxFrameDepth:  defaultMaxFrameDepth,
		ClassCacheSize: defaultClassCacheSize,
		MaxHeap:        defaultMaxHeap,
		Version:        Version{Min: defaultMinVersion, Max: defaultMaxVersion},
	}
}

// Load parses a configuration file. Files ending in .yaml or .yml are
// read as YAML, anything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = toml.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir looking for minijvm.toml. It returns
// Default() when no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if len(c.ClassPath) == 0 {
		c.ClassPath = d.ClassPath
	}
	if c.MaxFrameDepth == 0 {
		c.MaxFrameDepth = d.MaxFrameDepth
	}
	if c.ClassCacheSize == 0 {
		c.ClassCacheSize = d.ClassCacheSize
	}
	if c.MaxHeap == 0 {
		c.MaxHeap = d.MaxHeap
	}
	if c.Version.Min == 0 {
		c.Version.Min = d.Version.Min
	}
	if c.Version.Max == 0 {
		c.Version.Max = d.Version.Max
	}
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	if c.MaxFrameDepth < 1 {
		return fmt.Errorf("max-frame-depth must be positive, got %d", c.MaxFrameDepth)
	}
	if c.ClassCacheSize < 1 {
		return fmt.Errorf("class-cache-size must be positive, got %d", c.ClassCacheSize)
	}
	if c.MaxHeap < 1 {
		return fmt.Errorf("max-heap must be positive, got %d", c.MaxHeap)
	}
	if c.Version.Min > c.Version.Max {
		return fmt.Errorf("version range [%d, %d] is empty", c.Version.Min, c.Version.Max)
	}
	return nil
}

// ClassPathDirs returns the class path with relative entries resolved
// against Dir.
func (c *Config) ClassPathDirs() []string {
	paths := make([]string, 0, len(c.ClassPath))
	for _, p := range c.ClassPath {
		paths = append(paths, c.resolve(p))
	}
	return paths
}

// JmodPath returns the configured jmod, or FindJmod's answer when none is
// set.
func (c *Config) JmodPath() string {
	if c.Jmod != "" {
		return c.resolve(c.Jmod)
	}
	return FindJmod()
}

func (c *Config) resolve(p string) string {
	if c.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

var jmodGlobs = []string{
	"/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod",
	"/usr/lib/jvm/*/jmods/java.base.jmod",
	"/Library/Java/JavaVirtualMachines/*/Contents/Home/jmods/java.base.jmod",
}

// FindJmod locates java.base.jmod: JAVA_BASE_JMOD first, then
// $JAVA_HOME/jmods, then common install locations. It returns "" when
// nothing is found.
func FindJmod() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, pattern := range jmodGlobs {
		if matches, _ := filepath.Glob(pattern); len(matches) > 0 {
			return matches[0]
		}
	}
	return ""
}
