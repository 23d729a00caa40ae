package agentdeploy

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultLocation    = "us-central1"
	DefaultDisplayName = "Travel Concierge Agent"

	EnvProject = "GOOGLE_CLOUD_PROJECT"
	EnvBucket  = "GOOGLE_CLOUD_STORAGE_BUCKET"
)

// Config is the effective configuration for one invocation.
type Config struct {
	ProjectID   string
	Location    string
	Bucket      string
	DisplayName string
}

// Overrides holds values given on the command line. Empty means not given.
type Overrides struct {
	ProjectID   string
	Location    string
	Bucket      string
	DisplayName string
}

// FileConfig is the optional TOML configuration file.
type FileConfig struct {
	ProjectID   string `toml:"project_id"`
	Location    string `toml:"location"`
	Bucket      string `toml:"bucket"`
	DisplayName string `toml:"display_name"`
}

// LoadFileConfig reads a TOML configuration file. Unknown keys are an error
// so typos do not silently fall through to defaults.
func LoadFileConfig(path string) (*FileConfig, error) {
	var fc FileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return &fc, nil
}

// ResolveConfig merges, in order of precedence, command line overrides, the
// environment, the config file and built-in defaults. file may be nil.
func ResolveConfig(flags Overrides, getenv func(string) string, file *FileConfig) Config {
	if file == nil {
		file = &FileConfig{}
	}
	return Config{
		ProjectID:   firstNonEmpty(flags.ProjectID, getenv(EnvProject), file.ProjectID),
		Location:    firstNonEmpty(flags.Location, file.Location, DefaultLocation),
		Bucket:      firstNonEmpty(flags.Bucket, getenv(EnvBucket), file.Bucket),
		DisplayName: firstNonEmpty(flags.DisplayName, file.DisplayName, DefaultDisplayName),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// MissingConfigurationError names a required setting that was not supplied.
type MissingConfigurationError struct {
	Field  string
	EnvVar string
	Flag   string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("%s environment variable or --%s required", e.EnvVar, e.Flag)
}

// Validate checks the settings needed to create an engine.
func (c Config) Validate() error {
	if err := c.requireProject(); err != nil {
		return err
	}
	if c.Bucket == "" {
		return &MissingConfigurationError{Field: "bucket_name", EnvVar: EnvBucket, Flag: "bucket"}
	}
	return nil
}

func (c Config) requireProject() error {
	if c.ProjectID == "" {
		return &MissingConfigurationError{Field: "project_id", EnvVar: EnvProject, Flag: "project_id"}
	}
	return nil
}
