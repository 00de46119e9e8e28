package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/carbonfill/errors"
)

// ProjectConfigName is the file searched for from the working directory upward.
const ProjectConfigName = "am.toml"

// Load reads configuration from system, user, and project files, the optional
// explicit file, and the environment. Precedence (lowest to highest):
// defaults < /etc/carbonfill < ~/.carbonfill < project am.toml < explicit file < env vars.
func Load(explicitPath string) (*Config, error) {
	v := NewViper()

	for _, path := range configPaths() {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, errors.Wrapf(err, "config file %s", explicitPath)
		}
		if err := mergeFile(v, explicitPath); err != nil {
			return nil, err
		}
	}

	return LoadWithViper(v)
}

// NewViper returns a Viper instance with defaults and environment bindings but no files.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("CARBONFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)

	return v
}

// LoadWithViper loads and validates configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	config.Inference.Backend = strings.ToLower(strings.TrimSpace(config.Inference.Backend))
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a single file without environment overrides.
func LoadFromFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, errors.Wrapf(err, "config file %s", configPath)
	}

	v := viper.New()
	SetDefaults(v)

	if err := mergeFile(v, configPath); err != nil {
		return nil, err
	}

	return LoadWithViper(v)
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// configPaths lists candidate files in precedence order, lowest first.
func configPaths() []string {
	paths := []string{"/etc/carbonfill/am.toml"}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".carbonfill", "am.toml"))
	}

	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}

	return paths
}

// findProjectConfig walks up from the working directory looking for am.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
