package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// LoaderOptions describes how configuration should be discovered.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
	EnvPrefix   string
}

// Load returns the merged configuration from files and environment variables.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "reviewsync"
	}

	configFile := locateConfigFile(name, opts.ConfigPaths)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(name)
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "REVIEWSYNC"
	}
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)

	setDefaults(v)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg = expandEnvVars(cfg)

	return cfg, nil
}

// expandEnvVars expands ${VAR} and $VAR syntax in configuration strings.
func expandEnvVars(cfg Config) Config {
	cfg.GitHub.Token = expandEnvString(cfg.GitHub.Token)
	cfg.GitHub.User = expandEnvString(cfg.GitHub.User)
	cfg.GitHub.APIBaseURL = expandEnvString(cfg.GitHub.APIBaseURL)
	cfg.GitHub.GraphQLURL = expandEnvString(cfg.GitHub.GraphQLURL)

	cfg.Git.RepositoryDir = expandEnvString(cfg.Git.RepositoryDir)
	cfg.Store.Path = expandEnvString(cfg.Store.Path)

	cfg.Queries.Custom = expandEnvStringSlice(cfg.Queries.Custom)

	cfg.Observability.Logging.Level = expandEnvString(cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = expandEnvString(cfg.Observability.Logging.Format)

	return cfg
}

// expandEnvString replaces ${VAR} or $VAR with environment variable values.
func expandEnvString(s string) string {
	if s == "" {
		return s
	}

	re := regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	re = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return s
}

// expandEnvStringSlice expands environment variables in a slice of strings.
func expandEnvStringSlice(slice []string) []string {
	if len(slice) == 0 {
		return slice
	}
	result := make([]string, len(slice))
	for i, s := range slice {
		result[i] = expandEnvString(s)
	}
	return result
}

func locateConfigFile(name string, paths []string) string {
	searchPaths := append([]string{}, paths...)
	searchPaths = append(searchPaths, ".")
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name+".yaml")
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.apiBaseURL", "https://api.github.com/")
	v.SetDefault("github.graphqlURL", "https://api.github.com/graphql")

	v.SetDefault("git.repositoryDir", ".")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.interval", "60s")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", defaultStorePath())

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "human")
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./reviewsync.db"
	}
	return filepath.Join(home, ".config", "reviewsync", "state.db")
}
