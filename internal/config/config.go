package config

// Config represents the full application configuration.
type Config struct {
	GitHub        GitHubConfig        `yaml:"github"`
	Git           GitConfig           `yaml:"git"`
	Queries       QueriesConfig       `yaml:"queries"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// GitHubConfig configures API access.
type GitHubConfig struct {
	// Token is the personal access token. Supports ${VAR} expansion so the
	// token itself can stay out of config files.
	Token string `yaml:"token"`

	// User is the login used to expand the ${user} placeholder in queries.
	User string `yaml:"user"`

	// APIBaseURL and GraphQLURL override the endpoints for GitHub
	// Enterprise installations.
	APIBaseURL string `yaml:"apiBaseURL"`
	GraphQLURL string `yaml:"graphqlURL"`
}

type GitConfig struct {
	RepositoryDir string `yaml:"repositoryDir"`
}

// QueriesConfig lists the custom search queries shown alongside the built-in
// ones. ${user} in a query expands to the configured login.
type QueriesConfig struct {
	Custom []string `yaml:"custom"`
}

// NotificationsConfig configures the background notification poller.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is the initial poll cadence. The server's suggested interval
	// takes precedence once polling is running.
	Interval string `yaml:"interval"`
}

// StoreConfig configures the session state persistence layer.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warning, error
	Format string `yaml:"format"` // json, human
}
