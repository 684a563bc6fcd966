// Package common holds names shared between the warpnet CLI, the daemon and
// the control server.
package common

// Environment variable names for configuration.
const (
	// EnvPrefix is the prefix applied by envconfig to every settings field.
	EnvPrefix = "WARPNET"

	// ConfigDirEnv overrides the directory holding config.yml.
	ConfigDirEnv = "WARPNET_CONFIG_DIR"

	// DataDirEnv overrides the directory holding the cookie file and the
	// credential cache.
	DataDirEnv = "WARPNET_DATA_DIR"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = "WARPNET_DEBUG"
)

// File names below the config and data directories.
const (
	ConfigFileName      = "config.yml"
	CookieFileName      = "cookies"
	CredentialsFileName = "credentials"
	KeyFileName         = "credentials.key"
	TokenFileName       = "daemon.token"
	LogFileName         = "warpnet.log"
)

// DefaultListenAddr is the loopback address the control server binds to.
const DefaultListenAddr = "127.0.0.1:3849"
