// Package setup implements the progressctl administration commands and registers the lite
// MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServerName is the key the lite server is registered under in a client config.
const ServerName = "progress-analytics"

// ClientConfig represents a desktop MCP client configuration file.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// RegisterOptions contains options for registering the server with a client.
type RegisterOptions struct {
	ConfigPath string // Client config file; empty means the platform default
	BinaryPath string // Path to the mcp-server-lite binary
	DataDir    string // Data directory passed as PROGRESS_DATA_DIR
}

// ClientConfigPath returns the platform default path of the desktop client config.
func ClientConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "Claude")
		} else {
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig loads a client configuration. A missing file yields an empty config.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClientConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ClientConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.MCPServers == nil {
		config.MCPServers = make(map[string]MCPServerConfig)
	}
	return &config, nil
}

// SaveClientConfig writes the configuration, creating its directory if needed.
func SaveClientConfig(configPath string, config *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// RegisterServer adds or replaces the lite server entry and returns the config path written.
// Entries for other servers are preserved.
func RegisterServer(opts RegisterOptions) (string, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		var err error
		if configPath, err = ClientConfigPath(); err != nil {
			return "", err
		}
	}

	config, err := LoadClientConfig(configPath)
	if err != nil {
		return "", err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		if binaryPath, err = findBinary("mcp-server-lite"); err != nil {
			return "", fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := MCPServerConfig{Command: binaryPath, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env["PROGRESS_DATA_DIR"] = opts.DataDir
	}
	config.MCPServers[ServerName] = entry

	if err := SaveClientConfig(configPath, config); err != nil {
		return "", err
	}
	return configPath, nil
}

// ClientStatus describes the lite server's registration in a client config.
type ClientStatus struct {
	ConfigPath string `json:"config_path"`
	Registered bool   `json:"registered"`
	Command    string `json:"command,omitempty"`
	BinaryOK   bool   `json:"binary_ok"`
	DataDir    string `json:"data_dir,omitempty"`
}

// GetClientStatus reads the registration from configPath.
func GetClientStatus(configPath string) (*ClientStatus, error) {
	config, err := LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}

	status := &ClientStatus{ConfigPath: configPath}
	entry, ok := config.MCPServers[ServerName]
	if !ok {
		return status, nil
	}
	status.Registered = true
	status.Command = entry.Command
	status.DataDir = entry.Env["PROGRESS_DATA_DIR"]
	if info, err := os.Stat(entry.Command); err == nil && info.Mode()&0111 != 0 {
		status.BinaryOK = true
	}
	return status, nil
}

// findBinary attempts to find the server binary in common locations.
func findBinary(binaryName string) (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(home, ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}
