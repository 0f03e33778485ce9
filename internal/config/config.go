// Package config models vigil.yml, the workspace configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models vigil.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Paths struct {
		State     string `yaml:"state"`
		Policies  string `yaml:"policies"`
		Audit     string `yaml:"audit"`
		Templates string `yaml:"templates"`
	} `yaml:"paths"`
	Timer struct {
		RenewMinutes int `yaml:"renew_minutes"`
		GraceMinutes int `yaml:"grace_minutes"`
	} `yaml:"timer"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Adapters struct {
		Email struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			From     string `yaml:"from"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"email"`
		SMS struct {
			GatewayURL string `yaml:"gateway_url"`
			APIKey     string `yaml:"api_key"`
		} `yaml:"sms"`
		Webhook struct {
			TimeoutSeconds int `yaml:"timeout_seconds"`
		} `yaml:"webhook"`
		Archive struct {
			Dir string `yaml:"dir"`
		} `yaml:"archive"`
	} `yaml:"adapters"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "vigil.yml")
}

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run vigil init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.State == "" {
		c.Paths.State = ".vigil/state.json"
	}
	if c.Paths.Policies == "" {
		c.Paths.Policies = "policy"
	}
	if c.Paths.Audit == "" {
		c.Paths.Audit = ".vigil/audit.ndjson"
	}
	if c.Paths.Templates == "" {
		c.Paths.Templates = "templates"
	}
	if c.Timer.RenewMinutes == 0 {
		c.Timer.RenewMinutes = 7 * 24 * 60
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if c.Adapters.Archive.Dir == "" {
		c.Adapters.Archive.Dir = ".vigil/archive"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Timer.RenewMinutes < 1 {
		return fmt.Errorf("config.timer.renew_minutes must be positive")
	}
	if c.Timer.GraceMinutes < 0 {
		return fmt.Errorf("config.timer.grace_minutes must not be negative")
	}
	if c.Adapters.Email.Host != "" && c.Adapters.Email.From == "" {
		return fmt.Errorf("config.adapters.email.from is required when a host is set")
	}
	return nil
}

// Detached returns a defaults-only config with no project identity, for
// invocations that supply every input path on the command line and run
// outside an initialized workspace. It skips Validate; the state file carries
// the project identity in that mode.
func Detached() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// GenerateDefault returns default config YAML for a project.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(projectID)))
	if err != nil {
		// The default template must always validate.
		panic(err)
	}
	return cfg
}

const defaultTemplate = `project:
  id: %s

paths:
  state: .vigil/state.json
  policies: policy
  audit: .vigil/audit.ndjson
  templates: templates

timer:
  # Deadline pushed this far out on every renewal.
  renew_minutes: 10080
  grace_minutes: 60

server:
  addr: 127.0.0.1:8080
  base_path: /v1

adapters:
  email:
    host: ""
    port: 587
    from: ""
    username: ""
    password: ""
  sms:
    gateway_url: ""
    api_key: ""
  webhook:
    timeout_seconds: 30
  archive:
    dir: .vigil/archive
`
