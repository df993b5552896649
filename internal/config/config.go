// Package config implements correo's configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"blitiri.com.ar/go/log"
)

// Config holds everything cmd/correod needs to build and run a
// smtpsrv.Server: listen addresses per socket mode, TLS material, the
// greeting hostname, the enabled auth mechanisms, and the connection/
// command timeouts.
type Config struct {
	Hostname string `yaml:"hostname"`

	// Listen addresses, one entry per socket mode.
	SMTPAddr              []string `yaml:"smtp_addr"`
	SubmissionAddr        []string `yaml:"submission_addr"`
	SubmissionOverTLSAddr []string `yaml:"submission_over_tls_addr"`

	MonitoringAddr string `yaml:"monitoring_addr"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Auth mechanisms to advertise, in advertisement order. Only "PLAIN"
	// is understood by the core.
	AuthMechanisms []string `yaml:"auth_mechanisms"`

	MaxDataSizeMB int64 `yaml:"max_data_size_mb"`

	ConnTimeout    string `yaml:"conn_timeout"`
	CommandTimeout string `yaml:"command_timeout"`

	// UserDBPath, if set, is loaded as the fallback auth backend, used
	// when no domain-specific backend in DomainUserDBs claims a user.
	UserDBPath string `yaml:"userdb_path"`

	// DomainUserDBs maps a domain to the userdb file backing it, for
	// deployments that keep separate credentials per domain.
	DomainUserDBs map[string]string `yaml:"domain_userdbs"`
}

var defaultConfig = Config{
	SMTPAddr:              []string{"systemd"},
	SubmissionAddr:        []string{"systemd"},
	SubmissionOverTLSAddr: []string{"systemd"},
	AuthMechanisms:        []string{"PLAIN"},
	MaxDataSizeMB:         50,
	ConnTimeout:           "20m",
	CommandTimeout:        "1m",
}

// Load the config from the given file. A missing file is not fatal: the
// defaults are returned as-is, so correod can run with zero configuration
// for quick testing.
func Load(path string) (*Config, error) {
	c := defaultConfig

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(&c)
		}
		return nil, fmt.Errorf("failed to read config at %q: %v", path, err)
	}

	if err := yaml.Unmarshal(buf, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %v", err)
	}

	return finish(&c)
}

func finish(c *Config) (*Config, error) {
	if c.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %v", err)
		}
		c.Hostname = h
	}

	if _, err := c.ConnTimeoutDuration(); err != nil {
		return nil, fmt.Errorf("invalid conn_timeout %q: %v", c.ConnTimeout, err)
	}
	if _, err := c.CommandTimeoutDuration(); err != nil {
		return nil, fmt.Errorf("invalid command_timeout %q: %v", c.CommandTimeout, err)
	}

	return c, nil
}

// ConnTimeoutDuration parses ConnTimeout, which is validated at Load time.
func (c *Config) ConnTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.ConnTimeout)
}

// CommandTimeoutDuration parses CommandTimeout, which is validated at Load
// time.
func (c *Config) CommandTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.CommandTimeout)
}

// LogConfig logs the given configuration, in a human-friendly way.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	log.Infof("  Hostname: %q", c.Hostname)
	log.Infof("  Max data size (MB): %d", c.MaxDataSizeMB)
	log.Infof("  SMTP addresses: %q", c.SMTPAddr)
	log.Infof("  Submission addresses: %q", c.SubmissionAddr)
	log.Infof("  Submission+TLS addresses: %q", c.SubmissionOverTLSAddr)
	log.Infof("  Monitoring address: %q", c.MonitoringAddr)
	log.Infof("  Auth mechanisms: %q", c.AuthMechanisms)
	log.Infof("  Conn timeout: %s", c.ConnTimeout)
	log.Infof("  Command timeout: %s", c.CommandTimeout)
	log.Infof("  User database: %q", c.UserDBPath)
	log.Infof("  Domain user databases: %v", c.DomainUserDBs)
}
