package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	dremio "github.com/hugr-lab/dremio-flight-go"
	"github.com/hugr-lab/dremio-flight-go/middleware"
)

// FileConfig is the YAML configuration file layout.
type FileConfig struct {
	Hostname          string        `yaml:"hostname"`
	Port              int           `yaml:"port"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Token             string        `yaml:"token"`
	TLS               FileTLSConfig `yaml:"tls"`
	SessionProperties []string      `yaml:"session_properties"` // key=value, in send order
	Engine            string        `yaml:"engine"`
	RoutingTag        string        `yaml:"routing_tag"`
	RoutingQueue      string        `yaml:"routing_queue"`
	ProjectID         string        `yaml:"project_id"`
	Query             string        `yaml:"query"`
	LogLevel          string        `yaml:"log_level"`
}

type FileTLSConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	DisableCertVerification bool   `yaml:"disable_cert_verification"`
	Certs                   string `yaml:"certs"`
}

func loadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

type configCLIInputs struct {
	Set map[string]bool

	Hostname                string
	Port                    int
	Username                string
	Password                string
	Token                   string
	TLS                     bool
	DisableCertVerification bool
	Certs                   string
	SessionProperties       []string
	Engine                  string
	ProjectID               string
	Query                   string
	Output                  string
	Zstd                    bool
	LogLevel                string
}

type resolvedConfig struct {
	Conn     dremio.ConnectionConfig
	Query    string
	Output   string
	Zstd     bool
	LogLevel slog.Level

	username, password, token string
}

// systemCertBundles are probed in order when TLS verification is on and no
// bundle was given.
var systemCertBundles = []string{
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/etc/ssl/ca-bundle.pem",
	"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem",
	"/etc/ssl/cert.pem",
}

func defaultCertPath(exists func(string) bool) string {
	for _, p := range systemCertBundles {
		if exists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.TrimSpace(s)))
	return level, err
}

// resolveEffectiveConfig merges defaults, the config file, DREMIO_*
// environment variables and explicitly set flags, in increasing precedence.
// Unparsable scalar values are warned about and skipped; a malformed session
// property is an error since the query would run without it.
func resolveEffectiveConfig(fileCfg *FileConfig, cli configCLIInputs, getenv func(string) string, exists func(string) bool, warn func(string)) (resolvedConfig, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if exists == nil {
		exists = func(string) bool { return false }
	}
	if warn == nil {
		warn = func(string) {}
	}
	if cli.Set == nil {
		cli.Set = map[string]bool{}
	}

	cfg := resolvedConfig{
		Conn:     dremio.NewConnectionConfig(dremio.DefaultHostname, dremio.DefaultPort, nil),
		LogLevel: slog.LevelInfo,
	}
	var (
		tlsEnabled, disableVerify bool
		certs                     string
		properties                []string
	)

	if fileCfg != nil {
		if fileCfg.Hostname != "" {
			cfg.Conn.Hostname = fileCfg.Hostname
		}
		if fileCfg.Port != 0 {
			cfg.Conn.Port = fileCfg.Port
		}
		cfg.username = fileCfg.Username
		cfg.password = fileCfg.Password
		cfg.token = fileCfg.Token
		tlsEnabled = fileCfg.TLS.Enabled
		disableVerify = fileCfg.TLS.DisableCertVerification
		certs = fileCfg.TLS.Certs
		properties = fileCfg.SessionProperties
		cfg.Conn.Engine = fileCfg.Engine
		if fileCfg.RoutingTag != "" {
			cfg.Conn.RoutingTag = fileCfg.RoutingTag
		}
		if fileCfg.RoutingQueue != "" {
			cfg.Conn.RoutingQueue = fileCfg.RoutingQueue
		}
		cfg.Conn.ProjectID = fileCfg.ProjectID
		cfg.Query = fileCfg.Query
		if fileCfg.LogLevel != "" {
			if level, err := parseLogLevel(fileCfg.LogLevel); err == nil {
				cfg.LogLevel = level
			} else {
				warn("Invalid log_level: " + err.Error())
			}
		}
	}

	if v := getenv("DREMIO_HOSTNAME"); v != "" {
		cfg.Conn.Hostname = v
	}
	if v := getenv("DREMIO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Conn.Port = p
		} else {
			warn("Invalid DREMIO_PORT: " + err.Error())
		}
	}
	if v := getenv("DREMIO_USERNAME"); v != "" {
		cfg.username = v
	}
	if v := getenv("DREMIO_PASSWORD"); v != "" {
		cfg.password = v
	}
	if v := getenv("DREMIO_TOKEN"); v != "" {
		cfg.token = v
	}
	if v := getenv("DREMIO_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			tlsEnabled = b
		} else {
			warn("Invalid DREMIO_TLS: " + err.Error())
		}
	}
	if v := getenv("DREMIO_CERTS"); v != "" {
		certs = v
	}
	if v := getenv("DREMIO_ENGINE"); v != "" {
		cfg.Conn.Engine = v
	}
	if v := getenv("DREMIO_PROJECT_ID"); v != "" {
		cfg.Conn.ProjectID = v
	}
	if v := getenv("DREMIO_LOG_LEVEL"); v != "" {
		if level, err := parseLogLevel(v); err == nil {
			cfg.LogLevel = level
		} else {
			warn("Invalid DREMIO_LOG_LEVEL: " + err.Error())
		}
	}

	if cli.Set["hostname"] {
		cfg.Conn.Hostname = cli.Hostname
	}
	if cli.Set["port"] {
		cfg.Conn.Port = cli.Port
	}
	if cli.Set["username"] {
		cfg.username = cli.Username
	}
	if cli.Set["password"] {
		cfg.password = cli.Password
	}
	if cli.Set["token"] {
		cfg.token = cli.Token
	}
	if cli.Set["tls"] {
		tlsEnabled = cli.TLS
	}
	if cli.Set["disable-cert-verification"] {
		disableVerify = cli.DisableCertVerification
	}
	if cli.Set["certs"] {
		certs = cli.Certs
	}
	if cli.Set["session-property"] {
		properties = cli.SessionProperties
	}
	if cli.Set["engine"] {
		cfg.Conn.Engine = cli.Engine
	}
	if cli.Set["project-id"] {
		cfg.Conn.ProjectID = cli.ProjectID
	}
	if cli.Set["query"] {
		cfg.Query = cli.Query
	}
	cfg.Output = cli.Output
	cfg.Zstd = cli.Zstd
	if cli.Set["log-level"] {
		if level, err := parseLogLevel(cli.LogLevel); err == nil {
			cfg.LogLevel = level
		} else {
			warn("Invalid --log-level: " + err.Error())
		}
	}

	for _, p := range properties {
		hdr, err := middleware.ParseHeader(p)
		if err != nil {
			return resolvedConfig{}, fmt.Errorf("invalid session property: %w", err)
		}
		cfg.Conn.SessionProperties = append(cfg.Conn.SessionProperties, hdr)
	}

	cfg.Conn.Credential = dremio.CredentialFrom(cfg.username, cfg.password, cfg.token)
	cfg.Conn.TLS = dremio.TLSConfig{Enabled: tlsEnabled, Verify: !disableVerify}
	if tlsEnabled && !disableVerify {
		if certs == "" {
			certs = defaultCertPath(exists)
		}
		cfg.Conn.TLS.CertPath = certs
	}
	return cfg, nil
}
