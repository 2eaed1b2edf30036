// Package config provides functionality for managing configuration options
// for the server and the client using command-line flags, an optional JSON
// file and environment variables. Environment variables win over the file,
// the file wins over flags.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

// Options holds the configuration values for the reference server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	// ClientCA verifies client certificates when set.
	ClientCA string `json:"client_ca"`

	// RequireClientCert rejects requests without a verified client certificate.
	RequireClientCert bool `json:"require_client_cert"`

	// LogLevel is a zap level name.
	LogLevel string `json:"log_level"`

	// Retention is how long soft-deleted records are kept before purging.
	Retention Duration `json:"retention"`

	// CleanInterval is how often the purge runs.
	CleanInterval Duration `json:"clean_interval"`
}

// ParseServer parses args (without the program name), the config file and
// environment variables.
func ParseServer(args []string) (*Options, error) {
	options := &Options{}
	retention := 7 * 24 * time.Hour
	interval := time.Hour

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&options.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&options.Config, "config", "config.json", "path to config file")
	fs.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	fs.StringVar(&options.TLSCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&options.TLSKey, "tls-key", "", "TLS key file")
	fs.StringVar(&options.ClientCA, "client-ca", "", "CA file for verifying client certificates")
	fs.BoolVar(&options.RequireClientCert, "require-client-cert", false, "reject requests without a client certificate")
	fs.StringVar(&options.LogLevel, "log-level", "info", "log level")
	fs.DurationVar(&retention, "retention", retention, "keep soft-deleted records for this long")
	fs.DurationVar(&interval, "clean-interval", interval, "purge interval for soft-deleted records")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	options.Retention = Duration(retention)
	options.CleanInterval = Duration(interval)

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if err := loadFile(options.Config, options); err != nil {
		return nil, err
	}

	if serverAddress := os.Getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Port = serverAddress
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		options.LogLevel = level
	}

	return options, nil
}

// ClientOptions configures the offline-first client. Flags are bound by the
// CLI, then Load applies the config file and DECLUTTER_* variables.
type ClientOptions struct {
	// StorePath is the SQLite file backing the local store and the action log.
	StorePath string `json:"store_path"`
	// ServerURL is the base URL of the remote REST service.
	ServerURL string `json:"server_url"`
	// HealthURL is probed for connectivity. Defaults to ServerURL + "/health".
	HealthURL string `json:"health_url"`
	// ProbeInterval is the time between health probes.
	ProbeInterval Duration `json:"probe_interval"`
	// RequestTimeout bounds every remote request.
	RequestTimeout Duration `json:"request_timeout"`
	// AssumeOnline skips the startup probe and starts online.
	AssumeOnline bool `json:"assume_online"`
	// Listen is the address of the local daemon API.
	Listen string `json:"listen"`
	// LogLevel is a zap level name.
	LogLevel string `json:"log_level"`
	// LogFile enables rotating file logs when set.
	LogFile string `json:"log_file"`
	// CAFile, CertFile and KeyFile configure TLS towards the server.
	CAFile   string `json:"ca_file"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	// Config is the path to the JSON config file.
	Config string `json:"-"`
}

// DefaultClientOptions returns the defaults used for unset flags.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		StorePath:      "declutter.db",
		ServerURL:      "http://localhost:8080",
		ProbeInterval:  Duration(15 * time.Second),
		RequestTimeout: Duration(10 * time.Second),
		Listen:         "localhost:7070",
		LogLevel:       "info",
	}
}

// Load applies the config file and environment overrides, then fills derived defaults.
func (o *ClientOptions) Load() error {
	if path := os.Getenv("DECLUTTER_CONFIG"); path != "" {
		o.Config = path
	}
	if err := loadFile(o.Config, o); err != nil {
		return err
	}

	envString("DECLUTTER_STORE_PATH", &o.StorePath)
	envString("DECLUTTER_SERVER_URL", &o.ServerURL)
	envString("DECLUTTER_HEALTH_URL", &o.HealthURL)
	envString("DECLUTTER_LISTEN", &o.Listen)
	envString("DECLUTTER_LOG_LEVEL", &o.LogLevel)
	envString("DECLUTTER_LOG_FILE", &o.LogFile)
	envString("DECLUTTER_CA_FILE", &o.CAFile)
	envString("DECLUTTER_CERT_FILE", &o.CertFile)
	envString("DECLUTTER_KEY_FILE", &o.KeyFile)

	if v := os.Getenv("DECLUTTER_PROBE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DECLUTTER_PROBE_INTERVAL: %w", err)
		}
		o.ProbeInterval = Duration(d)
	}
	if v := os.Getenv("DECLUTTER_ASSUME_ONLINE"); v != "" {
		o.AssumeOnline = v == "1" || v == "true"
	}

	if o.HealthURL == "" {
		o.HealthURL = o.ServerURL + "/health"
	}
	return nil
}

// Duration is a time.Duration that reads "15s" style strings from JSON.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func loadFile(path string, into any) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}
