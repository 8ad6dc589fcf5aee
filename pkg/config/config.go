package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrPassphraseUnset = errors.New("passphrase environment variable not set")
)

// Defaults applied when fields are omitted from the config file.
const (
	DefaultListenAddr        = ":8080"
	DefaultBatchSize         = 128
	DefaultLogLevel          = "info"
	DefaultTokenDuration     = Duration(24 * time.Hour)
	DefaultPassphraseEnvName = "DOCSTORE_PASSPHRASE"
	DefaultShutdownTimeout   = Duration(30 * time.Second)
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1h".
type Duration time.Duration

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// validate is a singleton validator instance
var validate = validator.New()

// Config holds all server configuration loaded from a YAML file.
type Config struct {
	// DataDir is the root directory for documents and rotation state.
	DataDir string `yaml:"data_dir" validate:"required"`

	// KeyDir holds wrapped data key records. Defaults to DataDir/keys.
	KeyDir string `yaml:"key_dir" validate:"omitempty"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port|startswith=:"`

	// BatchSize is the number of documents re-encrypted per checkpoint.
	BatchSize int `yaml:"batch_size" validate:"omitempty,min=1,max=10000"`

	// PassphraseEnv names the environment variable carrying the master
	// key passphrase. The passphrase itself never appears in the file.
	PassphraseEnv string `yaml:"passphrase_env" validate:"omitempty"`

	// AuthSecret signs admin API tokens. Minimum 32 characters.
	AuthSecret string `yaml:"auth_secret" validate:"required,min=32"`

	// TokenDuration is the lifetime of issued API tokens.
	TokenDuration Duration `yaml:"token_duration" validate:"omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" validate:"omitempty"`
}

// Load reads and validates a config file, applying defaults for
// omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.KeyDir == "" {
		c.KeyDir = c.DataDir + "/keys"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PassphraseEnv == "" {
		c.PassphraseEnv = DefaultPassphraseEnvName
	}
	if c.TokenDuration == 0 {
		c.TokenDuration = DefaultTokenDuration
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks the config using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Passphrase resolves the master key passphrase from the environment.
func (c *Config) Passphrase() (string, error) {
	pass := os.Getenv(c.PassphraseEnv)
	if pass == "" {
		return "", fmt.Errorf("%w: %s", ErrPassphraseUnset, c.PassphraseEnv)
	}
	return pass, nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
