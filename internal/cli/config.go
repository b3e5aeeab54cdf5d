package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/fieldkit/internal/httpapi"
	"github.com/mesh-intelligence/fieldkit/internal/paths"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// Config keys in config.yaml. Each can also be set through the environment
// as FIELDKIT_<KEY>, e.g. FIELDKIT_API_URL.
const (
	cfgKeyAPIURL         = "api_url"
	cfgKeyListenAddr     = "listen_addr"
	cfgKeyBackend        = "backend"
	cfgKeyDataDir        = "data_dir"
	cfgKeyDSN            = "dsn"
	cfgKeyVariant        = "variant"
	cfgKeyLogLevel       = "log_level"
	cfgKeySeedFile       = "seed_file"
	cfgKeyTimeout        = "timeout"
	cfgKeyAllowedOrigins = "allowed_origins"

	envPrefix = "FIELDKIT"
)

// Defaults applied when neither config.yaml nor the environment sets a key.
const (
	defaultAPIURL     = "http://localhost:8080"
	defaultListenAddr = ":8080"
	defaultVariant    = "standard"
)

// Settings is the resolved configuration of one invocation.
type Settings struct {
	ConfigDir      string        `mapstructure:"-"`
	APIURL         string        `mapstructure:"api_url"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	Backend        string        `mapstructure:"backend"`
	DataDir        string        `mapstructure:"data_dir"`
	DSN            string        `mapstructure:"dsn"`
	Variant        string        `mapstructure:"variant"`
	LogLevel       string        `mapstructure:"log_level"`
	SeedFile       string        `mapstructure:"seed_file"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// BackendConfig returns the storage configuration for the reference server.
func (s Settings) BackendConfig() types.Config {
	return types.Config{
		Backend:  s.Backend,
		DataDir:  s.DataDir,
		DSN:      s.DSN,
		SeedFile: s.SeedFile,
	}
}

// configFile is the structure written to config.yaml by init.
type configFile struct {
	APIURL     string `yaml:"api_url"`
	ListenAddr string `yaml:"listen_addr"`
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir,omitempty"`
	DSN        string `yaml:"dsn,omitempty"`
	Variant    string `yaml:"variant"`
	LogLevel   string `yaml:"log_level,omitempty"`
	SeedFile   string `yaml:"seed_file,omitempty"`
	Timeout    string `yaml:"timeout"`
}

// loadSettings reads the dotenv file, then config.yaml and FIELDKIT_*
// variables through viper, then applies flag overrides.
// A missing dotenv file or config.yaml is not an error.
func loadSettings(flags rootFlags) (Settings, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("load %s: %w", flags.envFile, err)
		}
	}

	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return Settings{}, fmt.Errorf("resolve config dir: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyAPIURL, defaultAPIURL)
	v.SetDefault(cfgKeyListenAddr, defaultListenAddr)
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyDataDir, "")
	v.SetDefault(cfgKeyDSN, "")
	v.SetDefault(cfgKeyVariant, defaultVariant)
	v.SetDefault(cfgKeyLogLevel, "")
	v.SetDefault(cfgKeySeedFile, "")
	v.SetDefault(cfgKeyTimeout, httpapi.DefaultTimeout)
	v.SetDefault(cfgKeyAllowedOrigins, []string{"*"})

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags.apiURL != "" {
		v.Set(cfgKeyAPIURL, flags.apiURL)
	}
	if flags.logLevel != "" {
		v.Set(cfgKeyLogLevel, flags.logLevel)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	s.ConfigDir = configDir

	s.DataDir, err = paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return Settings{}, fmt.Errorf("resolve data dir: %w", err)
	}
	// Relative seed files live next to config.yaml.
	if s.SeedFile != "" && !filepath.IsAbs(s.SeedFile) {
		s.SeedFile = filepath.Join(configDir, s.SeedFile)
	}
	return s, nil
}

// writeConfigIfMissing creates config.yaml from s when the file does not
// exist. It reports whether a file was written.
func writeConfigIfMissing(path string, s Settings) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat config: %w", err)
	}

	cfg := configFile{
		APIURL:     s.APIURL,
		ListenAddr: s.ListenAddr,
		Backend:    s.Backend,
		DataDir:    s.DataDir,
		DSN:        s.DSN,
		Variant:    s.Variant,
		LogLevel:   s.LogLevel,
		Timeout:    s.Timeout.String(),
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
