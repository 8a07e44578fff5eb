package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Paths holds every filesystem location the engine reads or writes.
// Empty entries are derived from BaseDir when the config is finalised.
type Paths struct {
	ConfDir       string `yaml:"conf_dir"`
	BinDir        string `yaml:"bin_dir"`
	CertDir       string `yaml:"cert_dir"`
	Stamp         string `yaml:"stamp"`
	Settings      string `yaml:"settings"`
	NginxConf     string `yaml:"nginx_conf"`
	SSHDConfig    string `yaml:"sshd_config"`
	SystemdDir    string `yaml:"systemd_dir"`
	VendorUnitDir string `yaml:"vendor_unit_dir"`
	Issue         string `yaml:"issue"`
	Crontab       string `yaml:"crontab"`
	Localtime     string `yaml:"localtime"`
	PgData        string `yaml:"pg_data"`
}

// Binaries holds the external tools invoked by the steps.
type Binaries struct {
	Systemctl     string `yaml:"systemctl"`
	SupervisorCtl string `yaml:"supervisorctl"`
	OpenSSL       string `yaml:"openssl"`
	IP            string `yaml:"ip"`
	Su            string `yaml:"su"`
	Psql          string `yaml:"psql"`
	Createdb      string `yaml:"createdb"`
	PostgresSetup string `yaml:"postgresql_setup"`
	InitDB        string `yaml:"initdb"`
	Django        string `yaml:"django"`
	PrepDB        string `yaml:"prep_db"`
	FlashOptimize string `yaml:"flash_optimize"`
}

// DatabaseConfig describes the one-time database bootstrap.
type DatabaseConfig struct {
	ServiceUnit  string   `yaml:"service_unit"`
	SystemUser   string   `yaml:"system_user"`
	Databases    []string `yaml:"databases"`
	Role         string   `yaml:"role"`
	RolePassword string   `yaml:"role_password"`
}

// SSHConfig holds the managed sshd_config block.
type SSHConfig struct {
	Header           string   `yaml:"header"`
	SFTPDirective    string   `yaml:"sftp_directive"`
	DefaultSubsystem string   `yaml:"default_subsystem"`
	AllowUsers       []string `yaml:"allow_users"`
}

// TLSConfig holds the self-signed certificate parameters.
type TLSConfig struct {
	Subject string `yaml:"subject"`
	KeyBits int    `yaml:"key_bits"`
	Days    int    `yaml:"days"`
}

// ServerConfig holds rockschedd listener settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	Mode      string `yaml:"mode"`
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig `yaml:"bark"`
}

// Config is built once at process start and passed by value afterwards.
type Config struct {
	BaseDir         string `yaml:"base_dir"`
	StateDir        string `yaml:"state_dir"`
	LogLevel        string `yaml:"log_level"`
	NetProbe        string `yaml:"net_probe"`
	ListenerService string `yaml:"listener_service"`

	Paths        Paths              `yaml:"paths"`
	Binaries     Binaries           `yaml:"binaries"`
	Database     DatabaseConfig     `yaml:"database"`
	SSH          SSHConfig          `yaml:"ssh"`
	TLS          TLSConfig          `yaml:"tls"`
	Server       ServerConfig       `yaml:"server"`
	Notification NotificationConfig `yaml:"notification"`

	RunRetention  int           `yaml:"run_retention"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

const (
	defaultBaseDir       = "/opt/rockstor"
	defaultStateDir      = "/var/lib/rockinit"
	defaultConfigFile    = "/etc/rockinit/config.yaml"
	defaultLogLevel      = "info"
	defaultAddr          = "127.0.0.1:7071"
	defaultShutdownGrace = 5 * time.Second
	defaultRunRetention  = 50

	NetProbeNetlink = "netlink"
	NetProbeIP      = "ip"
)

// Defaults returns the stock appliance layout. Paths derived from BaseDir are left
// empty until Finalize.
func Defaults() Config {
	return Config{
		BaseDir:         defaultBaseDir,
		StateDir:        defaultStateDir,
		LogLevel:        defaultLogLevel,
		NetProbe:        NetProbeNetlink,
		ListenerService: "rockstor",
		Paths: Paths{
			SSHDConfig:    "/etc/ssh/sshd_config",
			SystemdDir:    "/etc/systemd/system",
			VendorUnitDir: "/usr/lib/systemd/system",
			Issue:         "/etc/issue",
			Crontab:       "/etc/cron.d/rockstortab",
			Localtime:     "/etc/localtime",
			PgData:        "/var/lib/pgsql/data",
		},
		Binaries: Binaries{
			Systemctl:     "/usr/bin/systemctl",
			OpenSSL:       "/usr/bin/openssl",
			IP:            "/usr/sbin/ip",
			Su:            "su",
			Psql:          "psql",
			Createdb:      "/usr/bin/createdb",
			PostgresSetup: "/usr/bin/postgresql-setup",
			InitDB:        "/usr/bin/initdb",
		},
		Database: DatabaseConfig{
			ServiceUnit:  "postgresql",
			SystemUser:   "postgres",
			Databases:    []string{"smartdb", "storageadmin"},
			Role:         "rocky",
			RolePassword: "rocky",
		},
		SSH: SSHConfig{
			Header:           "###BEGIN: Rockstor SFTP CONFIG. DO NOT EDIT BELOW THIS LINE###",
			SFTPDirective:    "Subsystem\tsftp\tinternal-sftp",
			DefaultSubsystem: "Subsystem\tsftp\t/usr/lib/ssh/sftp-server",
			AllowUsers:       []string{"root"},
		},
		TLS: TLSConfig{
			Subject: "/C=US/ST=Rockstor user's state/L=Rockstor user's city/O=Rockstor user/OU=Rockstor dept/CN=rockstor.user",
			KeyBits: 2048,
			Days:    3650,
		},
		Server: ServerConfig{
			Addr: defaultAddr,
			Mode: "http",
		},
		RunRetention:  defaultRunRetention,
		ShutdownGrace: defaultShutdownGrace,
	}
}

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Load builds the configuration.
// Priority: environment variables > .env file > YAML file > defaults.
// Callers apply CLI flags on top of the returned value before calling Finalize.
func Load() (Config, error) {
	// Load .env files if present (silent fail if not)
	envFiles := []string{".env", "/etc/rockinit/.env"}
	_ = godotenv.Load(envFiles...)

	cfg := Defaults()

	file := getEnvString("ROCKINIT_CONFIG", "")
	if file == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			file = defaultConfigFile
		}
	}
	if file != "" {
		if err := LoadFile(file, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.BaseDir = getEnvString("ROCKINIT_BASE_DIR", cfg.BaseDir)
	cfg.StateDir = getEnvString("ROCKINIT_STATE_DIR", cfg.StateDir)
	cfg.LogLevel = getEnvString("ROCKINIT_LOG_LEVEL", cfg.LogLevel)
	cfg.NetProbe = getEnvString("ROCKINIT_NET_PROBE", cfg.NetProbe)
	cfg.Database.RolePassword = getEnvString("ROCKINIT_DB_ROLE_PASSWORD", cfg.Database.RolePassword)
	cfg.Server.Addr = getEnvString("ROCKINIT_ADDR", cfg.Server.Addr)
	cfg.Server.AuthToken = getEnvString("ROCKINIT_AUTH_TOKEN", cfg.Server.AuthToken)
	cfg.Server.Mode = getEnvString("ROCKINIT_MODE", cfg.Server.Mode)
	cfg.Notification.Bark.URL = getEnvString("ROCKINIT_BARK_URL", cfg.Notification.Bark.URL)
	cfg.Notification.Bark.Enabled = getEnvBool("ROCKINIT_BARK_ENABLED", cfg.Notification.Bark.Enabled)
	cfg.RunRetention = getEnvInt("ROCKINIT_RUN_RETENTION", cfg.RunRetention)
	cfg.ShutdownGrace = getEnvDuration("ROCKINIT_SHUTDOWN_GRACE", cfg.ShutdownGrace)

	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Finalize derives the BaseDir-relative paths left empty and validates the result.
// An unusable base directory is the one failure the bootstrap cannot continue past.
func (c Config) Finalize() (Config, error) {
	if c.BaseDir == "" || !filepath.IsAbs(c.BaseDir) {
		return Config{}, fmt.Errorf("base dir %q must be an absolute path", c.BaseDir)
	}
	c.BaseDir = filepath.Clean(c.BaseDir)
	info, err := os.Stat(c.BaseDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve base dir: %w", err)
	}
	if !info.IsDir() {
		return Config{}, errors.New("base dir " + c.BaseDir + " is not a directory")
	}

	base := c.BaseDir
	p := &c.Paths
	setDefault(&p.ConfDir, filepath.Join(base, "conf"))
	setDefault(&p.BinDir, filepath.Join(base, "bin"))
	setDefault(&p.CertDir, filepath.Join(base, "certs"))
	setDefault(&p.Stamp, filepath.Join(base, ".initrock"))
	setDefault(&p.Settings, filepath.Join(base, "src", "rockstor", "settings.py"))
	setDefault(&p.NginxConf, filepath.Join(base, "etc", "nginx", "nginx.conf"))

	b := &c.Binaries
	setDefault(&b.SupervisorCtl, filepath.Join(p.BinDir, "supervisorctl"))
	setDefault(&b.Django, filepath.Join(p.BinDir, "django"))
	setDefault(&b.PrepDB, filepath.Join(p.BinDir, "prep_db"))
	setDefault(&b.FlashOptimize, filepath.Join(p.BinDir, "flash-optimize"))

	switch c.NetProbe {
	case NetProbeNetlink, NetProbeIP:
	default:
		return Config{}, fmt.Errorf("net probe %q must be %q or %q", c.NetProbe, NetProbeNetlink, NetProbeIP)
	}
	if c.TLS.Days <= 0 {
		return Config{}, fmt.Errorf("tls days must be positive, got %d", c.TLS.Days)
	}
	if len(c.Database.Databases) == 0 {
		return Config{}, errors.New("at least one application database is required")
	}
	return c, nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
