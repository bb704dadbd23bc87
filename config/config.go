package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is netipmid's top-level configuration record: the UDP listener
// address, session limits, the negotiable algorithm allow-lists, SOL
// timing defaults, where to find blob handler configuration, and the
// admin/audit surfaces. Defaults are assigned before yaml.Unmarshal runs,
// so an absent or partial config file still produces a working daemon.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Session    SessionConfig    `yaml:"session"`
	Algorithms AlgorithmsConfig `yaml:"algorithms"`
	SOL        SOLConfig        `yaml:"sol"`
	Blob       BlobConfig       `yaml:"blob"`
	Logs       LogsConfig       `yaml:"logs"`
	Admin      AdminConfig      `yaml:"admin"`
	Users      []UserConfig     `yaml:"users"`
}

// UserConfig is one statically configured IPMI user, loaded into an
// rakp.InMemoryUsers at startup. There is no real userdb-backed UserLookup
// implementation here (see rakp/user.go), so this is the only way to
// provision credentials for now.
type UserConfig struct {
	Name      string `yaml:"name"`
	ID        uint8  `yaml:"id"`
	Password  string `yaml:"password"`
	Privilege uint8  `yaml:"privilege"`
}

type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type SessionConfig struct {
	MaxPerChannel int `yaml:"max_per_channel"`
	ChannelNum    int `yaml:"channel_num"`
}

// AlgorithmsConfig holds auth/integrity/crypt algorithm allow-lists read
// from the configuration file. The daemon does not consult them: whether an
// Open Session Request's algorithms are accepted is decided by
// cipher.IsAuthAlgorithmSupported et al. alone, so a non-empty list does not
// narrow the accepted set.
type AlgorithmsConfig struct {
	Auth      []string `yaml:"auth"`
	Integrity []string `yaml:"integrity"`
	Crypt     []string `yaml:"crypt"`
}

type SOLConfig struct {
	AccumulateInterval time.Duration `yaml:"accumulate_interval"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	RetryCount         int           `yaml:"retry_count"`
	SendThreshold      int           `yaml:"send_threshold"`
}

type BlobConfig struct {
	ConfigDir  string `yaml:"config_dir"`
	SocketPath string `yaml:"socket_path"`
}

// LogsConfig points at the audit log directory logs.Writer rotates files
// within, not a single file path (the writer names its own files by
// timestamp and tracks the current one via a "current.log" symlink).
type LogsConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type AdminConfig struct {
	Address string `yaml:"address"`
}

// Load reads and parses a YAML configuration file, applying the daemon's
// documented defaults first so any field the file omits still lands on a
// sane value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Listen: ListenConfig{
			Address: "0.0.0.0",
			Port:    623,
		},
		Session: SessionConfig{
			MaxPerChannel: 15,
			ChannelNum:    1,
		},
		SOL: SOLConfig{
			AccumulateInterval: 100 * time.Millisecond,
			RetryInterval:      100 * time.Millisecond,
			RetryCount:         7,
			SendThreshold:      1,
		},
		Blob: BlobConfig{
			ConfigDir:  "/usr/share/netipmid/blob.d",
			SocketPath: "/run/netipmid/ipmiflashd.sock",
		},
		Logs: LogsConfig{
			Path:          "/var/log/netipmid/audit",
			RetentionDays: 30,
		},
		Admin: AdminConfig{
			Address: "127.0.0.1:8080",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
