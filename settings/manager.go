package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

const (
	// ConfigPathEnv overrides the configuration file location.
	ConfigPathEnv     = "PQPROXY_CONFIG"
	defaultConfigPath = "proxy_settings.json"
)

// Environment overrides applied on top of the configuration file.
const (
	replayWindowEnv    = "PQPROXY_REPLAY_WINDOW"
	rekeySecondsEnv    = "PQPROXY_REKEY_SECONDS"
	packetTypeEnv      = "PQPROXY_ENABLE_PACKET_TYPE"
	strictPeerMatchEnv = "PQPROXY_STRICT_UDP_PEER_MATCH"
	initialSuiteEnv    = "PQPROXY_INITIAL_SUITE"
)

// Resolver yields the configuration file path.
type Resolver interface {
	Resolve() string
}

type DefaultResolver struct {
}

func NewDefaultResolver() Resolver {
	return &DefaultResolver{}
}

func (r *DefaultResolver) Resolve() string {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// Manager loads, overrides, defaults and validates settings.
type Manager struct {
	resolver Resolver
}

func NewManager(resolver Resolver) *Manager {
	return &Manager{resolver: resolver}
}

// Configuration reads the settings file, applies environment overrides and
// defaults, then validates.
func (m *Manager) Configuration() (*Settings, error) {
	path := m.resolver.Resolve()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	var conf Settings
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", path, err)
	}

	if err := applyEnvOverrides(&conf); err != nil {
		return nil, err
	}
	conf.applyDefaults()

	allowNonLoopback := os.Getenv(AllowNonLoopbackEnv) == "1"
	if err := conf.Validate(allowNonLoopback); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return &conf, nil
}

func applyEnvOverrides(conf *Settings) error {
	if v := os.Getenv(replayWindowEnv); v != "" {
		window, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", replayWindowEnv, err)
		}
		conf.ReplayWindow = window
	}
	if v := os.Getenv(rekeySecondsEnv); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", rekeySecondsEnv, err)
		}
		conf.RekeySeconds = seconds
	}
	if v := os.Getenv(packetTypeEnv); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", packetTypeEnv, err)
		}
		conf.EnablePacketType = enabled
	}
	if v := os.Getenv(strictPeerMatchEnv); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", strictPeerMatchEnv, err)
		}
		conf.StrictUDPPeerMatch = enabled
	}
	if v := os.Getenv(initialSuiteEnv); v != "" {
		conf.InitialSuiteID = v
	}
	return nil
}
