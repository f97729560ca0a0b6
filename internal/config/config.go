package config

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultCheckInterval is the poll interval in seconds.
	DefaultCheckInterval = 30
	// MinCheckInterval is the smallest poll interval accepted in seconds.
	MinCheckInterval = 5
	// MaxCheckInterval is the largest poll interval accepted in seconds.
	MaxCheckInterval = 24 * 60 * 60
	// DefaultJellyfinURL points at a Jellyfin server on the local host.
	DefaultJellyfinURL = "http://localhost:8096"
)

// Trigger selects which media-server sessions count as activity.
type Trigger string

const (
	// TriggerActive counts every session the server reports as active.
	TriggerActive Trigger = "active"
	// TriggerPlaying counts only sessions with something playing.
	TriggerPlaying Trigger = "playing"
)

// Config represents the persisted runtime settings.
type Config struct {
	JellyfinURL    string               `yaml:"jellyfin_url" json:"jellyfin_url"`
	JellyfinAPIKey string               `yaml:"jellyfin_api_key" json:"jellyfin_api_key"`
	SessionTrigger Trigger              `yaml:"session_trigger" json:"session_trigger"`
	CheckInterval  int                  `yaml:"check_interval" json:"check_interval"`
	Enabled        bool                 `yaml:"enabled" json:"enabled"`
	Containers     map[string]Container `yaml:"containers" json:"containers"`
}

// Container holds the settings of one managed container.
type Container struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Description string `yaml:"description" json:"description"`
}

// UnmarshalYAML treats a missing enabled flag as true.
func (c *Container) UnmarshalYAML(node *yaml.Node) error {
	type plain Container
	raw := plain{Enabled: true}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = Container(raw)
	return nil
}

// UnmarshalJSON treats a missing enabled flag as true.
func (c *Container) UnmarshalJSON(data []byte) error {
	type plain Container
	raw := plain{Enabled: true}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Container(raw)
	return nil
}

// Jellyfin groups the settings a session source is built from.
type Jellyfin struct {
	URL     string
	APIKey  string
	Trigger Trigger
}

// Jellyfin returns the media-server connection settings.
func (c Config) Jellyfin() Jellyfin {
	return Jellyfin{URL: c.JellyfinURL, APIKey: c.JellyfinAPIKey, Trigger: c.SessionTrigger}
}

// EnabledContainers returns the names of enabled containers sorted by name.
func (c Config) EnabledContainers() []string {
	names := make([]string, 0, len(c.Containers))
	for name, settings := range c.Containers {
		if settings.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Containers = make(map[string]Container, len(c.Containers))
	for name, settings := range c.Containers {
		out.Containers[name] = settings
	}
	return out
}

// Equal reports whether both configurations hold the same settings.
func (c Config) Equal(other Config) bool {
	if c.JellyfinURL != other.JellyfinURL ||
		c.JellyfinAPIKey != other.JellyfinAPIKey ||
		c.SessionTrigger != other.SessionTrigger ||
		c.CheckInterval != other.CheckInterval ||
		c.Enabled != other.Enabled ||
		len(c.Containers) != len(other.Containers) {
		return false
	}
	for name, settings := range c.Containers {
		if o, ok := other.Containers[name]; !ok || o != settings {
			return false
		}
	}
	return true
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		JellyfinURL:    DefaultJellyfinURL,
		SessionTrigger: TriggerActive,
		CheckInterval:  DefaultCheckInterval,
		Enabled:        true,
		Containers:     map[string]Container{},
	}
}

// Normalize fills in missing values and clamps out-of-range ones.
func (c *Config) Normalize() {
	if c.JellyfinURL == "" {
		c.JellyfinURL = DefaultJellyfinURL
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckInterval < MinCheckInterval {
		c.CheckInterval = MinCheckInterval
	}
	if c.CheckInterval > MaxCheckInterval {
		c.CheckInterval = MaxCheckInterval
	}
	switch c.SessionTrigger {
	case TriggerActive, TriggerPlaying:
	default:
		c.SessionTrigger = TriggerActive
	}
	if c.Containers == nil {
		c.Containers = map[string]Container{}
	}
}

// Bootstrap builds the initial configuration from environment values exposed
// through v. It is used when no configuration file exists yet.
func Bootstrap(v *viper.Viper) Config {
	cfg := DefaultConfig()
	if v == nil {
		return cfg
	}
	if url := v.GetString("jellyfin_url"); url != "" {
		cfg.JellyfinURL = url
	}
	if key := v.GetString("jellyfin_api_key"); key != "" {
		cfg.JellyfinAPIKey = key
	}
	if interval := v.GetInt("check_interval"); interval > 0 {
		cfg.CheckInterval = interval
	}
	if trigger := v.GetString("session_trigger"); trigger != "" {
		cfg.SessionTrigger = Trigger(strings.ToLower(trigger))
	}
	raw := strings.ReplaceAll(v.GetString("containers_to_pause"), ",", " ")
	for _, name := range strings.Fields(raw) {
		cfg.Containers[name] = Container{Enabled: true}
	}
	cfg.Normalize()
	return cfg
}

// Patch carries a partial update; nil fields are left unchanged. Containers,
// when present, replaces the managed container set.
type Patch struct {
	JellyfinURL    *string              `json:"jellyfin_url,omitempty"`
	JellyfinAPIKey *string              `json:"jellyfin_api_key,omitempty"`
	SessionTrigger *Trigger             `json:"session_trigger,omitempty"`
	CheckInterval  *int                 `json:"check_interval,omitempty"`
	Enabled        *bool                `json:"enabled,omitempty"`
	Containers     map[string]Container `json:"containers,omitempty"`
}

// Apply writes the set fields of p onto c.
func (p Patch) Apply(c *Config) {
	if p.JellyfinURL != nil {
		c.JellyfinURL = *p.JellyfinURL
	}
	if p.JellyfinAPIKey != nil {
		c.JellyfinAPIKey = *p.JellyfinAPIKey
	}
	if p.SessionTrigger != nil {
		c.SessionTrigger = *p.SessionTrigger
	}
	if p.CheckInterval != nil {
		c.CheckInterval = *p.CheckInterval
	}
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Containers != nil {
		c.Containers = make(map[string]Container, len(p.Containers))
		for name, settings := range p.Containers {
			c.Containers[name] = settings
		}
	}
}
