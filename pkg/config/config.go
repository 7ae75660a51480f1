package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents     AgentsConfig     `json:"agents"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Gateway    GatewayConfig    `json:"gateway"`
	Security   SecurityConfig   `json:"security"`
	Tools      ToolsConfig      `json:"tools"`
	Skills     SkillsConfig     `json:"skills"`
	Automation AutomationConfig `json:"automation"`
	Logging    LoggingConfig    `json:"logging"`
}

// SkillsConfig governs the skills registry. InstallPolicy is one of
// "allow", "deny", "ask".
type SkillsConfig struct {
	InstallPolicy string `json:"install_policy" env:"OPENSHELL_SKILLS_INSTALL_POLICY"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace           string   `json:"workspace" env:"OPENSHELL_AGENTS_DEFAULTS_WORKSPACE"`
	RestrictToWorkspace bool     `json:"restrict_to_workspace" env:"OPENSHELL_AGENTS_DEFAULTS_RESTRICT_TO_WORKSPACE"`
	Model               string   `json:"model" env:"OPENSHELL_AGENTS_DEFAULTS_MODEL"`
	Models              []string `json:"models" env:"OPENSHELL_AGENTS_DEFAULTS_MODELS"`
	MaxTokens           int      `json:"max_tokens" env:"OPENSHELL_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature         float64  `json:"temperature" env:"OPENSHELL_AGENTS_DEFAULTS_TEMPERATURE"`
	MaxToolIterations   int      `json:"max_tool_iterations" env:"OPENSHELL_AGENTS_DEFAULTS_MAX_TOOL_ITERATIONS"`
}

type ChannelsConfig struct {
	Webchat  WebchatConfig  `json:"webchat"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	IMessage IMessageConfig `json:"imessage"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

type WebchatConfig struct {
	Enabled bool `json:"enabled" env:"OPENSHELL_CHANNELS_WEBCHAT_ENABLED"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled" env:"OPENSHELL_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" env:"OPENSHELL_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"OPENSHELL_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"OPENSHELL_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"OPENSHELL_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"OPENSHELL_CHANNELS_DISCORD_ALLOW_FROM"`
}

type IMessageConfig struct {
	Enabled            bool                `json:"enabled" env:"OPENSHELL_CHANNELS_IMESSAGE_ENABLED"`
	SourceDB           string              `json:"source_db" env:"OPENSHELL_CHANNELS_IMESSAGE_SOURCE_DB"`
	PollIntervalSecs   int                 `json:"poll_interval_seconds" env:"OPENSHELL_CHANNELS_IMESSAGE_POLL_INTERVAL_SECONDS"`
	StartFromLatest    bool                `json:"start_from_latest" env:"OPENSHELL_CHANNELS_IMESSAGE_START_FROM_LATEST"`
	GroupTriggerPrefix []string            `json:"group_trigger_prefix" env:"OPENSHELL_CHANNELS_IMESSAGE_GROUP_TRIGGER_PREFIX"`
	AllowFrom          FlexibleStringSlice `json:"allow_from" env:"OPENSHELL_CHANNELS_IMESSAGE_ALLOW_FROM"`
}

type SlackConfig struct {
	Enabled          bool                `json:"enabled" env:"OPENSHELL_CHANNELS_SLACK_ENABLED"`
	BotToken         string              `json:"bot_token" env:"OPENSHELL_CHANNELS_SLACK_BOT_TOKEN"`
	Channels         []string            `json:"channels" env:"OPENSHELL_CHANNELS_SLACK_CHANNELS"`
	PollIntervalSecs int                 `json:"poll_interval_seconds" env:"OPENSHELL_CHANNELS_SLACK_POLL_INTERVAL_SECONDS"`
	StartFromLatest  bool                `json:"start_from_latest" env:"OPENSHELL_CHANNELS_SLACK_START_FROM_LATEST"`
	AllowFrom        FlexibleStringSlice `json:"allow_from" env:"OPENSHELL_CHANNELS_SLACK_ALLOW_FROM"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled" env:"OPENSHELL_CHANNELS_WHATSAPP_ENABLED"`
	AccessToken   string `json:"access_token" env:"OPENSHELL_CHANNELS_WHATSAPP_ACCESS_TOKEN"`
	PhoneNumberID string `json:"phone_number_id" env:"OPENSHELL_CHANNELS_WHATSAPP_PHONE_NUMBER_ID"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"OPENSHELL_GATEWAY_HOST"`
	Port int    `json:"port" env:"OPENSHELL_GATEWAY_PORT"`
}

// APIToken is one control-plane bearer token. An empty scope list, or a list
// containing "*" or "control:write", grants every scope.
type APIToken struct {
	Token  string   `json:"token"`
	Scopes []string `json:"scopes"`
}

type SecurityConfig struct {
	AllowAllSenders bool                `json:"allow_all_senders" env:"OPENSHELL_SECURITY_ALLOW_ALL_SENDERS"`
	AllowedUsers    FlexibleStringSlice `json:"allowed_users" env:"OPENSHELL_SECURITY_ALLOWED_USERS"`
	Approvals       ApprovalsConfig     `json:"approvals"`
	APITokens       []APIToken          `json:"api_tokens"`
}

// ApprovalsConfig declares the approval mode per tool category.
// Valid modes: "human", "ai", "auto".
type ApprovalsConfig struct {
	Shell           string `json:"shell" env:"OPENSHELL_SECURITY_APPROVALS_SHELL"`
	Browser         string `json:"browser" env:"OPENSHELL_SECURITY_APPROVALS_BROWSER"`
	FilesystemWrite string `json:"filesystem_write" env:"OPENSHELL_SECURITY_APPROVALS_FILESYSTEM_WRITE"`
}

type ToolsConfig struct {
	ExecTimeoutSecs  int   `json:"exec_timeout_seconds" env:"OPENSHELL_TOOLS_EXEC_TIMEOUT_SECONDS"`
	FileMaxBytes     int64 `json:"file_max_bytes" env:"OPENSHELL_TOOLS_FILE_MAX_BYTES"`
	SearchMaxResults int   `json:"search_max_results" env:"OPENSHELL_TOOLS_SEARCH_MAX_RESULTS"`
	SearchMaxSteps   int   `json:"search_max_steps" env:"OPENSHELL_TOOLS_SEARCH_MAX_STEPS"`
}

type AutomationJob struct {
	ID        string `json:"id"`
	Schedule  string `json:"schedule"` // cron expression
	Prompt    string `json:"prompt"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
}

type AutomationConfig struct {
	Jobs []AutomationJob `json:"jobs"`
}

type LoggingConfig struct {
	FileEnabled     bool   `json:"file_enabled" env:"OPENSHELL_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"OPENSHELL_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"OPENSHELL_LOGGING_ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"OPENSHELL_LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"OPENSHELL_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.opencraw/workspace",
				RestrictToWorkspace: true,
				Model:               "gpt-4o-mini",
				Models:              []string{"gpt-4o-mini", "gpt-4o", "claude-sonnet-4-5"},
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   6,
			},
		},
		Channels: ChannelsConfig{
			Webchat: WebchatConfig{Enabled: true},
			Telegram: TelegramConfig{
				AllowFrom: FlexibleStringSlice{},
			},
			Discord: DiscordConfig{
				AllowFrom: FlexibleStringSlice{},
			},
			IMessage: IMessageConfig{
				PollIntervalSecs:   2,
				StartFromLatest:    true,
				GroupTriggerPrefix: []string{},
				AllowFrom:          FlexibleStringSlice{},
			},
			Slack: SlackConfig{
				PollIntervalSecs: 3,
				StartFromLatest:  true,
				AllowFrom:        FlexibleStringSlice{},
			},
			WhatsApp: WhatsAppConfig{},
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{APIBase: "https://api.openai.com/v1"},
			Anthropic: ProviderConfig{},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18780,
		},
		Security: SecurityConfig{
			AllowAllSenders: false,
			AllowedUsers:    FlexibleStringSlice{},
			Approvals: ApprovalsConfig{
				Shell:           "ai",
				Browser:         "ai",
				FilesystemWrite: "auto",
			},
		},
		Tools: ToolsConfig{
			ExecTimeoutSecs:  60,
			FileMaxBytes:     512 * 1024,
			SearchMaxResults: 200,
			SearchMaxSteps:   10000,
		},
		Skills: SkillsConfig{
			InstallPolicy: "ask",
		},
		Logging: LoggingConfig{
			FileEnabled:     true,
			FilePath:        "~/.opencraw/workspace/opencraw.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       50,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies the dedicated override variables after file load.
// Channel token variables also flip the channel on.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OPENSHELL_MODEL")); v != "" {
		cfg.Agents.Defaults.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")); v != "" {
		cfg.Channels.Discord.Token = v
		cfg.Channels.Discord.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("IMESSAGE_SOURCE_DB")); v != "" {
		cfg.Channels.IMessage.SourceDB = v
		cfg.Channels.IMessage.Enabled = true
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agents.Defaults.Model) == "" {
		return fmt.Errorf("agents.defaults.model is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d is invalid", c.Gateway.Port)
	}
	if c.Agents.Defaults.MaxToolIterations <= 0 {
		return fmt.Errorf("agents.defaults.max_tool_iterations must be positive")
	}
	for _, mode := range []string{
		c.Security.Approvals.Shell,
		c.Security.Approvals.Browser,
		c.Security.Approvals.FilesystemWrite,
	} {
		switch strings.ToLower(mode) {
		case "human", "ai", "auto":
		default:
			return fmt.Errorf("invalid approval mode %q", mode)
		}
	}
	switch strings.ToLower(c.Skills.InstallPolicy) {
	case "", "allow", "deny", "ask":
	default:
		return fmt.Errorf("invalid skills install policy %q", c.Skills.InstallPolicy)
	}
	return nil
}

// ModelKnown reports whether model is in the configured list,
// case-insensitively. The default model is always known.
func (c *Config) ModelKnown(model string) bool {
	if strings.EqualFold(model, c.Agents.Defaults.Model) {
		return true
	}
	for _, m := range c.Agents.Defaults.Models {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

// EnabledChannels lists configured channel names, for /status.
func (c *Config) EnabledChannels() []string {
	names := []string{}
	if c.Channels.Webchat.Enabled {
		names = append(names, "webchat")
	}
	if c.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if c.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if c.Channels.IMessage.Enabled {
		names = append(names, "imessage")
	}
	if c.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if c.Channels.WhatsApp.Enabled {
		names = append(names, "whatsapp")
	}
	return names
}

// SaveConfig writes the config atomically: marshal to a temp file in the
// same directory, then rename over the target.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".opencraw-config-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Agents.Defaults.Workspace)
}

func (c *Config) LogFilePath() string {
	return expandHome(c.Logging.FilePath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
