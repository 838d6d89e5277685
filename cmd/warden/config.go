package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/guildwarden/warden/antinuke/detector"
	"github.com/guildwarden/warden/antinuke/engine"
	"github.com/guildwarden/warden/antinuke/event"

	"github.com/xlab/treeprint"
	"gopkg.in/yaml.v3"
)

const (
	defaultThreshold = 5
	defaultWindow    = 10 * time.Hour
)

// On-disk YAML configuration.
type FileConfig struct {
	Bot struct {
		Token     string `yaml:"token"`
		Owner1ID  string `yaml:"owner1_id"`
		Owner2ID  string `yaml:"owner2_id"`
		Server1ID string `yaml:"server1_id"`
		Server2ID string `yaml:"server2_id"`
	} `yaml:"selfbot"`

	ProtectedServers []string `yaml:"protected_servers"`
	Owners           []string `yaml:"owners"`

	Whitelisted struct {
		Users []string `yaml:"users"`
	} `yaml:"whitelisted"`
	// older flat form
	Whitelist []string `yaml:"whitelist"`

	AntiNuke struct {
		BanLimit           int    `yaml:"ban_limit"`
		UnbanLimit         int    `yaml:"unban_limit"`
		KickLimit          int    `yaml:"kick_limit"`
		BotAddLimit        int    `yaml:"bot_add_limit"`
		ChannelCreateLimit int    `yaml:"channel_create_limit"`
		ChannelDeleteLimit int    `yaml:"channel_delete_limit"`
		ChannelUpdateLimit int    `yaml:"channel_update_limit"`
		RoleCreateLimit    int    `yaml:"role_create_limit"`
		RoleDeleteLimit    int    `yaml:"role_delete_limit"`
		RoleUpdateLimit    int    `yaml:"role_update_limit"`
		MemberUpdateLimit  int    `yaml:"member_update_limit"`
		TimeWindowMillis   int64  `yaml:"time_window"`
		Punishment         string `yaml:"punishment"`
		AutoRecovery       *bool  `yaml:"auto_recovery"`
		RecoverChannels    *bool  `yaml:"recover_channels"`
		RecoverRoles       *bool  `yaml:"recover_roles"`
		PunishQuotaPerHour *int   `yaml:"punish_quota_per_hour"`
	} `yaml:"antinuke_settings"`

	Logs struct {
		Webhook          string `yaml:"log_webhook"`
		OwnerDM          bool   `yaml:"log_owner_dm"`
		NotifyOnShutdown *bool  `yaml:"notify_on_shutdown"`
		LogLevel         string `yaml:"log_level"`
	} `yaml:"logs"`
}

// Resolved runtime configuration.
type Config struct {
	Token     string
	Owners    []string
	Whitelist []string
	Protected []string

	Thresholds detector.Thresholds
	Engine     engine.Config

	WebhookURL       string
	OwnerDM          bool
	NotifyOnShutdown bool
	LogLevel         string
}

func LoadFileConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &fc, nil
}

func cleanID(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func appendIDs(dst []string, ids ...string) []string {
	for _, id := range ids {
		if id = cleanID(id); id != "" {
			dst = append(dst, id)
		}
	}
	return dst
}

// Applies defaults and validates. `fc` may be nil, in which case only defaults apply.
func (fc *FileConfig) Resolve() (*Config, error) {
	if fc == nil {
		fc = &FileConfig{}
	}
	cfg := &Config{
		Token:            strings.TrimSpace(fc.Bot.Token),
		Engine:           engine.DefaultConfig(),
		WebhookURL:       fc.Logs.Webhook,
		OwnerDM:          fc.Logs.OwnerDM,
		NotifyOnShutdown: true,
		LogLevel:         fc.Logs.LogLevel,
	}
	cfg.Owners = appendIDs(cfg.Owners, fc.Bot.Owner1ID, fc.Bot.Owner2ID)
	cfg.Owners = appendIDs(cfg.Owners, fc.Owners...)
	cfg.Protected = appendIDs(cfg.Protected, fc.Bot.Server1ID, fc.Bot.Server2ID)
	cfg.Protected = appendIDs(cfg.Protected, fc.ProtectedServers...)
	cfg.Whitelist = appendIDs(cfg.Whitelist, fc.Whitelisted.Users...)
	cfg.Whitelist = appendIDs(cfg.Whitelist, fc.Whitelist...)

	an := fc.AntiNuke
	limits := map[event.ActionKind]int{
		event.ActionBan:              an.BanLimit,
		event.ActionUnban:            an.UnbanLimit,
		event.ActionKick:             an.KickLimit,
		event.ActionBotAdd:           an.BotAddLimit,
		event.ActionChannelCreate:    an.ChannelCreateLimit,
		event.ActionChannelDelete:    an.ChannelDeleteLimit,
		event.ActionChannelUpdate:    an.ChannelUpdateLimit,
		event.ActionRoleCreate:       an.RoleCreateLimit,
		event.ActionRoleDelete:       an.RoleDeleteLimit,
		event.ActionRoleUpdate:       an.RoleUpdateLimit,
		event.ActionMemberRoleUpdate: an.MemberUpdateLimit,
	}
	for kind, n := range limits {
		if n < 0 {
			return nil, fmt.Errorf("antinuke_settings: threshold for %s must be at least 1, got %d", kind, n)
		}
		if n == 0 {
			limits[kind] = defaultThreshold
		}
	}
	window := defaultWindow
	if an.TimeWindowMillis < 0 {
		return nil, fmt.Errorf("antinuke_settings: time_window must be positive")
	}
	if an.TimeWindowMillis > 0 {
		window = time.Duration(an.TimeWindowMillis) * time.Millisecond
	}
	cfg.Thresholds = detector.Thresholds{Limits: limits, Window: window}

	if an.Punishment != "" {
		mode, err := engine.ParsePunishMode(strings.ToLower(an.Punishment))
		if err != nil {
			return nil, fmt.Errorf("antinuke_settings: %w", err)
		}
		cfg.Engine.Punishment = mode
	}
	if an.AutoRecovery != nil {
		cfg.Engine.AutoRecovery = *an.AutoRecovery
	}
	if an.RecoverChannels != nil {
		cfg.Engine.RecoverChannels = *an.RecoverChannels
	}
	if an.RecoverRoles != nil {
		cfg.Engine.RecoverRoles = *an.RecoverRoles
	}
	if an.PunishQuotaPerHour != nil {
		if *an.PunishQuotaPerHour < 0 {
			return nil, fmt.Errorf("antinuke_settings: punish_quota_per_hour can not be negative")
		}
		cfg.Engine.PunishQuotaPerHour = *an.PunishQuotaPerHour
	}
	if fc.Logs.NotifyOnShutdown != nil {
		cfg.NotifyOnShutdown = *fc.Logs.NotifyOnShutdown
	}
	return cfg, nil
}

// Startup checks which can only be made once flags and environment are merged in.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("no bot token configured (set DISCORD_TOKEN or selfbot.token)")
	}
	if len(c.Protected) == 0 {
		return fmt.Errorf("no protected servers configured")
	}
	return nil
}

// Renders the resolved configuration for the check-config command. The token is never printed.
func configTree(c *Config) treeprint.Tree {
	tree := treeprint.NewWithRoot("warden")

	servers := tree.AddMetaBranch(len(c.Protected), "protected servers")
	for _, id := range c.Protected {
		servers.AddNode(id)
	}
	owners := tree.AddMetaBranch(len(c.Owners), "owners")
	for _, id := range c.Owners {
		owners.AddNode(id)
	}
	tree.AddMetaNode(len(c.Whitelist), "whitelisted users")

	limits := tree.AddMetaBranch(c.Thresholds.Window, "thresholds")
	for _, kind := range event.AllActionKinds {
		limits.AddMetaNode(c.Thresholds.Limit(kind), string(kind))
	}

	eng := tree.AddBranch("engine")
	eng.AddMetaNode(c.Engine.Punishment, "punishment")
	eng.AddMetaNode(c.Engine.AutoRecovery, "auto recovery")
	eng.AddMetaNode(c.Engine.RecoverChannels, "recover channels")
	eng.AddMetaNode(c.Engine.RecoverRoles, "recover roles")
	eng.AddMetaNode(c.Engine.PunishQuotaPerHour, "punishments per hour")

	logs := tree.AddBranch("notifications")
	logs.AddMetaNode(c.WebhookURL != "", "webhook")
	logs.AddMetaNode(c.OwnerDM, "owner DMs")
	logs.AddMetaNode(c.NotifyOnShutdown, "shutdown notice")
	return tree
}
