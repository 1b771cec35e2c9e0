package guardian

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

// Personality selects the tone template used when generating the
// system persona for a guild.
type Personality string

const (
	PersonalityProfessional Personality = "professional"
	PersonalityCasual       Personality = "casual"
	PersonalityFun          Personality = "fun"
	PersonalityMinimal      Personality = "minimal"
)

// EmojiLevel selects how emoji-heavy the bot's replies should be.
type EmojiLevel string

const (
	EmojiLevelNone     EmojiLevel = "none"
	EmojiLevelLight    EmojiLevel = "light"
	EmojiLevelModerate EmojiLevel = "moderate"
	EmojiLevelHeavy    EmojiLevel = "heavy"
)

// GuildConfig is the per-guild configuration record, persisted as one JSON
// document per guild. Channel/category ID fields are either a snowflake or
// nil - they're never validated against the live server, so a stale ID (a
// deleted channel) surfaces as a lookup failure downstream, not a crash.
//
//nolint:lll // struct tags can't be split
type GuildConfig struct {
	ServerName        string      `json:"SERVER_NAME"`
	ServerType        string      `json:"SERVER_TYPE"`
	ServerIP          *string     `json:"SERVER_IP"`
	ServerVersion     string      `json:"SERVER_VERSION"`
	NewsCategoryID    *string     `json:"NEWS_CATEGORY_ID"`
	SupportCategoryID *string     `json:"SUPPORT_CATEGORY_ID"`
	RulesChannelID    *string     `json:"RULES_CHANNEL_ID"`
	WelcomeChannelID  *string     `json:"WELCOME_CHANNEL_ID"`
	BotName           string      `json:"BOT_NAME"`
	Personality       Personality `json:"PERSONALITY"`
	EmojiLevel        EmojiLevel  `json:"EMOJI_LEVEL"`
	SignatureEmoji    string      `json:"SIGNATURE_EMOJI"`
	StaffRoles        []string    `json:"STAFF_ROLES"`
	AdminRoles        []string    `json:"ADMIN_ROLES"`
}

// DefaultGuildConfig returns the documented default record, used whenever a
// guild has no config file or its file is unreadable.
func DefaultGuildConfig() GuildConfig {
	return GuildConfig{
		ServerName:     "Minecraft Server",
		ServerType:     "vanilla",
		ServerVersion:  "Latest",
		BotName:        "Birno",
		Personality:    PersonalityCasual,
		EmojiLevel:     EmojiLevelModerate,
		SignatureEmoji: "❄️",
		StaffRoles:     []string{},
		AdminRoles:     []string{},
	}
}

// GuildConfigStore reads and writes one JSON document per guild under a
// single directory. Load never fails to the caller: missing or corrupt files
// yield [DefaultGuildConfig]. There is no concurrent-write protection; the
// last writer wins.
type GuildConfigStore struct {
	dir    string
	logger *slog.Logger
}

func NewGuildConfigStore(dir string, handler slog.Handler) (
	*GuildConfigStore,
	error,
) {
	if dir == "" {
		return nil, errors.New("config directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating config directory: %w", err)
	}
	return &GuildConfigStore{
		dir:    dir,
		logger: slog.New(handler).With(loggerNameKey, "guild_config"),
	}, nil
}

func (s *GuildConfigStore) path(guildID string) string {
	return filepath.Join(s.dir, guildID+".json")
}

// Load returns the persisted record for the guild, or the default record if
// no file exists or the file can't be read/parsed. It never returns an error.
func (s *GuildConfigStore) Load(guildID string) GuildConfig {
	data, err := os.ReadFile(s.path(guildID))
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug(
				"no config found for guild, using defaults",
				"guild_id", guildID,
			)
		} else {
			s.logger.Warn(
				"error reading guild config, using defaults",
				tint.Err(err),
				"guild_id", guildID,
			)
		}
		return DefaultGuildConfig()
	}

	cfg := DefaultGuildConfig()
	if err = json.Unmarshal(data, &cfg); err != nil {
		s.logger.Warn(
			"corrupt guild config, using defaults",
			tint.Err(err),
			"guild_id", guildID,
		)
		return DefaultGuildConfig()
	}
	return cfg
}

// Save writes the full record, overwriting any existing file. The document
// is written to a temp path and renamed into place so a failed write never
// leaves a partial file behind.
func (s *GuildConfigStore) Save(guildID string, cfg GuildConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling guild config: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, guildID+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temp config file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error writing guild config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error closing temp config file: %w", err)
	}
	if err = os.Rename(tmpName, s.path(guildID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error replacing guild config: %w", err)
	}

	s.logger.Info("saved guild config", "guild_id", guildID)
	return nil
}

// Update loads the guild's record, shallow-merges the given fields over it
// (keyed by the JSON field names), and saves the result.
func (s *GuildConfigStore) Update(
	guildID string,
	fields map[string]any,
) error {
	cfg := s.Load(guildID)

	merged, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling guild config: %w", err)
	}
	var asMap map[string]any
	if err = json.Unmarshal(merged, &asMap); err != nil {
		return fmt.Errorf("error unmarshaling guild config: %w", err)
	}
	for k, v := range fields {
		asMap[k] = v
	}
	merged, err = json.Marshal(asMap)
	if err != nil {
		return fmt.Errorf("error marshaling merged config: %w", err)
	}
	if err = json.Unmarshal(merged, &cfg); err != nil {
		return fmt.Errorf("error applying merged config: %w", err)
	}

	return s.Save(guildID, cfg)
}

// GuildIDs lists the IDs of every guild with a saved config document.
func (s *GuildConfigStore) GuildIDs() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("error listing config dir", tint.Err(err))
		return nil
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids
}

// IsSetupComplete reports whether the guild has run `/setup` far enough to
// have either a news or support category configured.
func (s *GuildConfigStore) IsSetupComplete(guildID string) bool {
	cfg := s.Load(guildID)
	return cfg.NewsCategoryID != nil || cfg.SupportCategoryID != nil
}

func stringPointerValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
