package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// NoNewsSentinel is returned by a scan when the news category is absent,
// empty, or entirely unreadable. The persona instructs the model to admit
// it has no news when it sees this.
const NoNewsSentinel = "No news yet."

type newsEntry struct {
	date time.Time
	text string
}

// NewsScanner collects recent messages from the text channels under a
// guild's news category into a single text blob. A failed fetch on one
// channel skips that channel only; the scan itself never fails.
type NewsScanner struct {
	session DiscordSessionHandler
	config  *NewsConfig
	logger  *slog.Logger
}

func newNewsScanner(
	session DiscordSessionHandler,
	config *NewsConfig,
	handler slog.Handler,
) *NewsScanner {
	return &NewsScanner{
		session: session,
		config:  config,
		logger:  slog.New(handler).With(loggerNameKey, "news_scanner"),
	}
}

// Scan fetches up to the configured number of recent messages from each
// text channel under categoryID, merges them newest-first, caps the result
// at the configured max entries, and formats each line as
// `[date] (channel): content`. There are no retries: a transient failure
// just yields a smaller (or empty) result for this cycle.
func (n *NewsScanner) Scan(
	ctx context.Context,
	guildID string,
	categoryID string,
) string {
	logger := n.logger.With("guild_id", guildID, "category_id", categoryID)

	if categoryID == "" {
		return NoNewsSentinel
	}

	channels, err := n.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		logger.Warn("error listing guild channels", tint.Err(err))
		return NoNewsSentinel
	}

	var entries []newsEntry
	for _, channel := range channels {
		if channel.ParentID != categoryID {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText &&
			channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}

		messages, fetchErr := n.session.ChannelMessages(
			channel.ID,
			n.config.PerChannelLimit,
			"", "", "",
			discordgo.WithContext(ctx),
		)
		if fetchErr != nil {
			logger.Warn(
				"failed to read news channel, skipping",
				tint.Err(fetchErr),
				"channel_name", channel.Name,
			)
			continue
		}

		for _, m := range messages {
			if m.Content == "" {
				continue
			}
			entries = append(
				entries, newsEntry{
					date: m.Timestamp,
					text: fmt.Sprintf(
						"[%s] (%s): %s",
						m.Timestamp.Format("Mon Jan 2 2006"),
						channel.Name,
						m.Content,
					),
				},
			)
		}
	}

	if len(entries) == 0 {
		return NoNewsSentinel
	}

	sort.Slice(
		entries, func(i, j int) bool {
			return entries[i].date.After(entries[j].date)
		},
	)

	if len(entries) > n.config.MaxEntries {
		entries = entries[:n.config.MaxEntries]
	}

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.text
	}

	logger.Info("news scan complete", "entries", len(lines))
	return strings.Join(lines, "\n")
}
