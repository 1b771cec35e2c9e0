package guardian

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNewsScanner(session DiscordSessionHandler) *NewsScanner {
	return newNewsScanner(
		session,
		&NewsConfig{
			PerChannelLimit: DefaultNewsPerChannelLimit,
			MaxEntries:      DefaultNewsMaxEntries,
		},
		testLogHandler(),
	)
}

func TestNewsScanner_EmptyCategoryReturnsSentinel(t *testing.T) {
	t.Parallel()
	scanner := newTestNewsScanner(newMockSessionHandler())

	assert.Equal(
		t,
		NoNewsSentinel,
		scanner.Scan(context.Background(), "guild1", ""),
	)
}

func TestNewsScanner_GuildChannelErrorReturnsSentinel(t *testing.T) {
	t.Parallel()
	mockSession := newMockSessionHandler()
	mockSession.guildChannelErr = errors.New("api unavailable")
	scanner := newTestNewsScanner(mockSession)

	assert.Equal(
		t,
		NoNewsSentinel,
		scanner.Scan(context.Background(), "guild1", "cat1"),
	)
}

func TestNewsScanner_FormatsAndOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	mockSession := newMockSessionHandler()
	mockSession.guildChannels["guild1"] = []*discordgo.Channel{
		{
			ID:       "news1",
			Name:     "announcements",
			ParentID: "cat1",
			Type:     discordgo.ChannelTypeGuildText,
		},
		{
			ID:       "news2",
			Name:     "patch-notes",
			ParentID: "cat1",
			Type:     discordgo.ChannelTypeGuildNews,
		},
		{
			// wrong category, ignored
			ID:       "offtopic",
			Name:     "offtopic",
			ParentID: "cat2",
			Type:     discordgo.ChannelTypeGuildText,
		},
		{
			// voice channel in the category, ignored
			ID:       "voice1",
			Name:     "voice",
			ParentID: "cat1",
			Type:     discordgo.ChannelTypeGuildVoice,
		},
	}

	older := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	mockSession.channelMessages["news1"] = []*discordgo.Message{
		{Content: "Server maintenance finished", Timestamp: older},
		{Content: "", Timestamp: older}, // empty content skipped
	}
	mockSession.channelMessages["news2"] = []*discordgo.Message{
		{Content: "1.21 update live", Timestamp: newer},
	}

	scanner := newTestNewsScanner(mockSession)
	result := scanner.Scan(context.Background(), "guild1", "cat1")

	lines := strings.Split(result, "\n")
	require.Len(t, lines, 2)
	assert.Equal(
		t,
		"[Sat Aug 15 2026] (patch-notes): 1.21 update live",
		lines[0],
	)
	assert.Equal(
		t,
		"[Sat Aug 1 2026] (announcements): Server maintenance finished",
		lines[1],
	)
}

func TestNewsScanner_CapsAtMaxEntries(t *testing.T) {
	t.Parallel()
	mockSession := newMockSessionHandler()

	// four channels each holding five messages: twenty candidates
	var channels []*discordgo.Channel
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for c := 0; c < 4; c++ {
		id := fmt.Sprintf("ch%d", c)
		channels = append(
			channels, &discordgo.Channel{
				ID:       id,
				Name:     id,
				ParentID: "cat1",
				Type:     discordgo.ChannelTypeGuildText,
			},
		)
		for m := 0; m < 5; m++ {
			mockSession.channelMessages[id] = append(
				mockSession.channelMessages[id],
				&discordgo.Message{
					Content:   fmt.Sprintf("update %d-%d", c, m),
					Timestamp: base.Add(time.Duration(c*5+m) * time.Hour),
				},
			)
		}
	}
	mockSession.guildChannels["guild1"] = channels

	scanner := newTestNewsScanner(mockSession)
	result := scanner.Scan(context.Background(), "guild1", "cat1")

	lines := strings.Split(result, "\n")
	assert.Len(t, lines, DefaultNewsMaxEntries)
	// the newest message wins the top slot
	assert.Contains(t, lines[0], "update 3-4")
}

func TestNewsScanner_SkipsFailedChannels(t *testing.T) {
	t.Parallel()
	mockSession := newMockSessionHandler()
	mockSession.guildChannels["guild1"] = []*discordgo.Channel{
		{
			ID:       "broken",
			Name:     "broken",
			ParentID: "cat1",
			Type:     discordgo.ChannelTypeGuildText,
		},
		{
			ID:       "working",
			Name:     "working",
			ParentID: "cat1",
			Type:     discordgo.ChannelTypeGuildText,
		},
	}
	mockSession.channelErrs["broken"] = errors.New("missing access")
	mockSession.channelMessages["working"] = []*discordgo.Message{
		{
			Content:   "still here",
			Timestamp: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		},
	}

	scanner := newTestNewsScanner(mockSession)
	result := scanner.Scan(context.Background(), "guild1", "cat1")

	assert.Contains(t, result, "still here")
	assert.NotEqual(t, NoNewsSentinel, result)
}

func TestNewsScanner_NoMessagesReturnsSentinel(t *testing.T) {
	t.Parallel()
	mockSession := newMockSessionHandler()
	mockSession.guildChannels["guild1"] = []*discordgo.Channel{
		{
			ID:       "quiet",
			Name:     "quiet",
			ParentID: "cat1",
			Type:     discordgo.ChannelTypeGuildText,
		},
	}

	scanner := newTestNewsScanner(mockSession)
	assert.Equal(
		t,
		NoNewsSentinel,
		scanner.Scan(context.Background(), "guild1", "cat1"),
	)
}
