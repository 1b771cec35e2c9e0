package guardian

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWizard(t testing.TB) (*SetupWizard, *mockSessionHandler) {
	t.Helper()
	store, err := NewGuildConfigStore(t.TempDir(), testLogHandler())
	require.NoError(t, err)

	mockSession := newMockSessionHandler()
	mockSession.guildChannels["guild1"] = []*discordgo.Channel{
		{
			ID:   "cat_news",
			Name: "News",
			Type: discordgo.ChannelTypeGuildCategory,
		},
		{
			ID:   "cat_support",
			Name: "Support",
			Type: discordgo.ChannelTypeGuildCategory,
		},
		{
			ID:   "chan_rules",
			Name: "rules",
			Type: discordgo.ChannelTypeGuildText,
		},
	}
	return newSetupWizard(mockSession, store, testLogHandler()), mockSession
}

func setupCommandInteraction(userID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction1",
			GuildID: "guild1",
			Type:    discordgo.InteractionApplicationCommand,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "admin"},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandSetup,
			},
		},
	}
}

func modalSubmitInteraction(
	userID string,
	values map[string]string,
) *discordgo.InteractionCreate {
	var rows []discordgo.MessageComponent
	for customID, value := range values {
		rows = append(
			rows, &discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: customID, Value: value},
				},
			},
		)
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			GuildID: "guild1",
			Type:    discordgo.InteractionModalSubmit,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "admin"},
			},
			Data: discordgo.ModalSubmitInteractionData{
				CustomID:   setupModalBasicInfo,
				Components: rows,
			},
		},
	}
}

func componentInteraction(
	userID string,
	componentType discordgo.ComponentType,
	customID string,
	values ...string,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			GuildID: "guild1",
			Type:    discordgo.InteractionMessageComponent,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "admin"},
			},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: componentType,
				Values:        values,
			},
		},
	}
}

func TestSetupWizard_FullFlow(t *testing.T) {
	t.Parallel()
	wizard, mockSession := newTestWizard(t)
	ctx := context.Background()

	var savedGuildID string
	wizard.onSave = func(_ context.Context, guildID string, _ GuildConfig) {
		savedGuildID = guildID
	}

	// /setup opens the basic-info modal
	require.NoError(t, wizard.Start(ctx, setupCommandInteraction("user1")))
	resp := mockSession.lastInteractionResponse()
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Equal(t, setupModalBasicInfo, resp.Data.CustomID)
	assert.Equal(t, 1, wizard.SessionCount())

	// modal submit advances to the channel selects
	require.NoError(
		t, wizard.HandleInteraction(
			ctx, modalSubmitInteraction(
				"user1", map[string]string{
					setupInputServerName:    "ColdFront",
					setupInputServerType:    "paper",
					setupInputServerIP:      "play.coldfront.net",
					setupInputServerVersion: "1.21",
				},
			),
		),
	)
	resp = mockSession.lastInteractionResponse()
	assert.Equal(
		t,
		discordgo.InteractionResponseChannelMessageWithSource,
		resp.Type,
	)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Len(t, resp.Data.Components, 3)

	// news category select is just acknowledged
	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.SelectMenuComponent,
				setupSelectNewsCategory,
				"cat_news",
			),
		),
	)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredMessageUpdate,
		mockSession.lastInteractionResponse().Type,
	)

	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.SelectMenuComponent,
				setupSelectSupportCategory,
				"cat_support",
			),
		),
	)

	// rules select advances to the personality step
	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.SelectMenuComponent,
				setupSelectRulesChannel,
				setupSkipValue,
			),
		),
	)
	resp = mockSession.lastInteractionResponse()
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
	assert.Len(t, resp.Data.Components, 2)

	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.SelectMenuComponent,
				setupSelectPersonality,
				string(PersonalityFun),
			),
		),
	)

	// emoji select advances to the review embed
	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.SelectMenuComponent,
				setupSelectEmojiLevel,
				string(EmojiLevelHeavy),
			),
		),
	)
	resp = mockSession.lastInteractionResponse()
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Contains(t, resp.Data.Embeds[0].Title, "Review")

	// save persists the draft and closes the session
	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.ButtonComponent,
				setupButtonSave,
			),
		),
	)
	assert.Equal(t, 0, wizard.SessionCount())
	assert.Equal(t, "guild1", savedGuildID)

	saved := wizard.store.Load("guild1")
	assert.Equal(t, "ColdFront", saved.ServerName)
	assert.Equal(t, "paper", saved.ServerType)
	require.NotNil(t, saved.ServerIP)
	assert.Equal(t, "play.coldfront.net", *saved.ServerIP)
	assert.Equal(t, "1.21", saved.ServerVersion)
	require.NotNil(t, saved.NewsCategoryID)
	assert.Equal(t, "cat_news", *saved.NewsCategoryID)
	require.NotNil(t, saved.SupportCategoryID)
	assert.Equal(t, "cat_support", *saved.SupportCategoryID)
	// skipped selects persist as null
	assert.Nil(t, saved.RulesChannelID)
	assert.Equal(t, PersonalityFun, saved.Personality)
	assert.Equal(t, EmojiLevelHeavy, saved.EmojiLevel)
}

func TestSetupWizard_SkipNewsCategory(t *testing.T) {
	t.Parallel()
	wizard, _ := newTestWizard(t)
	ctx := context.Background()

	require.NoError(t, wizard.Start(ctx, setupCommandInteraction("user1")))
	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.SelectMenuComponent,
				setupSelectNewsCategory,
				setupSkipValue,
			),
		),
	)

	session, ok := wizard.getSession("user1")
	require.True(t, ok)
	assert.Nil(t, session.Draft.NewsCategoryID)
}

func TestSetupWizard_Cancel(t *testing.T) {
	t.Parallel()
	wizard, mockSession := newTestWizard(t)
	ctx := context.Background()

	require.NoError(t, wizard.Start(ctx, setupCommandInteraction("user1")))
	require.NoError(
		t, wizard.HandleInteraction(
			ctx, componentInteraction(
				"user1",
				discordgo.ButtonComponent,
				setupButtonCancel,
			),
		),
	)

	assert.Equal(t, 0, wizard.SessionCount())
	resp := mockSession.lastInteractionResponse()
	assert.Contains(t, resp.Data.Content, "cancelled")

	// nothing was written
	assert.Empty(t, wizard.store.GuildIDs())
}

func TestSetupWizard_MissingSession(t *testing.T) {
	t.Parallel()
	wizard, _ := newTestWizard(t)

	err := wizard.HandleInteraction(
		context.Background(),
		componentInteraction(
			"stranger",
			discordgo.ButtonComponent,
			setupButtonSave,
		),
	)
	assert.ErrorIs(t, err, ErrSetupSessionMissing)
}

func TestSetupWizard_StartSeedsDraftFromExistingConfig(t *testing.T) {
	t.Parallel()
	wizard, _ := newTestWizard(t)
	ctx := context.Background()

	existing := DefaultGuildConfig()
	existing.ServerName = "Existing"
	require.NoError(t, wizard.store.Save("guild1", existing))

	require.NoError(t, wizard.Start(ctx, setupCommandInteraction("user1")))

	session, ok := wizard.getSession("user1")
	require.True(t, ok)
	assert.Equal(t, "Existing", session.Draft.ServerName)
}
