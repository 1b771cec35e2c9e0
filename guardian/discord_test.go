package guardian

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannelMessageSend struct {
	ChannelID string
	Content   string
}

type stubMessageReply struct {
	ChannelID        string
	Content          string
	MessageReference *discordgo.MessageReference
}

type stubInteractionResponse struct {
	Interaction *discordgo.Interaction
	Response    *discordgo.InteractionResponse
}

// mockSessionHandler is a DiscordSessionHandler backed by in-memory maps,
// recording everything sent through it.
type mockSessionHandler struct {
	DiscordSessionHandler

	mu sync.Mutex

	channels        map[string]*discordgo.Channel
	guildChannels   map[string][]*discordgo.Channel
	guildChannelErr error
	channelMessages map[string][]*discordgo.Message
	channelErrs     map[string]error

	messagesSent         []stubChannelMessageSend
	repliesSent          []stubMessageReply
	interactionResponses []stubInteractionResponse
	interactionErr       error
	deletedChannels      []string
	typingChannels       []string
	customStatus         string
	openCalls            int
	closeCalls           int
	registeredCommands   []*discordgo.ApplicationCommand
}

func newMockSessionHandler() *mockSessionHandler {
	return &mockSessionHandler{
		channels:        map[string]*discordgo.Channel{},
		guildChannels:   map[string][]*discordgo.Channel{},
		channelMessages: map[string][]*discordgo.Message{},
		channelErrs:     map[string]error{},
	}
}

func (m *mockSessionHandler) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	return nil
}

func (m *mockSessionHandler) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *mockSessionHandler) AddHandler(any) func() {
	return func() {}
}

func (m *mockSessionHandler) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent = append(
		m.messagesSent, stubChannelMessageSend{
			ChannelID: channelID,
			Content:   message,
		},
	)
	return &discordgo.Message{ChannelID: channelID, Content: message}, nil
}

func (m *mockSessionHandler) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repliesSent = append(
		m.repliesSent, stubMessageReply{
			ChannelID:        channelID,
			Content:          content,
			MessageReference: reference,
		},
	)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (m *mockSessionHandler) ChannelTyping(
	channelID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typingChannels = append(m.typingChannels, channelID)
	return nil
}

func (m *mockSessionHandler) ChannelMessages(
	channelID string,
	limit int,
	_ string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.channelErrs[channelID]; err != nil {
		return nil, err
	}
	messages := m.channelMessages[channelID]
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (m *mockSessionHandler) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel, ok := m.channels[channelID]
	if !ok {
		return nil, discordgo.ErrStateNotFound
	}
	return channel, nil
}

func (m *mockSessionHandler) ChannelDelete(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedChannels = append(m.deletedChannels, channelID)
	return m.channels[channelID], nil
}

func (m *mockSessionHandler) GuildChannels(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guildChannelErr != nil {
		return nil, m.guildChannelErr
	}
	return m.guildChannels[guildID], nil
}

func (m *mockSessionHandler) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registeredCommands = commands
	return commands, nil
}

func (m *mockSessionHandler) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customStatus = status
	return nil
}

func (m *mockSessionHandler) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interactionErr != nil {
		return m.interactionErr
	}
	m.interactionResponses = append(
		m.interactionResponses, stubInteractionResponse{
			Interaction: interaction,
			Response:    resp,
		},
	)
	return nil
}

func (m *mockSessionHandler) SetLogLevel(slog.Level) error {
	return nil
}

func (m *mockSessionHandler) lastInteractionResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.interactionResponses) == 0 {
		return nil
	}
	return m.interactionResponses[len(m.interactionResponses)-1].Response
}

func testLogHandler() slog.Handler {
	lvl := &slog.LevelVar{}
	lvl.Set(slog.LevelError)
	return newLogHandler(lvl)
}

func TestDiscord_AppCommands(t *testing.T) {
	d := &Discord{config: &DiscordConfig{}, logger: slog.Default()}

	setup := d.appCommandSetup()
	assert.Equal(t, DiscordSlashCommandSetup, setup.Name)
	require.NotNil(t, setup.DefaultMemberPermissions)
	assert.Equal(
		t,
		int64(discordgo.PermissionAdministrator),
		*setup.DefaultMemberPermissions,
	)
	require.NotNil(t, setup.DMPermission)
	assert.False(t, *setup.DMPermission)

	closeCmd := d.appCommandClose()
	assert.Equal(t, DiscordSlashCommandClose, closeCmd.Name)
	assert.Nil(t, closeCmd.DefaultMemberPermissions)
}

func TestDiscord_RegisterCommands(t *testing.T) {
	mockSession := newMockSessionHandler()
	d := &Discord{
		config: &DiscordConfig{
			ApplicationID: "app123",
		},
		logger:  slog.Default(),
		session: mockSession,
	}

	created, err := d.registerCommands()
	require.NoError(t, err)
	require.Len(t, created, 2)

	names := []string{created[0].Name, created[1].Name}
	assert.Contains(t, names, DiscordSlashCommandSetup)
	assert.Contains(t, names, DiscordSlashCommandClose)
	assert.Len(t, mockSession.registeredCommands, 2)
}

func TestDiscord_ConnectHandlerSetsStatus(t *testing.T) {
	mockSession := newMockSessionHandler()
	d := &Discord{
		config: &DiscordConfig{
			CustomStatus: "@mention me for help!",
		},
		logger:  slog.Default(),
		session: mockSession,
	}

	handler := d.handlerConnect()
	handler(nil, nil)

	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())
	assert.Equal(t, "@mention me for help!", mockSession.customStatus)

	d.handlerDisconnect()(nil, nil)
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}
