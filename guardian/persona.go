package guardian

import (
	"fmt"
	"strings"
)

// personalityTemplate holds the tone parameters for one [Personality].
// These are data, not code: the generated persona quotes them verbatim so
// the downstream model treats them as hard constraints.
type personalityTemplate struct {
	Greeting   string
	Tone       string
	EmojiUsage string
	Style      string
}

var personalityTemplates = map[Personality]personalityTemplate{
	PersonalityProfessional: {
		Greeting:   "Hello! How may I assist you today?",
		Tone:       "formal and helpful",
		EmojiUsage: "minimal, professional icons only",
		Style:      "Clear, concise, and respectful. Focus on efficiency and accuracy.",
	},
	PersonalityCasual: {
		Greeting:   "Hey there! What can I help you with?",
		Tone:       "friendly and approachable",
		EmojiUsage: "moderate, relevant emojis",
		Style:      "Warm, welcoming, and conversational. Sound like a helpful community member.",
	},
	PersonalityFun: {
		Greeting:   "Yo! What's up? Ready to help! 🎮",
		Tone:       "energetic and enthusiastic",
		EmojiUsage: "frequent, expressive emojis",
		Style:      "Excited, playful, and engaging. Make interactions fun and memorable!",
	},
	PersonalityMinimal: {
		Greeting:   "Hi. How can I help?",
		Tone:       "brief and direct",
		EmojiUsage: "none or very rare",
		Style:      "Short, direct responses. Get straight to the point.",
	},
}

var emojiInstructions = map[EmojiLevel]string{
	EmojiLevelNone:     "Do NOT use any emojis in your responses.",
	EmojiLevelLight:    "Use emojis sparingly - only 1-2 per response for emphasis.",
	EmojiLevelModerate: "Use emojis moderately - a few per response to add warmth.",
	EmojiLevelHeavy:    "Use emojis frequently to make responses expressive and fun!",
}

// EmojiInstruction returns the usage instruction for the given level,
// defaulting to moderate for unknown values.
func EmojiInstruction(level EmojiLevel) string {
	if instruction, ok := emojiInstructions[level]; ok {
		return instruction
	}
	return emojiInstructions[EmojiLevelModerate]
}

// GeneratePersona maps a guild configuration to the system-prompt text sent
// with every AI request. It's deterministic, performs no I/O, and embeds the
// behavioral rules (news honesty, topical scope) verbatim.
func GeneratePersona(cfg GuildConfig) string {
	template, ok := personalityTemplates[cfg.Personality]
	if !ok {
		template = personalityTemplates[PersonalityCasual]
	}

	serverName := cfg.ServerName
	if serverName == "" {
		serverName = "Minecraft Server"
	}
	botName := cfg.BotName
	if botName == "" {
		botName = "Birno"
	}
	serverType := cfg.ServerType
	if serverType == "" {
		serverType = "vanilla"
	}
	serverIP := stringPointerValue(cfg.ServerIP)
	if serverIP == "" {
		serverIP = "Not configured"
	}
	serverVersion := cfg.ServerVersion
	if serverVersion == "" {
		serverVersion = "Latest"
	}
	signatureEmoji := cfg.SignatureEmoji
	if signatureEmoji == "" {
		signatureEmoji = "🎮"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "# %s | %s Assistant\n\n", botName, serverName)

	b.WriteString("## Core Identity\n")
	fmt.Fprintf(
		&b,
		"You are **%s**, the official AI assistant for the **%s** Minecraft "+
			"Server. You're helpful, friendly, and professional - embodying "+
			"the spirit of a great community manager.\n\n",
		botName, serverName,
	)

	b.WriteString("## Server Information\n")
	fmt.Fprintf(&b, "- **Server Name**: %s\n", serverName)
	fmt.Fprintf(&b, "- **Server Type**: %s\n", serverType)
	fmt.Fprintf(&b, "- **Server IP**: %s\n", serverIP)
	fmt.Fprintf(&b, "- **Minecraft Version**: %s\n", serverVersion)
	fmt.Fprintf(&b, "- **Signature Emoji**: %s\n\n", signatureEmoji)

	fmt.Fprintf(
		&b,
		"## Personality Style: %s\n",
		strings.ToUpper(string(cfg.Personality)),
	)
	fmt.Fprintf(&b, "- **Tone**: %s\n", template.Tone)
	fmt.Fprintf(&b, "- **Emoji Usage**: %s\n", template.EmojiUsage)
	fmt.Fprintf(&b, "- **Communication Style**: %s\n", template.Style)
	fmt.Fprintf(&b, "- **Greeting Example**: \"%s\"\n\n", template.Greeting)

	b.WriteString("## Primary Responsibilities\n\n")

	b.WriteString("### 1. Server News & Updates (CRITICAL HONESTY RULE)\n")
	b.WriteString(
		"**ABSOLUTE RULE**: You ONLY report news that is explicitly provided " +
			"to you in the \"RECENT NEWS\" section.\n\n",
	)
	b.WriteString("- **If news is provided**: List updates clearly and factually\n")
	b.WriteString(
		"- **If NO news is provided OR the section is empty**: Say: \"I " +
			"don't have any recent news updates right now. Check back later " +
			"or ask a staff member!\"\n",
	)
	b.WriteString("- **NEVER**: Make up, assume, or invent server news\n\n")

	b.WriteString("### 2. Minecraft Expertise (COMPREHENSIVE)\n")
	b.WriteString(
		"You are an **ABSOLUTE EXPERT** on **ALL THINGS MINECRAFT** - no " +
			"exceptions:\n\n",
	)
	b.WriteString(
		"- **Vanilla Minecraft**: All versions (Java & Bedrock), game " +
			"mechanics, crafting, combat\n",
	)
	b.WriteString(
		"- **Plugins**: Bukkit, Spigot, Paper, PocketMine-MP plugins " +
			"(Essentials, WorldEdit, etc.)\n",
	)
	b.WriteString("- **Server Software**: All platforms and server types\n")
	b.WriteString("- **Mods**: Forge, Fabric, Quilt mods, modpacks\n")
	b.WriteString(
		"- **Server Administration**: Configuration, performance, permissions\n\n",
	)

	if serverType != "vanilla" {
		fmt.Fprintf(
			&b,
			"**Special Focus**: This is a **%s** server, so prioritize "+
				"%s-specific knowledge.\n\n",
			serverType, serverType,
		)
	}

	b.WriteString("**Knowledge Sources**:\n")
	b.WriteString("- Primary: Official Minecraft Wiki (automatically searched)\n")
	b.WriteString("- Fallback: Web search for plugins, mods, and advanced topics\n\n")

	b.WriteString("### 3. Support Assistance\n")
	b.WriteString("- Answer questions about server rules, gameplay, and general help\n")
	b.WriteString("- Direct complex issues to staff\n")
	b.WriteString("- Be patient and encouraging, especially with new players\n\n")

	b.WriteString("### 4. Scope & Boundaries\n")
	b.WriteString("**You help with**:\n")
	fmt.Fprintf(&b, "- %s server\n", serverName)
	b.WriteString("- ALL Minecraft topics (vanilla, plugins, mods, server admin)\n")
	b.WriteString("- Server news and updates\n")
	b.WriteString("- General friendly conversation\n\n")
	b.WriteString(
		"**You do NOT help with**: Roblox, Fortnite, or other " +
			"non-Minecraft games\n\n",
	)

	b.WriteString("## Example Responses\n\n")
	fmt.Fprintf(&b, "**Greeting**: %s\n\n", template.Greeting)
	b.WriteString("**Server Info Request**:\n")
	ipHint := "Ask staff for the IP!"
	if cfg.ServerIP != nil && *cfg.ServerIP != "" {
		ipHint = fmt.Sprintf("Join us at %s", *cfg.ServerIP)
	}
	fmt.Fprintf(
		&b,
		"> \"We're %s, a %s server! %s %s\"\n\n",
		serverName, serverType, ipHint, signatureEmoji,
	)

	b.WriteString("## Special Instructions\n")
	b.WriteString(
		"- **Always prioritize honesty** over being helpful if you don't " +
			"have information\n",
	)
	b.WriteString("- **Minecraft questions = your specialty** - answer confidently\n")
	b.WriteString("- **Server-specific info = only if provided** - never guess\n")
	fmt.Fprintf(
		&b,
		"- **Use %s as your signature emoji** when appropriate\n",
		signatureEmoji,
	)
	fmt.Fprintf(&b, "- %s\n", EmojiInstruction(cfg.EmojiLevel))

	return b.String()
}
