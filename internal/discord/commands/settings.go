// Package commands implements the bot's slash commands and the settings
// panel buttons.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/essaydeck/internal/discord"
	"github.com/MrWong99/essaydeck/internal/pipeline"
	"github.com/MrWong99/essaydeck/internal/settings"
)

// Button custom ids.
const (
	idToggleMode = "settings:mode"
	idLanguages  = "settings:lang"
	idLangPrefix = "settings:lang:"
	idBack       = "settings:back"
	idVoice      = "settings:voice"
)

// commandTimeout bounds a settings read or write.
const commandTimeout = 10 * time.Second

// maxChoices is Discord's limit on option choices.
const maxChoices = 25

// Runner executes session commands. *pipeline.Orchestrator satisfies it.
type Runner interface {
	HandleCommand(ctx context.Context, sessionID string, cmd pipeline.Command) (pipeline.CommandResult, error)
}

// SettingsCommands serves /start, /help, /settings, /voice and /style.
type SettingsCommands struct {
	runner  Runner
	catalog func() settings.Catalog
}

// NewSettingsCommands creates the handlers. catalog is consulted on every
// panel render so reloaded language lists show up without a restart.
func NewSettingsCommands(runner Runner, catalog func() settings.Catalog) *SettingsCommands {
	return &SettingsCommands{runner: runner, catalog: catalog}
}

// Register adds all commands and buttons to router.
func (sc *SettingsCommands) Register(router *discord.CommandRouter) {
	for _, def := range sc.Definitions() {
		switch def.Name {
		case "start":
			router.RegisterCommand(def, sc.handleStart)
		case "help":
			router.RegisterCommand(def, sc.handleHelp)
		case "settings":
			router.RegisterCommand(def, sc.handleSettings)
		case "voice":
			router.RegisterCommand(def, sc.handleVoice)
		case "style":
			router.RegisterCommand(def, sc.handleStyle)
		}
	}
	router.RegisterComponent(idToggleMode, sc.handleToggleMode)
	router.RegisterComponent(idLanguages, sc.handleLanguages)
	router.RegisterComponentPrefix(idLangPrefix, sc.handlePickLanguage)
	router.RegisterComponent(idBack, sc.handleBack)
	router.RegisterComponent(idVoice, sc.handlePickVoice)
}

// Definitions returns the slash command definitions.
func (sc *SettingsCommands) Definitions() []*discordgo.ApplicationCommand {
	voice := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "name",
		Description: "Narrator voice",
		Required:    true,
	}
	if voices := sc.catalog().Voices; len(voices) <= maxChoices {
		for _, v := range voices {
			voice.Choices = append(voice.Choices, &discordgo.ApplicationCommandOptionChoice{Name: string(v), Value: string(v)})
		}
	}

	return []*discordgo.ApplicationCommand{
		{Name: "start", Description: "Reset your settings and show the introduction"},
		{Name: "help", Description: "Explain how the bot works"},
		{Name: "settings", Description: "Choose the mode and the target language"},
		{Name: "voice", Description: "Pick the narrator voice", Options: []*discordgo.ApplicationCommandOption{voice}},
		{
			Name:        "style",
			Description: "Tell the narrator how to read (leave empty to reset)",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "text",
				Description: "e.g. slow and cheerful",
				MaxLength:   settings.MaxStyleHintRunes,
			}},
		},
	}
}

// ─── Slash commands ─────────────────────────────────────────────────────────

func (sc *SettingsCommands) handleStart(r discord.Responder, i *discordgo.InteractionCreate) {
	res, ok := sc.run(r, i, pipeline.Command{Kind: pipeline.CommandStart})
	if ok {
		discord.RespondEphemeral(r, i, res.Text)
	}
}

func (sc *SettingsCommands) handleHelp(r discord.Responder, i *discordgo.InteractionCreate) {
	res, ok := sc.run(r, i, pipeline.Command{Kind: pipeline.CommandHelp})
	if ok {
		discord.RespondEphemeral(r, i, res.Text)
	}
}

func (sc *SettingsCommands) handleSettings(r discord.Responder, i *discordgo.InteractionCreate) {
	res, ok := sc.run(r, i, pipeline.Command{Kind: pipeline.CommandShowSettings})
	if ok {
		discord.RespondPanel(r, i, panelEmbed(res.Settings), mainComponents(res.Settings, sc.catalog().Voices))
	}
}

func (sc *SettingsCommands) handleVoice(r discord.Responder, i *discordgo.InteractionCreate) {
	name := optionString(i, "name")
	res, ok := sc.run(r, i, pipeline.SetVoice(settings.Voice(name)))
	if ok {
		discord.RespondEphemeral(r, i, "Voice set to **"+string(res.Settings.Voice)+"**.")
	}
}

func (sc *SettingsCommands) handleStyle(r discord.Responder, i *discordgo.InteractionCreate) {
	text := optionString(i, "text")
	res, ok := sc.run(r, i, pipeline.SetStyle(text))
	if ok {
		discord.RespondEphemeral(r, i, "Reading style: *"+res.Settings.StyleHint+"*")
	}
}

// ─── Panel buttons ──────────────────────────────────────────────────────────

func (sc *SettingsCommands) handleToggleMode(r discord.Responder, i *discordgo.InteractionCreate) {
	res, ok := sc.run(r, i, pipeline.Command{Kind: pipeline.CommandToggleMode})
	if ok {
		sc.updateMain(r, i, res.Settings)
	}
}

func (sc *SettingsCommands) handleLanguages(r discord.Responder, i *discordgo.InteractionCreate) {
	res, ok := sc.run(r, i, pipeline.Command{Kind: pipeline.CommandShowSettings})
	if ok {
		discord.UpdatePanel(r, i, panelEmbed(res.Settings), languageComponents(res.Settings, sc.catalog().Languages))
	}
}

func (sc *SettingsCommands) handlePickLanguage(r discord.Responder, i *discordgo.InteractionCreate) {
	code := strings.TrimPrefix(i.MessageComponentData().CustomID, idLangPrefix)
	res, ok := sc.run(r, i, pipeline.SetLanguage(settings.Language(code)))
	if ok {
		sc.updateMain(r, i, res.Settings)
	}
}

func (sc *SettingsCommands) handlePickVoice(r discord.Responder, i *discordgo.InteractionCreate) {
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		return
	}
	res, ok := sc.run(r, i, pipeline.SetVoice(settings.Voice(values[0])))
	if ok {
		sc.updateMain(r, i, res.Settings)
	}
}

func (sc *SettingsCommands) handleBack(r discord.Responder, i *discordgo.InteractionCreate) {
	res, ok := sc.run(r, i, pipeline.Command{Kind: pipeline.CommandShowSettings})
	if ok {
		sc.updateMain(r, i, res.Settings)
	}
}

func (sc *SettingsCommands) updateMain(r discord.Responder, i *discordgo.InteractionCreate, s settings.Settings) {
	discord.UpdatePanel(r, i, panelEmbed(s), mainComponents(s, sc.catalog().Voices))
}

// run executes cmd for the interaction's channel. On failure it responds
// to the user and returns false.
func (sc *SettingsCommands) run(r discord.Responder, i *discordgo.InteractionCreate, cmd pipeline.Command) (pipeline.CommandResult, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	sessionID := discord.SessionID(i)
	res, err := sc.runner.HandleCommand(ctx, sessionID, cmd)
	if err == nil {
		return res, true
	}

	var ve *pipeline.ValidationError
	if errors.As(err, &ve) {
		discord.RespondEphemeral(r, i, ve.Message)
		return res, false
	}
	slog.Error("discord: command failed", "command", cmd.Kind, "session", sessionID, "user", interactionUserID(i), "err", err)
	discord.RespondEphemeral(r, i, "Something went wrong, please try again.")
	return res, false
}

// ─── Rendering ──────────────────────────────────────────────────────────────

func panelEmbed(s settings.Settings) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Settings",
		Description: pipeline.SettingsSummary(s),
		Color:       0x5865F2,
	}
}

// mainComponents renders the mode and language buttons and, when the voice
// list fits into one select menu, the voice picker.
func mainComponents(s settings.Settings, voices []settings.Voice) []discordgo.MessageComponent {
	label := "Switch to deck mode"
	if s.Mode == settings.ModeDeck {
		label = "Switch to chat mode"
	}
	rows := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: label, Style: discordgo.PrimaryButton, CustomID: idToggleMode},
			discordgo.Button{
				Label:    "Language",
				Style:    discordgo.SecondaryButton,
				CustomID: idLanguages,
				Emoji:    &discordgo.ComponentEmoji{Name: s.Language.Flag()},
			},
		}},
	}
	if len(voices) == 0 || len(voices) > maxChoices {
		return rows
	}
	options := make([]discordgo.SelectMenuOption, 0, len(voices))
	for _, v := range voices {
		options = append(options, discordgo.SelectMenuOption{
			Label:   string(v),
			Value:   string(v),
			Default: v == s.Voice,
		})
	}
	return append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.SelectMenu{
			MenuType:    discordgo.StringSelectMenu,
			CustomID:    idVoice,
			Placeholder: "Narrator voice",
			Options:     options,
		},
	}})
}

// languageComponents lays the languages out five per row, followed by a
// back button. Discord allows five rows, so at most 20 languages show.
func languageComponents(s settings.Settings, languages []settings.Language) []discordgo.MessageComponent {
	const perRow, maxRows = 5, 4

	var rows []discordgo.MessageComponent
	var row []discordgo.MessageComponent
	for _, l := range languages {
		if len(rows) == maxRows {
			break
		}
		style := discordgo.SecondaryButton
		if l == s.Language {
			style = discordgo.SuccessButton
		}
		row = append(row, discordgo.Button{
			Label:    l.Name(),
			Style:    style,
			CustomID: idLangPrefix + string(l),
			Emoji:    &discordgo.ComponentEmoji{Name: l.Flag()},
		})
		if len(row) == perRow {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 && len(rows) < maxRows {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	return append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Back", Style: discordgo.SecondaryButton, CustomID: idBack},
	}})
}

func optionString(i *discordgo.InteractionCreate, name string) string {
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == name {
			return o.StringValue()
		}
	}
	return ""
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
