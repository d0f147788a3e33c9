package pipeline

import (
	"fmt"

	"github.com/MrWong99/essaydeck/internal/settings"
)

// CommandKind names a session command.
type CommandKind int

const (
	// CommandStart clears the session's settings back to defaults.
	CommandStart CommandKind = iota + 1
	CommandHelp
	CommandShowSettings
	CommandSetMode
	CommandToggleMode
	CommandSetLanguage
	CommandSetVoice
	CommandSetStyle
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandHelp:
		return "help"
	case CommandShowSettings:
		return "settings"
	case CommandSetMode:
		return "set_mode"
	case CommandToggleMode:
		return "toggle_mode"
	case CommandSetLanguage:
		return "set_language"
	case CommandSetVoice:
		return "set_voice"
	case CommandSetStyle:
		return "set_style"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a settings or navigation action from a session. Only the field
// matching Kind is read.
type Command struct {
	Kind     CommandKind
	Mode     settings.Mode
	Language settings.Language
	Voice    settings.Voice
	Style    string
}

// SetMode returns a command switching the session to m.
func SetMode(m settings.Mode) Command { return Command{Kind: CommandSetMode, Mode: m} }

// SetLanguage returns a command switching the target language to l.
func SetLanguage(l settings.Language) Command {
	return Command{Kind: CommandSetLanguage, Language: l}
}

// SetVoice returns a command switching the narrator voice to v.
func SetVoice(v settings.Voice) Command { return Command{Kind: CommandSetVoice, Voice: v} }

// SetStyle returns a command replacing the delivery hint. A blank style
// restores the default.
func SetStyle(style string) Command { return Command{Kind: CommandSetStyle, Style: style} }

// CommandResult is what the transport shows after a command.
type CommandResult struct {
	Settings settings.Settings
	// Text is a ready-made reply for commands that have one (start, help).
	Text string
}
