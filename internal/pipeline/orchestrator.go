// Package pipeline drives one incoming message from validation to delivery.
//
// The [Orchestrator] owns the per-message state machine
// (idle, validating, translating, synthesizing, assembling, delivering,
// failed) and serializes work per session: a second message from the same
// session waits until the first has been answered, while different sessions
// run concurrently. Every deck build runs in its own scratch workspace which
// is removed on every exit path.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/essaydeck/internal/config"
	"github.com/MrWong99/essaydeck/internal/deck"
	"github.com/MrWong99/essaydeck/internal/observe"
	"github.com/MrWong99/essaydeck/internal/phrase"
	"github.com/MrWong99/essaydeck/internal/settings"
)

// noticeTimeout bounds the failure notice sent after the request context
// is already done.
const noticeTimeout = 10 * time.Second

// Translator turns a text into the model reply for the session's settings.
type Translator interface {
	Translate(ctx context.Context, text string, s settings.Settings) (string, error)
}

// Assembler voices chat replies and builds decks. *deck.Assembler
// satisfies it.
type Assembler interface {
	BuildChat(ctx context.Context, ws *deck.Workspace, text, style, voice string) (*deck.ChatReply, error)
	BuildDeck(ctx context.Context, ws *deck.Workspace, d phrase.Deck, voice, defaultStyle string, progress deck.Progress) (*deck.Package, error)
}

// SettingsStore reads and writes session settings. *settings.Store
// satisfies it.
type SettingsStore interface {
	Get(ctx context.Context, sessionID string) (settings.Settings, error)
	Set(ctx context.Context, sessionID string, patch settings.Patch) (settings.Settings, error)
	Reset(ctx context.Context, sessionID string) error
}

// Input is one text message from a session.
type Input struct {
	SessionID string
	// MessageID identifies the user's message so replies can reference it.
	MessageID string
	Text      string
}

// Orchestrator runs messages through translation, synthesis, assembly and
// delivery. All methods are safe for concurrent use.
type Orchestrator struct {
	store      SettingsStore
	translator Translator
	assembler  Assembler
	transport  Transport

	limits     atomic.Pointer[config.LimitsConfig]
	scratchDir string
	metrics    *observe.Metrics
	hook       Hook
	locks      *sessionLocks
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLimits sets the input and output limits. Zero fields take defaults.
func WithLimits(l config.LimitsConfig) Option {
	return func(o *Orchestrator) {
		l = l.WithDefaults()
		o.limits.Store(&l)
	}
}

// WithScratchDir sets the parent directory for per-request workspaces.
// Defaults to the system temp directory.
func WithScratchDir(dir string) Option {
	return func(o *Orchestrator) { o.scratchDir = dir }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHook registers a callback for every state transition.
func WithHook(h Hook) Option {
	return func(o *Orchestrator) { o.hook = h }
}

// New creates an Orchestrator. All four collaborators are required.
func New(store SettingsStore, tr Translator, asm Assembler, transport Transport, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if store == nil {
		errs = append(errs, errors.New("settings store is required"))
	}
	if tr == nil {
		errs = append(errs, errors.New("translator is required"))
	}
	if asm == nil {
		errs = append(errs, errors.New("assembler is required"))
	}
	if transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	o := &Orchestrator{
		store:      store,
		translator: tr,
		assembler:  asm,
		transport:  transport,
		scratchDir: os.TempDir(),
		locks:      newSessionLocks(),
	}
	defaults := config.DefaultLimits()
	o.limits.Store(&defaults)
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Limits returns the limits in effect.
func (o *Orchestrator) Limits() config.LimitsConfig { return *o.limits.Load() }

// SetLimits swaps the limits. Requests already running keep the old ones.
func (o *Orchestrator) SetLimits(l config.LimitsConfig) {
	l = l.WithDefaults()
	o.limits.Store(&l)
}

// ─── Text messages ───────────────────────────────────────────────────────────

// HandleText runs in through the pipeline and delivers the result to its
// session. On failure the user is told what went wrong (validation) or that
// something failed, and the classified error is returned; see [Kind].
func (o *Orchestrator) HandleText(ctx context.Context, in Input) (err error) {
	unlock, err := o.locks.lock(ctx, in.SessionID)
	if err != nil {
		return fmt.Errorf("pipeline: wait for session: %w", err)
	}
	defer unlock()

	limits := o.Limits()
	ctx, cancel := context.WithTimeout(ctx, limits.RequestTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "pipeline.HandleText",
		trace.WithAttributes(attribute.String("session.id", in.SessionID)))
	defer span.End()

	o.metrics.ActiveRequests.Add(ctx, 1)
	defer o.metrics.ActiveRequests.Add(ctx, -1)

	log := observe.Logger(ctx).With("session", in.SessionID, "message", in.MessageID)
	m := &machine{sessionID: in.SessionID, messageID: in.MessageID, hook: o.hook, log: log}
	mode := "unknown"

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrInternal, p)
		}
		kind := Kind(err)
		outcome := "ok"
		if err != nil {
			outcome = string(kind)
			m.fail(err)
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			o.notifyFailure(ctx, in, err)
			if kind == KindValidation {
				log.Info("pipeline: rejected", "reason", asValidation(err).Reason)
			} else {
				log.Error("pipeline: request failed", "kind", kind, "err", err)
			}
		}
		m.reset()
		o.metrics.RecordRequest(ctx, mode, outcome)
	}()

	if err := m.to(StateValidating); err != nil {
		return err
	}
	text := strings.TrimSpace(in.Text)
	if strings.HasPrefix(text, "/") {
		if err := m.to(StateDelivering); err != nil {
			return err
		}
		mode = "help"
		if err := o.transport.SendText(ctx, in.SessionID, in.MessageID, HelpText(limits)); err != nil {
			return fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		return nil
	}
	if err := validateInput(text, limits); err != nil {
		return err
	}

	s, err := o.store.Get(ctx, in.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSettings, err)
	}
	mode = string(s.Mode)
	span.SetAttributes(attribute.String("essaydeck.mode", mode), attribute.String("essaydeck.language", string(s.Language)))

	if err := m.to(StateTranslating); err != nil {
		return err
	}
	o.progress(ctx, in.SessionID, ActivityTyping)
	tctx, tspan := observe.StartSpan(ctx, "pipeline.translate")
	reply, err := o.translator.Translate(tctx, text, s)
	endSpan(tspan, err)
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(reply) > limits.MaxReplyChars {
		return validationReplyTooLong()
	}

	ws, err := deck.OpenWorkspace(o.scratchDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			log.Warn("pipeline: failed to remove workspace", "dir", ws.Dir(), "err", cerr)
		}
	}()

	if s.Mode == settings.ModeDeck {
		return o.runDeck(ctx, m, in, s, reply, ws, limits)
	}
	return o.runChat(ctx, m, in, s, reply, ws)
}

func (o *Orchestrator) runChat(ctx context.Context, m *machine, in Input, s settings.Settings, reply string, ws *deck.Workspace) error {
	chat := phrase.ParseChat(reply)
	if chat.Text == "" {
		return validationNoPhrases()
	}
	style := chat.Tone
	if style == "" {
		style = s.StyleHint
	}

	if err := m.to(StateSynthesizing); err != nil {
		return err
	}
	o.progress(ctx, in.SessionID, ActivityRecordingVoice)
	bctx, bspan := observe.StartSpan(ctx, "pipeline.build_chat")
	res, err := o.assembler.BuildChat(bctx, ws, chat.Text, style, string(s.Voice))
	endSpan(bspan, err)
	if err != nil {
		return err
	}

	if err := m.to(StateAssembling); err != nil {
		return err
	}
	f, err := os.Open(res.Audio.Path)
	if err != nil {
		return fmt.Errorf("%w: open clip: %w", deck.ErrAssembly, err)
	}
	defer f.Close()

	if err := m.to(StateDelivering); err != nil {
		return err
	}
	audio := Attachment{Filename: res.Audio.Filename, ContentType: "audio/mpeg", Data: f}
	dctx, dspan := observe.StartSpan(ctx, "pipeline.deliver")
	err = o.transport.SendVoice(dctx, in.SessionID, in.MessageID, audio, truncateRunes(res.Text, MaxCaptionRunes))
	endSpan(dspan, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func (o *Orchestrator) runDeck(ctx context.Context, m *machine, in Input, s settings.Settings, reply string, ws *deck.Workspace, limits config.LimitsConfig) error {
	d := phrase.ParseDeck(reply)
	if err := validateDeck(d, limits); err != nil {
		return err
	}

	if err := m.to(StateSynthesizing); err != nil {
		return err
	}
	o.progress(ctx, in.SessionID, ActivityRecordingVoice)

	var stateErr error
	progress := func(done, total int) {
		observe.Logger(ctx).Debug("pipeline: phrase voiced", "session", in.SessionID, "done", done, "total", total)
		if done == total && stateErr == nil {
			stateErr = m.to(StateAssembling)
			o.progress(ctx, in.SessionID, ActivityUploading)
		}
	}
	bctx, bspan := observe.StartSpan(ctx, "pipeline.build_deck",
		trace.WithAttributes(attribute.Int("essaydeck.phrases", len(d.Records))))
	pkg, err := o.assembler.BuildDeck(bctx, ws, d, string(s.Voice), s.StyleHint, progress)
	endSpan(bspan, err)
	if err != nil {
		return err
	}
	if stateErr != nil {
		return stateErr
	}
	if m.state != StateAssembling {
		if err := m.to(StateAssembling); err != nil {
			return err
		}
	}

	if err := m.to(StateDelivering); err != nil {
		return err
	}
	doc := Attachment{Filename: pkg.Filename, ContentType: "application/octet-stream", Data: bytes.NewReader(pkg.Archive)}
	dctx, dspan := observe.StartSpan(ctx, "pipeline.deliver")
	err = o.transport.SendDocument(dctx, in.SessionID, in.MessageID, doc, deckCaption(pkg))
	endSpan(dspan, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validateInput(text string, l config.LimitsConfig) error {
	n := utf8.RuneCountInString(text)
	switch {
	case n < l.MinInputChars:
		return validationTooShort(l.MinInputChars)
	case n > l.MaxInputChars:
		return validationTooLong(l.MaxInputChars)
	}
	return nil
}

func validateDeck(d phrase.Deck, l config.LimitsConfig) error {
	if len(d.Records) == 0 {
		return validationNoPhrases()
	}
	if len(d.Records) > l.MaxPhrases {
		return validationTooManyPhrases(l.MaxPhrases)
	}
	for _, r := range d.Records {
		if utf8.RuneCountInString(r.Original) > l.MaxPhraseChars || utf8.RuneCountInString(r.Translated) > l.MaxPhraseChars {
			return validationPhraseTooLong(l.MaxPhraseChars)
		}
	}
	return nil
}

func (o *Orchestrator) progress(ctx context.Context, sessionID string, a Activity) {
	if err := o.transport.Progress(ctx, sessionID, a); err != nil {
		observe.Logger(ctx).Debug("pipeline: progress indicator failed", "session", sessionID, "activity", a, "err", err)
	}
}

// notifyFailure tells the user the request failed. It runs on a detached
// context because ctx may be the reason for the failure.
func (o *Orchestrator) notifyFailure(ctx context.Context, in Input, err error) {
	if Kind(err) == KindDelivery {
		// The transport just failed; another send is unlikely to work.
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	text := failureText(err, observe.Reference(ctx))
	if serr := o.transport.SendText(nctx, in.SessionID, in.MessageID, text); serr != nil {
		slog.Warn("pipeline: failed to send failure notice", "session", in.SessionID, "err", serr)
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

// HandleCommand applies cmd to the session's settings and returns the
// settings afterwards. Invalid values are rejected with a
// [*ValidationError] and leave the stored settings unchanged. Commands wait
// for an in-flight message of the same session to finish.
func (o *Orchestrator) HandleCommand(ctx context.Context, sessionID string, cmd Command) (CommandResult, error) {
	unlock, err := o.locks.lock(ctx, sessionID)
	if err != nil {
		return CommandResult{}, fmt.Errorf("pipeline: wait for session: %w", err)
	}
	defer unlock()

	observe.Logger(ctx).Debug("pipeline: command", "session", sessionID, "command", cmd.Kind)

	switch cmd.Kind {
	case CommandStart:
		if err := o.store.Reset(ctx, sessionID); err != nil {
			return CommandResult{}, fmt.Errorf("%w: %w", ErrSettings, err)
		}
		s, err := o.get(ctx, sessionID)
		if err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Settings: s, Text: WelcomeText(s, o.Limits())}, nil

	case CommandHelp:
		s, err := o.get(ctx, sessionID)
		if err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Settings: s, Text: HelpText(o.Limits())}, nil

	case CommandShowSettings:
		s, err := o.get(ctx, sessionID)
		if err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Settings: s, Text: SettingsSummary(s)}, nil

	case CommandToggleMode:
		s, err := o.get(ctx, sessionID)
		if err != nil {
			return CommandResult{}, err
		}
		next := s.Mode.Toggle()
		return o.set(ctx, sessionID, settings.Patch{Mode: &next})

	case CommandSetMode:
		return o.set(ctx, sessionID, settings.Patch{Mode: &cmd.Mode})
	case CommandSetLanguage:
		return o.set(ctx, sessionID, settings.Patch{Language: &cmd.Language})
	case CommandSetVoice:
		return o.set(ctx, sessionID, settings.Patch{Voice: &cmd.Voice})
	case CommandSetStyle:
		return o.set(ctx, sessionID, settings.Patch{StyleHint: &cmd.Style})

	default:
		return CommandResult{}, fmt.Errorf("%w: unknown command %s", ErrInternal, cmd.Kind)
	}
}

func (o *Orchestrator) get(ctx context.Context, sessionID string) (settings.Settings, error) {
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("%w: %w", ErrSettings, err)
	}
	return s, nil
}

func (o *Orchestrator) set(ctx context.Context, sessionID string, p settings.Patch) (CommandResult, error) {
	s, err := o.store.Set(ctx, sessionID, p)
	if errors.Is(err, settings.ErrInvalidValue) {
		return CommandResult{}, &ValidationError{Reason: "invalid_setting", Message: "That option is not available.", Err: err}
	}
	if err != nil {
		return CommandResult{}, fmt.Errorf("%w: %w", ErrSettings, err)
	}
	return CommandResult{Settings: s, Text: SettingsSummary(s)}, nil
}
