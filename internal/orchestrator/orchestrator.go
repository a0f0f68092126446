// Package orchestrator runs one chat submission at a time through a state
// machine: record the query, extract the attachment, ask the model, record
// the reply or the failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/qmuntal/stateless"

	"github.com/comigor/zapup-go/internal/conversation"
	apperrors "github.com/comigor/zapup-go/internal/errors"
	"github.com/comigor/zapup-go/internal/ingest"
	"github.com/comigor/zapup-go/internal/logger"
)

// FSM States
type State string

const (
	StateIdle                         State = "Idle"
	StateIdleErrorSurfaced            State = "IdleErrorSurfaced" // substate of Idle
	StateSubmitting                   State = "Submitting"
	StateAwaitingAttachmentExtraction State = "AwaitingAttachmentExtraction" // substate of Submitting
	StateAwaitingModelReply           State = "AwaitingModelReply"           // substate of Submitting
)

// FSM Triggers
type Trigger string

const (
	TriggerSubmit       Trigger = "Submit"
	TriggerExtract      Trigger = "Extract"
	TriggerRequestReply Trigger = "RequestReply"
	TriggerReplied      Trigger = "Replied"
	TriggerFail         Trigger = "Fail"
)

// Rejections. Neither changes state nor touches the transcript.
var (
	ErrEmptyQuery = errors.New("query is empty")
	ErrBusy       = errors.New("a query is already in flight")
)

// ReplySender is the model gateway.
type ReplySender interface {
	Send(ctx context.Context, modelID, prompt string) (string, error)
}

// Extractor is the file ingestor.
type Extractor interface {
	Extract(ctx context.Context, att ingest.Attachment) (string, error)
}

// ModelSource yields the model selected for the session.
type ModelSource interface {
	Current() string
}

// EventKind tells observers what changed.
type EventKind int

const (
	MessageAppended EventKind = iota
	TypingChanged
)

// Event is delivered synchronously to the observer, from the submitting goroutine.
type Event struct {
	Kind    EventKind
	Message conversation.Message
	Typing  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers fn for transcript and typing changes.
func WithObserver(fn func(Event)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// submission is the state of the one query in flight.
type submission struct {
	query      string
	model      string
	attachment *ingest.Attachment
	prompt     string
	reply      string
	err        error
	result     conversation.Message
}

// Orchestrator coordinates one session's submissions.
type Orchestrator struct {
	gateway   ReplySender
	ingestor  Extractor
	store     conversation.Store
	selection ModelSource
	observer  func(Event)

	fsm      *stateless.StateMachine
	inFlight atomic.Bool
	typing   atomic.Bool
	sub      *submission // owned by the goroutine holding inFlight

	mu     sync.Mutex
	draft  string
	staged *ingest.Attachment
}

// New creates an Orchestrator in StateIdle.
func New(gateway ReplySender, ingestor Extractor, store conversation.Store, selection ModelSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:   gateway,
		ingestor:  ingestor,
		store:     store,
		selection: selection,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.fsm = o.newStateMachine()
	return o
}

func (o *Orchestrator) newStateMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	// State: Idle
	// Entered from AwaitingModelReply with a reply: record it.
	fsm.Configure(StateIdle).
		OnEntryFrom(TriggerReplied, o.recordReply).
		Permit(TriggerSubmit, StateSubmitting, hasQuery)

	// State: IdleErrorSurfaced
	// Idle after a failure; the failure is already turned into a transcript entry.
	fsm.Configure(StateIdleErrorSurfaced).
		SubstateOf(StateIdle).
		OnEntry(o.recordFailure)

	// State: Submitting
	// Action: record the user message, clear the input, show typing.
	// Leaving it, from any substate, always hides typing.
	fsm.Configure(StateSubmitting).
		OnEntry(o.startSubmission).
		OnExit(o.settle).
		Permit(TriggerExtract, StateAwaitingAttachmentExtraction).
		Permit(TriggerRequestReply, StateAwaitingModelReply).
		Permit(TriggerFail, StateIdleErrorSurfaced)

	// State: AwaitingAttachmentExtraction
	fsm.Configure(StateAwaitingAttachmentExtraction).
		SubstateOf(StateSubmitting).
		OnEntry(o.extractAttachment)

	// State: AwaitingModelReply
	fsm.Configure(StateAwaitingModelReply).
		SubstateOf(StateSubmitting).
		OnEntry(o.requestReply).
		Permit(TriggerReplied, StateIdle)

	return fsm
}

func hasQuery(_ context.Context, args ...any) bool {
	if len(args) == 0 {
		return false
	}
	q, _ := args[0].(string)
	return strings.TrimSpace(q) != ""
}

// Submit sends query, with an optional attachment, to the selected model and
// returns the transcript entry that concluded it (assistant reply or error).
// Only ErrEmptyQuery and ErrBusy are returned as errors; every other failure
// ends up in the transcript.
func (o *Orchestrator) Submit(ctx context.Context, query string, att *ingest.Attachment) (conversation.Message, error) {
	if strings.TrimSpace(query) == "" {
		return conversation.Message{}, ErrEmptyQuery
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return conversation.Message{}, ErrBusy
	}
	defer o.inFlight.Store(false)

	sub := &submission{query: query, model: o.selection.Current(), attachment: att}
	o.sub = sub
	defer func() { o.sub = nil }()

	if err := o.fsm.FireCtx(ctx, TriggerSubmit, query); err != nil {
		logger.L.Error("FSM fire error", "trigger", TriggerSubmit, "error", err)
		return conversation.Message{}, fmt.Errorf("submit: %w", err)
	}
	return sub.result, nil
}

// SubmitDraft submits the current draft together with the staged attachment.
// The attachment is discarded once the submission has been accepted.
func (o *Orchestrator) SubmitDraft(ctx context.Context) (conversation.Message, error) {
	o.mu.Lock()
	query, att := o.draft, o.staged
	o.mu.Unlock()

	msg, err := o.Submit(ctx, query, att)
	if err != nil {
		return msg, err
	}
	o.mu.Lock()
	if o.staged == att {
		o.staged = nil
	}
	o.mu.Unlock()
	return msg, nil
}

// SetDraft replaces the pending input text.
func (o *Orchestrator) SetDraft(text string) {
	o.mu.Lock()
	o.draft = text
	o.mu.Unlock()
}

// Draft returns the pending input text.
func (o *Orchestrator) Draft() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draft
}

// Attach stages att for the next SubmitDraft.
func (o *Orchestrator) Attach(att ingest.Attachment) {
	o.mu.Lock()
	o.staged = &att
	o.mu.Unlock()
}

// Detach drops the staged attachment.
func (o *Orchestrator) Detach() {
	o.mu.Lock()
	o.staged = nil
	o.mu.Unlock()
}

// Staged returns the staged attachment, if any.
func (o *Orchestrator) Staged() (ingest.Attachment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.staged == nil {
		return ingest.Attachment{}, false
	}
	return *o.staged, true
}

// Busy reports whether a submission is in flight; submitting is disabled meanwhile.
func (o *Orchestrator) Busy() bool { return o.inFlight.Load() }

// Typing reports whether the typing indicator is shown.
func (o *Orchestrator) Typing() bool { return o.typing.Load() }

// State returns the current FSM state.
func (o *Orchestrator) State() State {
	s, err := o.fsm.State(context.Background())
	if err != nil {
		return StateIdle
	}
	return s.(State)
}

// Transcript returns the session transcript, newest first.
func (o *Orchestrator) Transcript(ctx context.Context) ([]conversation.Message, error) {
	return o.store.List(ctx)
}

// ComposePrompt appends extracted attachment text after the query under its label.
func ComposePrompt(query string, category ingest.Category, extracted string) string {
	return query + "\n" + ingest.Label(category) + " " + extracted
}

func (o *Orchestrator) startSubmission(ctx context.Context, _ ...any) error {
	sub := o.sub
	logger.L.Debug("FSM: Entering StateSubmitting", "model", sub.model, "attachment", sub.attachment != nil)

	o.append(ctx, conversation.NewMessage(conversation.RoleUser, sub.query, ""))
	o.SetDraft("")
	o.setTyping(true)

	if sub.attachment != nil {
		return o.fsm.FireCtx(ctx, TriggerExtract)
	}
	sub.prompt = sub.query
	return o.fsm.FireCtx(ctx, TriggerRequestReply)
}

func (o *Orchestrator) extractAttachment(ctx context.Context, _ ...any) error {
	sub := o.sub
	att := *sub.attachment
	sub.attachment = nil
	logger.L.Debug("FSM: Entering StateAwaitingAttachmentExtraction", "file", att.Name, "category", att.Category())

	text, err := o.ingestor.Extract(ctx, att)
	if err != nil {
		logger.L.Warn("attachment extraction failed", "file", att.Name, "error", err)
		sub.err = err
		return o.fsm.FireCtx(ctx, TriggerFail)
	}
	sub.prompt = ComposePrompt(sub.query, att.Category(), text)
	return o.fsm.FireCtx(ctx, TriggerRequestReply)
}

func (o *Orchestrator) requestReply(ctx context.Context, _ ...any) error {
	sub := o.sub
	logger.L.Debug("FSM: Entering StateAwaitingModelReply", "model", sub.model)

	reply, err := o.gateway.Send(ctx, sub.model, sub.prompt)
	if err != nil {
		sub.err = err
		return o.fsm.FireCtx(ctx, TriggerFail)
	}
	sub.reply = reply
	return o.fsm.FireCtx(ctx, TriggerReplied)
}

func (o *Orchestrator) settle(context.Context, ...any) error {
	o.setTyping(false)
	return nil
}

func (o *Orchestrator) recordReply(ctx context.Context, _ ...any) error {
	sub := o.sub
	msg := conversation.NewMessage(conversation.RoleAssistant, sub.reply, sub.model)
	o.append(ctx, msg)
	sub.result = msg
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, _ ...any) error {
	sub := o.sub
	if sub.err == nil {
		sub.err = errors.New("FSM: reached error state without a specific error")
	}
	msg := conversation.NewMessage(conversation.RoleError, apperrors.UserMessage(sub.err), "")
	o.append(ctx, msg)
	sub.result = msg
	return nil
}

func (o *Orchestrator) append(ctx context.Context, msg conversation.Message) {
	// the transcript must not depend on whether the caller is still waiting
	if err := o.store.Append(context.WithoutCancel(ctx), msg); err != nil {
		logger.L.Error("failed to append message", "role", msg.Role, "error", err)
	}
	o.notify(Event{Kind: MessageAppended, Message: msg})
}

func (o *Orchestrator) setTyping(on bool) {
	if o.typing.Swap(on) != on {
		o.notify(Event{Kind: TypingChanged, Typing: on})
	}
}

func (o *Orchestrator) notify(e Event) {
	if o.observer != nil {
		o.observer(e)
	}
}
