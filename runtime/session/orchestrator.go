// Package session (orchestrator.go) implements the Session Orchestrator
// (§4.8): the ChatSession aggregate that owns one chat's lifecycle, command
// queue, and broadcast event bus, and drives the Preparer -> Provider
// Adapter -> Stream Aggregator -> Tool Dispatcher loop to completion or
// pause.
//
// The teacher's equivalent (runtime/agent/runtime) durably replays this loop
// as a Temporal workflow so a turn survives process restarts; this engine
// drops that durability (documented in DESIGN.md's dropped-dependency
// ledger) and runs the loop as a plain goroutine per session instead, since
// nothing in SPEC_FULL.md asks for cross-restart turn recovery. What
// survives the transplant is the *shape* of the loop itself: workflowLoop's
// run() method (check interrupts/deadlines, branch on pending tool calls vs
// a finished turn, loop) is the direct model for runTurn below.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/provider"
	"github.com/chatcore/engine/runtime/stream"
	"github.com/chatcore/engine/runtime/tools"
)

// MaxQueueSize bounds a session's FIFO command queue (§4.8).
const MaxQueueSize = 100

// IdleTimeout is how long a session may sit with no activity before a
// periodic sweep may destroy it (§4.8, §5).
const IdleTimeout = 30 * time.Minute

// recentRequestCap bounds the de-duplication set for re-submitted
// client_request_ids.
const recentRequestCap = 512

type ideOutcome struct {
	text   string
	failed bool
}

// Session is the ChatSession aggregate: one orchestrator task per chat_id,
// serializing commands, driving turns, and fanning transcript/state
// mutations out over its Bus (§3 ChatSession, §4.8).
type Session struct {
	ID string

	Bus *events.Bus

	preparer Preparer
	adapter  provider.Adapter
	registry *tools.Registry

	mu       sync.Mutex
	thread   ThreadParams
	sampling SamplingParameters
	ledger   *message.Ledger

	state        events.RuntimeState
	lastErr      error
	pendingCalls []message.ToolCall
	pauseReasons []events.PauseReason

	commandQueue         []CommandRequest
	queueProcessorRunning bool

	recentRequestIDs map[string]struct{}
	recentOrder      []string

	turnCancel context.CancelFunc
	ideWaiters map[string]chan ideOutcome

	lastActivity time.Time
	closed       bool

	prepareOptions PrepareOptions
}

// NewSession builds an idle Session for thread, backed by preparer/adapter/
// reg and publishing on bus. prepOpts controls which optional Preparer
// steps (§4.4 steps 4-6) this session's turns request.
func NewSession(thread ThreadParams, bus *events.Bus, preparer Preparer, adapter provider.Adapter, reg *tools.Registry, prepOpts PrepareOptions) *Session {
	return &Session{
		ID:               thread.ID,
		Bus:              bus,
		preparer:         preparer,
		adapter:          adapter,
		registry:         reg,
		thread:           thread,
		sampling:         SamplingParameters{},
		ledger:           message.NewLedger(),
		state:            events.StateIdle,
		recentRequestIDs: make(map[string]struct{}),
		ideWaiters:       make(map[string]chan ideOutcome),
		lastActivity:     time.Now(),
		prepareOptions:   prepOpts,
	}
}

// Submit enqueues req for serialized processing, or — for Abort and
// IdeToolResult — acts on it immediately out of band. Abort must short-
// circuit the active turn regardless of queue position (§4.8); IdeToolResult
// must bypass the queue too, since the queue's single consumer goroutine is
// itself the one blocked awaiting it while WaitingIde.
func (s *Session) Submit(req CommandRequest) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New(errs.SessionClosed, "session is closed")
	}
	if req.ClientRequestID != "" {
		if _, dup := s.recentRequestIDs[req.ClientRequestID]; dup {
			s.mu.Unlock()
			return nil
		}
		s.rememberRequestIDLocked(req.ClientRequestID)
	}
	s.lastActivity = time.Now()

	switch cmd := req.Command.(type) {
	case Abort:
		s.mu.Unlock()
		s.handleAbort()
		return nil
	case IdeToolResult:
		s.mu.Unlock()
		return s.deliverIdeResult(cmd)
	default:
		_ = cmd
	}

	if len(s.commandQueue) >= MaxQueueSize {
		s.mu.Unlock()
		return errs.New(errs.QueueFull, "command queue is full")
	}
	s.commandQueue = append(s.commandQueue, req)
	s.ensureProcessorLocked()
	s.mu.Unlock()
	return nil
}

func (s *Session) rememberRequestIDLocked(id string) {
	s.recentRequestIDs[id] = struct{}{}
	s.recentOrder = append(s.recentOrder, id)
	if len(s.recentOrder) > recentRequestCap {
		oldest := s.recentOrder[0]
		s.recentOrder = s.recentOrder[1:]
		delete(s.recentRequestIDs, oldest)
	}
}

// ensureProcessorLocked starts the single queue-consumer goroutine if one
// isn't already running. Callers must hold s.mu.
func (s *Session) ensureProcessorLocked() {
	if s.queueProcessorRunning {
		return
	}
	s.queueProcessorRunning = true
	go s.runQueue()
}

// runQueue drains the command queue one request at a time until it is
// empty, then exits — a fresh consumer is started by the next Submit that
// finds none running (§4.8 queue_processor_running).
func (s *Session) runQueue() {
	for {
		s.mu.Lock()
		if len(s.commandQueue) == 0 {
			s.queueProcessorRunning = false
			s.mu.Unlock()
			return
		}
		req := s.commandQueue[0]
		s.commandQueue = s.commandQueue[1:]
		s.mu.Unlock()

		s.process(req)
		s.Bus.Publish(s.ID, events.Ack{ClientRequestID: req.ClientRequestID})
	}
}

func (s *Session) process(req CommandRequest) {
	switch cmd := req.Command.(type) {
	case UserMessage:
		s.handleUserMessage(cmd)
	case RetryFromIndex:
		s.handleRetryFromIndex(cmd)
	case SetParams:
		s.handleSetParams(cmd)
	case ToolDecision:
		s.handleToolDecisions([]ToolDecision{cmd})
	case ToolDecisions:
		s.handleToolDecisions(cmd.Decisions)
	case UpdateMessage:
		s.handleUpdateMessage(cmd)
	case RemoveMessage:
		s.handleRemoveMessage(cmd)
	}
}

func (s *Session) handleUserMessage(cmd UserMessage) {
	if !s.appendMessage(cmd.Message) {
		return
	}
	s.runTurn()
}

func (s *Session) handleRetryFromIndex(cmd RetryFromIndex) {
	s.mu.Lock()
	mut, err := s.ledger.TruncateFrom(cmd.Index)
	s.mu.Unlock()
	if err != nil {
		s.publishError(err)
		return
	}
	s.publishMutation(mut)
	s.runTurn()
}

func (s *Session) handleSetParams(cmd SetParams) {
	s.mu.Lock()
	cmd.Thread.apply(&s.thread)
	if cmd.Sampling != nil {
		s.sampling = *cmd.Sampling
	}
	thread := s.thread
	s.mu.Unlock()
	s.Bus.Publish(s.ID, events.ThreadUpdated{Title: thread.Title, Model: thread.Model, Mode: string(thread.Mode)})
}

func (s *Session) handleUpdateMessage(cmd UpdateMessage) {
	s.mu.Lock()
	mut, err := s.ledger.UpdateByID(cmd.MessageID, func(m *message.ChatMessage) { m.Text = cmd.Text })
	s.mu.Unlock()
	if err != nil {
		s.publishError(err)
		return
	}
	s.publishMutation(mut)
}

func (s *Session) handleRemoveMessage(cmd RemoveMessage) {
	s.mu.Lock()
	mut, err := s.ledger.RemoveByID(cmd.MessageID)
	s.mu.Unlock()
	if err != nil {
		s.publishError(err)
		return
	}
	s.publishMutation(mut)
}

// handleToolDecisions resolves pending confirmation gates in order and, if
// the batch is not paused again, resumes the turn loop (Paused ->
// ExecutingTools -> ... ; §4.8).
func (s *Session) handleToolDecisions(decisions []ToolDecision) {
	s.mu.Lock()
	if s.state != events.StatePaused {
		s.mu.Unlock()
		return
	}
	pending := s.pendingCalls
	s.mu.Unlock()

	for _, d := range decisions {
		if len(pending) == 0 || pending[0].ID != d.ToolCallID {
			continue
		}
		outcome := tools.ResumeDecision(context.Background(), s.registry, s.Bus, s, s.ID, pending[0], d.Accepted)
		s.appendOutcomeMessages(outcome)
		pending = pending[1:]

		if len(pending) > 0 {
			redispatch := tools.Dispatch(context.Background(), s.registry, s.Bus, s, s.ID, pending)
			s.appendOutcomeMessages(redispatch)
			if redispatch.Paused {
				s.mu.Lock()
				s.pendingCalls = redispatch.PendingCalls
				s.pauseReasons = redispatch.PauseReasons
				s.mu.Unlock()
				s.setState(events.StatePaused)
				return
			}
			pending = nil
		}
	}

	s.mu.Lock()
	s.pendingCalls = nil
	s.pauseReasons = nil
	s.mu.Unlock()
	s.setState(events.StateExecutingTools)
	s.continueTurn()
}

// appendMessage validates and appends msg to the ledger, publishing
// MessageAdded. It reports whether the append succeeded.
func (s *Session) appendMessage(msg *message.ChatMessage) bool {
	s.mu.Lock()
	mut, err := s.ledger.Append(msg)
	s.mu.Unlock()
	if err != nil {
		s.publishError(err)
		return false
	}
	s.publishMutation(mut)
	return true
}

// appendOutcomeMessages appends every message a tools.Outcome produced to
// the ledger and publishes the matching MessageAdded, the same as any other
// transcript mutation (§4.2). Dispatch/ResumeDecision never publish these
// themselves: the ledger is the sole source of MessageAdded.
func (s *Session) appendOutcomeMessages(outcome tools.Outcome) {
	for _, m := range outcome.Added {
		s.mu.Lock()
		mut, err := s.ledger.Append(m)
		s.mu.Unlock()
		if err != nil {
			// A duplicate message_id is a bug in a tool's result
			// construction, not a session-fatal condition.
			continue
		}
		s.publishMutation(mut)
	}
}

func (s *Session) publishMutation(mut message.Mutation) {
	switch mut.Kind {
	case message.MutationAdded:
		s.Bus.Publish(s.ID, events.MessageAdded{Message: mut.Message})
	case message.MutationUpdated:
		s.Bus.Publish(s.ID, events.MessageUpdated{Message: mut.Message})
	case message.MutationRemoved:
		s.Bus.Publish(s.ID, events.MessageRemoved{MessageID: mut.MessageID})
	case message.MutationTruncated:
		s.Bus.Publish(s.ID, events.MessagesTruncated{FromIndex: mut.FromIndex})
	}
}

func (s *Session) publishError(err error) {
	s.Bus.Publish(s.ID, events.RuntimeUpdated{Runtime: events.RuntimeSnapshot{State: events.StateIdle, Error: err.Error()}})
}

// setState transitions the session's RuntimeState and publishes a
// RuntimeUpdated snapshot (§4.8 states, §3 RuntimeState).
func (s *Session) setState(st events.RuntimeState) {
	s.mu.Lock()
	s.state = st
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.Bus.Publish(s.ID, events.RuntimeUpdated{Runtime: snap})
}

func (s *Session) snapshotLocked() events.RuntimeSnapshot {
	errText := ""
	if s.lastErr != nil {
		errText = s.lastErr.Error()
	}
	return events.RuntimeSnapshot{
		State:        s.state,
		Paused:       s.state == events.StatePaused,
		Error:        errText,
		QueueSize:    len(s.commandQueue),
		PauseReasons: s.pauseReasons,
	}
}

// Snapshot returns a point-in-time view for a reconnecting subscriber (§4.8
// idempotency/recovery).
func (s *Session) Snapshot() events.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return events.Snapshot{
		Messages: s.ledger.Clone().Messages(),
		Runtime:  s.snapshotLocked(),
	}
}

// runTurn drives Generating -> ExecutingTools -> Generating until a turn
// finishes without tool calls, pauses, or the session aborts/errors. It
// must only be invoked from the queue's consumer goroutine (process), so it
// never runs concurrently with itself for the same session.
func (s *Session) runTurn() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.turnCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	s.generateAndDispatch(ctx)
}

// continueTurn resumes the Generating/ExecutingTools loop after a Paused or
// WaitingIde gate clears, reusing a fresh cancellation scope the same way
// runTurn does.
func (s *Session) continueTurn() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.turnCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	// handleToolDecisions has already drained every pending call (resolving
	// each via ResumeDecision/Dispatch) before invoking continueTurn, so the
	// only remaining work is the next Preparer/Provider/Dispatch cycle.
	s.generateAndDispatch(ctx)
}

func (s *Session) generateAndDispatch(ctx context.Context) {
	for {
		s.setState(events.StateGenerating)

		req, err := s.preparer.Prepare(ctx, s.buildPrepareInput())
		if err != nil {
			s.fail(err)
			return
		}

		str, err := s.adapter.Stream(ctx, req)
		if err != nil {
			s.fail(errs.Wrap(errs.ProviderError, err, "provider failed to start stream"))
			return
		}

		draft := message.New(message.RoleAssistant, "")
		agg := stream.New(s.Bus, s.ID)
		finalMsg, runErr := agg.Run(ctx, str, draft)
		_ = str.Close()
		s.appendMessage(finalMsg)

		if ctx.Err() != nil || errs.Is(runErr, errs.Timeout) {
			// Generating -> Abort/timeout -> Idle (§4.8): the turn ends
			// here regardless of any tool calls the partial draft carries.
			s.setState(events.StateIdle)
			return
		}

		if len(finalMsg.ToolCalls) == 0 {
			s.setState(events.StateIdle)
			return
		}

		s.setState(events.StateExecutingTools)
		outcome := tools.Dispatch(ctx, s.registry, s.Bus, s, s.ID, finalMsg.ToolCalls)
		s.appendOutcomeMessages(outcome)

		if ctx.Err() != nil {
			s.setState(events.StateIdle)
			return
		}

		if outcome.Paused {
			s.mu.Lock()
			s.pendingCalls = outcome.PendingCalls
			s.pauseReasons = outcome.PauseReasons
			s.mu.Unlock()
			s.setState(events.StatePaused)
			return
		}

		if !outcome.Retrigger {
			s.setState(events.StateIdle)
			return
		}
		// ExecutingTools -> Generating: auto next turn.
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.setState(events.StateError)
}

func (s *Session) buildPrepareInput() PrepareInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PrepareInput{
		Messages: s.ledger.Messages(),
		Thread:   s.thread,
		Sampling: s.sampling,
		Options:  s.prepareOptions,
	}
}

// handleAbort short-circuits the active turn by canceling its context,
// regardless of queue position (§4.8); with no turn in flight it moves a
// Paused or Error session to Idle. It is called directly by Submit, not
// routed through the command queue.
func (s *Session) handleAbort() {
	s.mu.Lock()
	cancel := s.turnCancel
	st := s.state
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	// No turn is in flight (Idle/Paused/Error): transition directly per the
	// state diagram's Paused/Error -> Abort -> Idle edges. Abort while Idle
	// is a harmless no-op.
	if st == events.StatePaused || st == events.StateError {
		s.mu.Lock()
		s.pendingCalls = nil
		s.pauseReasons = nil
		s.lastErr = nil
		s.mu.Unlock()
		s.setState(events.StateIdle)
	}
}

// RunIdeTool implements tools.IdeGateway: it blocks the calling Dispatch
// goroutine (the queue consumer, mid-turn) until a matching IdeToolResult
// command arrives via Submit or ctx is canceled, transitioning the session
// to WaitingIde for the duration (§4.8 ExecutingTools -> WaitingIde ->
// ExecutingTools).
func (s *Session) RunIdeTool(ctx context.Context, toolCallID, _ string, _ map[string]any) (tools.ExecuteResult, error) {
	ch := make(chan ideOutcome, 1)
	s.mu.Lock()
	s.ideWaiters[toolCallID] = ch
	s.mu.Unlock()
	s.setState(events.StateWaitingIde)
	defer func() {
		s.mu.Lock()
		delete(s.ideWaiters, toolCallID)
		s.mu.Unlock()
	}()

	select {
	case out := <-ch:
		s.setState(events.StateExecutingTools)
		if out.failed {
			return tools.ExecuteResult{}, errors.New(out.text)
		}
		return tools.ExecuteResult{Messages: []*message.ChatMessage{message.New(message.RoleTool, out.text)}}, nil
	case <-ctx.Done():
		return tools.ExecuteResult{}, ctx.Err()
	}
}

func (s *Session) deliverIdeResult(cmd IdeToolResult) error {
	s.mu.Lock()
	ch, ok := s.ideWaiters[cmd.ToolCallID]
	s.mu.Unlock()
	if !ok {
		return errs.Newf(errs.BadRequest, "no pending ide tool call %q", cmd.ToolCallID)
	}
	ch <- ideOutcome{text: cmd.Text, failed: cmd.Failed}
	return nil
}

// Close marks the session closed: further Submit calls fail with
// errs.SessionClosed (§4.8 "When closed, further commands fail").
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// IdleSince reports how long the session has gone without a Submit call, for
// the periodic idle-sweep GC (§4.8, §5 SESSION_IDLE_TIMEOUT/CLEANUP).
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}
