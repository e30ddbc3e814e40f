// Package relay is the core of the bot: it consumes the gateway event
// stream, routes commands, runs code through the execution backend, and
// keeps each user's output message synchronized with their input message
// across edits and deletes.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/corbin-hayes/coderelay/internal/command"
	"github.com/corbin-hayes/coderelay/internal/config"
	"github.com/corbin-hayes/coderelay/internal/gateway"
	"github.com/corbin-hayes/coderelay/internal/history"
	"github.com/corbin-hayes/coderelay/internal/piston"
	"github.com/corbin-hayes/coderelay/internal/updater"
)

// handlerFunc processes one inbound event for one user, inside that user's
// lane.
type handlerFunc func(ctx context.Context, msg gateway.Message)

// Service owns the run pipeline and the session protocol. One Service per
// process; all mutable state behind it (sessions, error log, maintenance
// flag) is safe for concurrent lanes.
type Service struct {
	cfg     *config.Config
	adapter gateway.Adapter
	parser  *command.Parser
	pistonc *piston.Client
	aliases *piston.AliasTable
	errlog  *ErrorLog
	history *history.Store   // nil disables run history
	updater *updater.Checker // nil disables the update command

	store       *SessionStore
	lanes       *laneQueue
	handlers    map[gateway.EventType]handlerFunc
	maintenance atomic.Bool

	commit   string
	maxLines int
	maxChars int
	started  time.Time
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	Config   *config.Config
	Adapter  gateway.Adapter
	Parser   *command.Parser
	Piston   *piston.Client
	Aliases  *piston.AliasTable
	ErrorLog *ErrorLog
	History  *history.Store   // optional
	Updater  *updater.Checker // optional
	Commit   string           // running build commit, shown by the update command
}

// NewService creates a Service. The handler table is fixed here; nothing
// registers or swaps handlers after startup.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("relay: service: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: service: gateway adapter is required")
	}
	if opts.Parser == nil {
		return nil, fmt.Errorf("relay: service: parser is required")
	}
	if opts.Piston == nil {
		return nil, fmt.Errorf("relay: service: execution client is required")
	}
	if opts.Aliases == nil {
		return nil, fmt.Errorf("relay: service: alias table is required")
	}
	if opts.ErrorLog == nil {
		return nil, fmt.Errorf("relay: service: error log is required")
	}

	maxLines := opts.Config.Output.MaxLines
	if maxLines <= 0 {
		maxLines = 30
	}
	maxChars := opts.Config.Output.MaxChars
	if maxChars <= 0 {
		maxChars = 1900
	}

	s := &Service{
		cfg:      opts.Config,
		adapter:  opts.Adapter,
		parser:   opts.Parser,
		pistonc:  opts.Piston,
		aliases:  opts.Aliases,
		errlog:   opts.ErrorLog,
		history:  opts.History,
		updater:  opts.Updater,
		store:    NewSessionStore(),
		lanes:    newLaneQueue(int64(opts.Config.Runs.MaxConcurrent)),
		commit:   opts.Commit,
		maxLines: maxLines,
		maxChars: maxChars,
		started:  time.Now(),
	}
	s.handlers = map[gateway.EventType]handlerFunc{
		gateway.EventMessageCreated: s.handleCreated,
		gateway.EventMessageEdited:  s.handleEdited,
		gateway.EventMessageDeleted: s.handleDeleted,
	}
	return s, nil
}

// Run consumes the adapter's event stream until ctx is cancelled or the
// stream closes. The adapter must already be connected.
func (s *Service) Run(ctx context.Context) error {
	events, err := s.adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("relay: listen: %w", err)
	}

	s.lanes.start(ctx)
	defer s.lanes.stop()
	log.Printf("relay: event loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				log.Printf("relay: event stream closed")
				return nil
			}
			s.dispatch(ctx, ev)
		}
	}
}

// dispatch routes an event into its owner's lane so all transitions for one
// user are linearized. Delete events carry no author, so the owner is
// resolved from the session store; a delete with no matching session is
// nothing of ours.
func (s *Service) dispatch(ctx context.Context, ev gateway.Event) {
	handler, ok := s.handlers[ev.Type]
	if !ok {
		return
	}

	key := ev.Message.UserID
	if key == "" {
		sess, found := s.store.FindByInput(ev.Message.Ref)
		if !found {
			return
		}
		key = sess.Owner
	}

	msg := ev.Message
	s.lanes.enqueue(key, func() { handler(ctx, msg) })
}

func (s *Service) handleCreated(ctx context.Context, msg gateway.Message) {
	if msg.Bot {
		return
	}
	if ider, ok := s.adapter.(gateway.BotUserIDer); ok && ider.BotUserID() == msg.UserID {
		return
	}

	switch commandWord(msg.Text) {
	case "/run":
		s.handleRun(ctx, msg)
	case "/delete":
		s.handleDeleteCommand(ctx, msg)
	case "/help":
		s.reply(ctx, msg.Ref.ChannelID, s.helpText())
	case "/maintenance", "/error", "/stats", "/update":
		if !s.cfg.IsAdmin(msg.UserID) {
			return
		}
		s.handleAdmin(ctx, msg)
	}
}

func (s *Service) handleRun(ctx context.Context, msg gateway.Message) {
	if s.maintenance.Load() {
		s.reply(ctx, msg.Ref.ChannelID, maintenanceText)
		return
	}

	s.adapter.Typing(ctx, msg.Ref.ChannelID)

	text := s.runReply(ctx, msg)
	ref, err := s.adapter.Send(ctx, msg.Ref.ChannelID, text)
	if err != nil {
		log.Printf("relay: send run reply: %v", err)
		s.errlog.Append(fmt.Errorf("relay: send run reply: %w", err),
			CommandOrigin(msg.UserName, msg.Ref.ChannelID, "run", msg.JumpLink),
			msg.Text, firstAttachment(msg))
		return
	}

	// Error-rendered replies get a session too, so editing a broken message
	// into a working one updates the reply in place.
	s.store.Record(Session{
		Owner:     msg.UserID,
		Input:     msg.Ref,
		Output:    ref,
		InputText: msg.Text,
	})
}

// runReply runs the full pipeline for one message and returns the reply
// text: rendered output on success, the fault text for user input errors,
// or the fixed apology for upstream/system failures (whose cause goes to
// the error log instead of chat).
func (s *Service) runReply(ctx context.Context, msg gateway.Message) string {
	origin := CommandOrigin(msg.UserName, msg.Ref.ChannelID, "run", msg.JumpLink)

	req, err := s.parser.Parse(ctx, msg, s.adapter.Download)
	if err != nil {
		var fault *command.Fault
		if errors.As(err, &fault) {
			s.recordHistory(msg, "", "fault", 0)
			return fault.UserText()
		}
		// Attachment fetch failure: not the user's doing.
		s.errlog.Append(err, origin, msg.Text, firstAttachment(msg))
		s.recordHistory(msg, "", "fault", 0)
		return apologyText
	}

	req.Source = command.AddBoilerplate(req.Language.Name, req.Source)

	start := time.Now()
	result, err := s.pistonc.Execute(ctx, piston.Request{
		Language: req.Language.Name,
		Version:  req.Language.Version,
		Files:    []piston.File{{Content: req.Source}},
		Args:     req.Args,
		Stdin:    req.Stdin,
	})
	elapsed := time.Since(start)

	if err != nil {
		s.errlog.Append(err, origin, msg.Text, firstAttachment(msg))
		s.recordHistory(msg, req.Language.Name, "fault", elapsed)
		return apologyText
	}

	s.recordHistory(msg, req.Language.Name, "ok", elapsed)
	go s.sidebandLog(msg, req)

	return renderResult(msg.UserName, result, s.maxLines, s.maxChars)
}

func (s *Service) handleEdited(ctx context.Context, msg gateway.Message) {
	if s.maintenance.Load() {
		return
	}

	sess, ok := s.store.Lookup(msg.UserID)
	if !ok || sess.Input != msg.Ref {
		return
	}
	// Platforms fire edit events on embed unfurls with unchanged content.
	if msg.Text == sess.InputText {
		return
	}

	if commandWord(msg.Text) == "/delete" {
		s.removeOutput(ctx, sess)
		return
	}

	text := s.runReply(ctx, msg)
	switch err := s.adapter.Edit(ctx, sess.Output, text); {
	case errors.Is(err, gateway.ErrMessageNotFound):
		// Output gone upstream: treat as already deleted, drop the session.
		s.store.Forget(sess.Owner)
	case err != nil:
		log.Printf("relay: edit output: %v", err)
		s.errlog.Append(fmt.Errorf("relay: edit output: %w", err),
			CommandOrigin(msg.UserName, msg.Ref.ChannelID, "run", msg.JumpLink),
			msg.Text, firstAttachment(msg))
	default:
		sess.InputText = msg.Text
		s.store.Record(sess)
	}
}

func (s *Service) handleDeleted(ctx context.Context, msg gateway.Message) {
	if s.maintenance.Load() {
		return
	}
	sess, ok := s.store.FindByInput(msg.Ref)
	if !ok {
		return
	}
	s.removeOutput(ctx, sess)
}

// handleDeleteCommand serves an explicit /delete message: same effect as
// the author deleting their input message.
func (s *Service) handleDeleteCommand(ctx context.Context, msg gateway.Message) {
	if s.maintenance.Load() {
		return
	}
	sess, ok := s.store.Lookup(msg.UserID)
	if !ok {
		return
	}
	s.removeOutput(ctx, sess)
}

// removeOutput deletes a session's output message best-effort and forgets
// the session. A missing output message is the desired end state anyway.
func (s *Service) removeOutput(ctx context.Context, sess Session) {
	if err := s.adapter.Delete(ctx, sess.Output); err != nil && !errors.Is(err, gateway.ErrMessageNotFound) {
		log.Printf("relay: delete output: %v", err)
	}
	s.store.Forget(sess.Owner)
}

// reply sends text to a channel, chunked under the platform ceiling.
func (s *Service) reply(ctx context.Context, channelID, text string) {
	for _, chunk := range chunkMessage(text, s.maxChars) {
		if _, err := s.adapter.Send(ctx, channelID, chunk); err != nil {
			log.Printf("relay: send: %v", err)
			return
		}
	}
}

func (s *Service) recordHistory(msg gateway.Message, language, status string, elapsed time.Duration) {
	if s.history == nil {
		return
	}
	err := s.history.Record(history.Run{
		Server:     msg.ServerID,
		Channel:    msg.Ref.ChannelID,
		UserID:     msg.UserID,
		UserName:   msg.UserName,
		Language:   language,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
	})
	if err != nil {
		log.Printf("relay: record run history: %v", err)
	}
}

// sidebandLog posts the fire-and-forget run record. Failures land in the
// error log and never reach the user.
func (s *Service) sidebandLog(msg gateway.Message, req *command.RunRequest) {
	entry := piston.LogEntry{
		Server:   msg.ServerID,
		User:     msg.UserName,
		Language: req.Language.Name,
		Source:   req.Source,
	}
	if err := s.pistonc.Log(context.Background(), entry); err != nil {
		s.errlog.Append(err, LabelOrigin("run log sideband"), "", "")
	}
}

// MaintenanceOn reports whether maintenance mode is set.
func (s *Service) MaintenanceOn() bool {
	return s.maintenance.Load()
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	return s.store.Len()
}

// ErrorCount returns the number of stored error records.
func (s *Service) ErrorCount() int {
	return s.errlog.Len()
}

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}

func firstAttachment(msg gateway.Message) string {
	if len(msg.Attachments) == 0 {
		return ""
	}
	return msg.Attachments[0].Filename
}
