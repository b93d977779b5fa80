package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"attest/internal/survey/metrics"
	"attest/internal/survey/models"
	"attest/internal/survey/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/audit"
	"attest/pkg/platform/sentinel"
	"attest/pkg/requestcontext"
)

// RunCompleter is notified after a terminal submit so the owning run can
// close once its last recipient has finished.
type RunCompleter interface {
	OnRecipientCompleted(ctx context.Context, runID id.RunID) error
}

// AuditPublisher captures audit trail events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service executes recipient sessions. Writes within one recipient's session
// are serialized by a per-recipient mutex so the terminal submit never races
// an in-flight answer; different recipients proceed fully independently.
type Service struct {
	runs       store.RunStore
	recipients store.RecipientStore
	responses  store.ResponseStore
	cursors    CursorStore
	completer  RunCompleter

	locks keyedMutex

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(runs store.RunStore, recipients store.RecipientStore, responses store.ResponseStore,
	cursors CursorStore, completer RunCompleter, opts ...Option) *Service {

	s := &Service{
		runs:       runs,
		recipients: recipients,
		responses:  responses,
		cursors:    cursors,
		completer:  completer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// View is everything a recipient needs to render their session.
type View struct {
	RunTitle       string             `json:"run_title"`
	RunDescription string             `json:"run_description,omitempty"`
	DueDate        time.Time          `json:"due_date"`
	DepartmentID   id.DepartmentID    `json:"department_id"`
	Questions      []*models.Question `json:"questions"`
	Responses      []*models.Response `json:"responses"`
	State          State              `json:"state"`
}

// session bundles everything resolved from an access token.
type session struct {
	recipient *models.Recipient
	run       *models.Run
	questions []*models.Question
	responses []*models.Response
}

// Resolve opens a session from an access token.
func (s *Service) Resolve(ctx context.Context, token string) (*View, error) {
	sess, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.recipient.SurveyCompleted {
		// A spent token looks the same as an unknown one.
		return nil, unavailable()
	}
	state := Derive(sess.questions, sess.responses, false)
	s.restoreCursor(ctx, sess.recipient.ID, &state)
	return s.view(sess, state), nil
}

// Answer validates and stores one answer, overwriting any previous answer of
// the same recipient to the same question, and returns the advanced state.
func (s *Service) Answer(ctx context.Context, token string, req *models.AnswerRequest) (*View, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(token)
	defer unlock()

	sess, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.recipient.SurveyCompleted {
		return nil, dErrors.New(dErrors.CodeSessionClosed, "survey already submitted, responses are frozen")
	}

	var question *models.Question
	for _, q := range sess.questions {
		if q.ID == req.QuestionID {
			question = q
			break
		}
	}
	if question == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "question does not belong to this survey").WithFields("question_id")
	}
	if err := question.ValidateAnswer(req.Answer); err != nil {
		return nil, err
	}

	response := &models.Response{
		ID:          id.NewResponseID(),
		RecipientID: sess.recipient.ID,
		QuestionID:  question.ID,
		Answer:      req.Answer,
		Comment:     req.Comment,
		SubmittedAt: requestcontext.Now(ctx),
	}
	if err := s.responses.Upsert(ctx, response); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist response")
	}

	sess.responses = upsertLocal(sess.responses, response)
	state := Derive(sess.questions, sess.responses, false)
	s.saveCursor(ctx, sess.recipient.ID, state)
	return s.view(sess, state), nil
}

// Submit performs the one irreversible write: it marks the recipient's
// survey completed and freezes their responses. Submitting with any required
// question unanswered, or a required negative answer missing its comment,
// is rejected with the blocking question ids.
func (s *Service) Submit(ctx context.Context, token string) (*View, error) {
	unlock := s.locks.lock(token)
	defer unlock()

	sess, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	state := Derive(sess.questions, sess.responses, false)
	if !state.CanSubmit {
		missing := make([]string, 0, len(state.Missing))
		for _, questionID := range state.Missing {
			missing = append(missing, questionID.String())
		}
		return nil, dErrors.New(dErrors.CodeIncompleteSurvey,
			"required questions are missing answers").WithFields(missing...)
	}

	now := requestcontext.Now(ctx)
	recipient, err := s.recipients.Execute(ctx, sess.recipient.ID,
		func(r *models.Recipient) error {
			return r.CanComplete()
		},
		func(r *models.Recipient) {
			r.ApplyCompletion(now)
		},
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeStateConflict) {
			return nil, dErrors.New(dErrors.CodeSessionClosed, "survey already submitted")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "complete survey")
	}
	sess.recipient = recipient

	s.metrics.IncrementCompletion()
	s.emitSubmitted(ctx, sess)
	if err := s.cursors.Delete(ctx, recipient.ID); err != nil {
		s.logger.WarnContext(ctx, "delete session cursor", "recipient_id", recipient.ID, "error", err)
	}
	if err := s.completer.OnRecipientCompleted(ctx, recipient.RunID); err != nil {
		// The run close is retried by the sweep; the submit itself stands.
		s.logger.ErrorContext(ctx, "close check after submit",
			"run_id", recipient.RunID, "error", err)
	}
	s.logger.InfoContext(ctx, "survey submitted",
		"run_id", recipient.RunID, "recipient_id", recipient.ID)

	return s.view(sess, Derive(sess.questions, sess.responses, true)), nil
}

// resolve maps an access token to its session. Unknown tokens and runs no
// longer active collapse into the same unavailable error so callers cannot
// probe token existence; completed recipients are the caller's concern since
// the answer path distinguishes a frozen session from a missing one.
func (s *Service) resolve(ctx context.Context, token string) (*session, error) {
	if token == "" {
		return nil, unavailable()
	}
	recipient, err := s.recipients.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, unavailable()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve token")
	}
	run, err := s.runs.FindByID(ctx, recipient.RunID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, unavailable()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load run")
	}
	if run.Status != models.RunStatusActive {
		return nil, unavailable()
	}
	questions, err := s.runs.ListQuestions(ctx, run.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list questions")
	}
	responses, err := s.responses.ListByRecipient(ctx, recipient.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list responses")
	}
	return &session{recipient: recipient, run: run, questions: questions, responses: responses}, nil
}

func (s *Service) view(sess *session, state State) *View {
	return &View{
		RunTitle:       sess.run.Title,
		RunDescription: sess.run.Description,
		DueDate:        sess.run.DueDate,
		DepartmentID:   sess.recipient.DepartmentID,
		Questions:      sess.questions,
		Responses:      sess.responses,
		State:          state,
	}
}

func (s *Service) saveCursor(ctx context.Context, recipientID id.RecipientID, state State) {
	if state.Phase != PhaseAnswering && state.Phase != PhaseCommentPending {
		return
	}
	if err := s.cursors.Save(ctx, recipientID, state.QuestionIndex); err != nil {
		s.logger.WarnContext(ctx, "save session cursor", "recipient_id", recipientID, "error", err)
	}
}

// restoreCursor lets a resumed session reopen past the derived position when
// the recipient had skipped ahead over optional questions. The derived
// position always wins when it is further along or the cursor is stale.
func (s *Service) restoreCursor(ctx context.Context, recipientID id.RecipientID, state *State) {
	if state.Phase != PhaseAnswering && state.Phase != PhaseNotStarted {
		return
	}
	index, found, err := s.cursors.Load(ctx, recipientID)
	if err != nil {
		s.logger.WarnContext(ctx, "load session cursor", "recipient_id", recipientID, "error", err)
		return
	}
	if found && index > state.QuestionIndex {
		state.QuestionIndex = index
		if state.Phase == PhaseNotStarted {
			state.Phase = PhaseAnswering
		}
	}
}

func (s *Service) emitSubmitted(ctx context.Context, sess *session) {
	if s.auditPublisher == nil {
		return
	}
	event := audit.FromContext(ctx, audit.ActionSurveySubmitted)
	event.RunID = sess.run.ID.String()
	event.RecipientID = sess.recipient.ID.String()
	event.DepartmentID = sess.recipient.DepartmentID.String()
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "emit audit event", "action", audit.ActionSurveySubmitted, "error", err)
	}
}

func unavailable() error {
	return dErrors.New(dErrors.CodeSurveyUnavailable, "survey not available")
}

func upsertLocal(responses []*models.Response, response *models.Response) []*models.Response {
	for i, existing := range responses {
		if existing.QuestionID == response.QuestionID {
			responses[i] = response
			return responses
		}
	}
	return append(responses, response)
}

// keyedMutex serializes work per key without holding a global lock across
// I/O. Entries are reference counted and removed when the last holder
// unlocks, so the map never grows with dead tokens.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
