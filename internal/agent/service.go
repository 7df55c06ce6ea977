package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/extract"
	"github.com/ashureev/souq-assistant/internal/kb"
	"github.com/ashureev/souq-assistant/internal/llm"
	"github.com/ashureev/souq-assistant/internal/publisher"
	"github.com/ashureev/souq-assistant/internal/ratelimit"
	"github.com/ashureev/souq-assistant/internal/store"
)

// DefaultIdempotencyTTL is how long a processed client token is replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// FieldParser reads listing fields out of a message with a language model.
type FieldParser interface {
	ParseFields(ctx context.Context, draft *domain.Draft, message string) (*llm.RawFields, error)
	Name() string
}

// Service is the dialogue orchestrator. Every transport calls HandleMessage.
type Service struct {
	repo      store.Repository
	catalog   *kb.Catalog
	publisher publisher.Publisher
	parser    FieldParser
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	idemTTL   time.Duration
	now       func() time.Time
	flights   singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithFieldParser enables the language model fallback, throttled per user
// by limiter. A nil limiter leaves the fallback unthrottled.
func WithFieldParser(p FieldParser, limiter *ratelimit.Limiter) Option {
	return func(s *Service) {
		s.parser = p
		s.limiter = limiter
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIdempotencyTTL sets how long client tokens are remembered.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.idemTTL = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the orchestrator.
func NewService(repo store.Repository, catalog *kb.Catalog, pub publisher.Publisher, opts ...Option) *Service {
	if catalog == nil {
		catalog = kb.Default()
	}
	s := &Service{
		repo:      repo,
		catalog:   catalog,
		publisher: pub,
		logger:    slog.Default(),
		idemTTL:   DefaultIdempotencyTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = publisher.NewLogPublisher(s.logger)
	}
	return s
}

// LLMEnabled reports whether the language model fallback is configured.
func (s *Service) LLMEnabled() bool {
	return s.parser != nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// HandleMessage processes one inbound message and returns the reply. A
// request repeating an earlier ClientToken replays the stored turn.
func (s *Service) HandleMessage(ctx context.Context, in Inbound) (*Turn, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	in.ClientToken = strings.TrimSpace(in.ClientToken)
	if in.ClientToken == "" {
		turn, _, err := s.run(ctx, in)
		return turn, err
	}

	key := in.UserID + ":" + in.ClientToken
	v, err, _ := s.flights.Do(key, func() (any, error) {
		return s.handleOnce(ctx, key, in)
	})
	if err != nil {
		return nil, err
	}
	turn := *v.(*Turn)
	return &turn, nil
}

// Replay returns the stored turn for an earlier message with the same
// client token, or nil when there is none.
func (s *Service) Replay(ctx context.Context, userID, clientToken string) (*Turn, error) {
	userID, clientToken = strings.TrimSpace(userID), strings.TrimSpace(clientToken)
	if userID == "" || clientToken == "" {
		return nil, nil
	}
	return s.replay(ctx, userID+":"+clientToken, Inbound{UserID: userID})
}

func (s *Service) replay(ctx context.Context, key string, in Inbound) (*Turn, error) {
	rec, err := s.repo.GetIdempotency(ctx, key)
	if err != nil {
		return nil, persistenceError("read idempotency record", err)
	}
	if rec == nil {
		return nil, nil
	}
	var turn Turn
	if err := json.Unmarshal(rec.Response, &turn); err != nil {
		s.logger.Warn("Discarding unreadable idempotency record", "user_id", in.UserID, "error", err)
		return nil, nil
	}
	turnsTotal.WithLabelValues(string(outcomeReplayed)).Inc()
	s.logger.Info("Replaying turn", "user_id", in.UserID, "request_id", in.RequestID)
	return &turn, nil
}

func (s *Service) handleOnce(ctx context.Context, key string, in Inbound) (*Turn, error) {
	replayed, err := s.replay(ctx, key, in)
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}

	turn, _, err := s.run(ctx, in)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	now := s.now()
	stored, err := s.repo.PutIdempotency(ctx, &domain.IdempotencyRecord{
		Key:       key,
		UserID:    in.UserID,
		Response:  data,
		CreatedAt: now,
		ExpiresAt: now.Add(s.idemTTL),
	})
	if err != nil {
		// The draft is already committed; failing here would make the client
		// resend and apply the message twice.
		s.logger.Error("Failed to store idempotency record", "user_id", in.UserID, "error", err)
		return turn, nil
	}
	if stored != nil && string(stored.Response) != string(data) {
		var first Turn
		if err := json.Unmarshal(stored.Response, &first); err == nil {
			return &first, nil
		}
	}
	return turn, nil
}

// run executes a turn and records metrics.
func (s *Service) run(ctx context.Context, in Inbound) (*Turn, outcome, error) {
	start := time.Now()
	turn, oc, err := s.process(ctx, in)
	if err != nil {
		s.logger.Error("Turn failed", "user_id", in.UserID, "request_id", in.RequestID, "error", err)
		return nil, oc, err
	}
	turnsTotal.WithLabelValues(string(oc)).Inc()
	turnDurationSeconds.WithLabelValues(string(oc)).Observe(time.Since(start).Seconds())
	s.logger.Info("Turn handled",
		"user_id", in.UserID,
		"session_id", in.SessionID,
		"request_id", in.RequestID,
		"outcome", oc,
		"step", turn.Step,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return turn, oc, nil
}

func (s *Service) process(ctx context.Context, in Inbound) (*Turn, outcome, error) {
	draft, err := s.repo.LoadDraft(ctx, in.UserID)
	if err != nil {
		return nil, "", persistenceError("load draft", err)
	}

	text := strings.TrimSpace(in.Text)
	normalized := extract.NormalizeText(text)

	if cmd, ok := parseCommand(normalized); ok {
		turn, err := s.runCommand(ctx, in.UserID, draft, cmd)
		return turn, outcomeCommand, err
	}

	if draft.NextStep() == domain.StepConfirm {
		if isAffirmative(normalized) {
			return s.publish(ctx, in.UserID)
		}
		if isNegative(normalized) {
			return s.routeEdit(ctx, in.UserID, draft, normalized)
		}
	}

	return s.fill(ctx, in, draft, text, normalized)
}

// fill extracts fields from the message and merges them into the draft.
func (s *Service) fill(ctx context.Context, in Inbound, draft *domain.Draft, text, normalized string) (*Turn, outcome, error) {
	step := draft.NextStep()
	ex := extractDirect(s.logger, s.catalog, text, in.Meta, step)
	fields := ex.fields

	oc := outcomeExtracted
	var notes []string

	if !fields.Has(step) && len(ex.problems) == 0 {
		if fields.IsEmpty() {
			if answer, ok := s.catalog.AnswerFAQ(text); ok {
				return s.reply(draft, answer, "", outcomeFAQ)
			}
		}
		fields = fields.Overlay(extractContextual(s.logger, text, normalized, step, fields))
	}

	var retryAfterMs int64
	if step.IsField() && !fields.Has(step) && len(ex.problems) == 0 && s.parser != nil && !isChatter(normalized) && text != "" {
		modelFields, note, retry, llmOC := s.askModel(ctx, in, draft, text)
		retryAfterMs = retry
		if note != "" {
			notes = append(notes, note)
		}
		if llmOC != "" {
			oc = llmOC
		}
		// Directly extracted values win over the model.
		fields = fields.Overlay(modelFields)
	}

	var changed []domain.Step
	if !fields.IsEmpty() {
		updated, err := s.repo.UpdateDraft(ctx, in.UserID, func(d *domain.Draft) error {
			changed = domain.Merge(d, fields)
			d.UpdatedAt = s.now()
			return nil
		})
		if err != nil {
			return nil, "", persistenceError("merge draft", err)
		}
		return s.afterMerge(updated, fields, changed, ex.problems, notes, retryAfterMs, oc)
	}
	return s.afterMerge(draft, fields, nil, ex.problems, notes, retryAfterMs, oc)
}

func (s *Service) afterMerge(d *domain.Draft, fields domain.Fields, changed []domain.Step, problems, notes []string, retryAfterMs int64, oc outcome) (*Turn, outcome, error) {
	parts := append([]string{}, problems...)
	if len(fields.Images) > domain.MaxImages {
		parts = append(parts, msgTooManyImages)
	}
	switch {
	case len(changed) > 0:
		parts = append(parts, savedLine(changed))
	case len(problems) == 0 && len(notes) == 0:
		// The welcome only greets messages the model was not asked about.
		if d.IsEmpty() && d.NextStep() == domain.StepTitle && oc != outcomeNotUnderstood {
			parts = append(parts, msgWelcome)
		} else {
			parts = append(parts, msgNotUnderstood)
			if oc == outcomeExtracted {
				oc = outcomeNotUnderstood
			}
		}
	}
	parts = append(parts, notes...)
	if len(problems) > 0 && len(changed) == 0 {
		oc = outcomeInvalid
	}

	turn, _, err := s.reply(d, joinReply(parts...), "", oc)
	if err != nil {
		return nil, "", err
	}
	turn.RetryAfterMs = retryAfterMs
	if turn.Step == domain.StepConfirm && oc == outcomeExtracted {
		oc = outcomeConfirm
	}
	return turn, oc, nil
}

// askModel runs the rate-limited language model fallback. It returns the
// revalidated fields, a note for the reply, and the retry hint.
func (s *Service) askModel(ctx context.Context, in Inbound, draft *domain.Draft, text string) (domain.Fields, string, int64, outcome) {
	if s.limiter != nil {
		res := s.limiter.Check(in.UserID)
		if !res.Allowed {
			rateLimitRejectionsTotal.WithLabelValues("llm").Inc()
			ms := res.RetryAfterMs()
			s.logger.Warn("LLM fallback rate limited", "user_id", in.UserID, "retry_after_ms", ms)
			return domain.Fields{}, fmt.Sprintf(msgRateLimited, (ms+999)/1000), ms, outcomeRateLimited
		}
	}

	provider := s.parser.Name()
	start := time.Now()
	raw, err := s.parser.ParseFields(ctx, draft, text)
	llmRequestDurationSeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		llmRequestsTotal.WithLabelValues(provider, status).Inc()
		s.logger.Warn("LLM fallback failed",
			"user_id", in.UserID,
			"request_id", in.RequestID,
			"provider", provider,
			"error", err,
		)
		return domain.Fields{}, "", 0, outcomeNotUnderstood
	}

	fields := fromModel(raw, s.catalog, text)
	if fields.IsEmpty() {
		llmRequestsTotal.WithLabelValues(provider, "invalid").Inc()
		return fields, "", 0, outcomeNotUnderstood
	}
	llmRequestsTotal.WithLabelValues(provider, "ok").Inc()
	return fields, "", 0, outcomeLLM
}

// reply builds a turn for d with message prepended to the step prompt.
func (s *Service) reply(d *domain.Draft, message, listingID string, oc outcome) (*Turn, outcome, error) {
	step := d.NextStep()
	prompt := NextPrompt(step)
	if step == domain.StepConfirm {
		prompt = DraftSummary(d, s.catalog)
	}
	return &Turn{
		Reply:     joinReply(message, prompt),
		Draft:     s.snapshot(d),
		Step:      step,
		ListingID: listingID,
	}, oc, nil
}

func (s *Service) runCommand(ctx context.Context, userID string, draft *domain.Draft, cmd command) (*Turn, error) {
	switch cmd.kind {
	case cmdHelp:
		turn, _, err := s.reply(draft, msgHelp, "", outcomeCommand)
		return turn, err

	case cmdCancel:
		if err := s.repo.ResetDraft(ctx, userID); err != nil {
			return nil, persistenceError("reset draft", err)
		}
		return &Turn{
			Reply: msgCancelled,
			Draft: s.snapshot(domain.NewDraft(userID)),
			Step:  domain.StepCancelled,
		}, nil

	case cmdRestart:
		if err := s.repo.ResetDraft(ctx, userID); err != nil {
			return nil, persistenceError("reset draft", err)
		}
		turn, _, err := s.reply(domain.NewDraft(userID), msgRestarted, "", outcomeCommand)
		return turn, err

	case cmdSkip:
		step := draft.NextStep()
		if !step.IsOptional() {
			turn, _, err := s.reply(draft, msgRequiredStep, "", outcomeCommand)
			return turn, err
		}
		updated, err := s.repo.UpdateDraft(ctx, userID, func(d *domain.Draft) error {
			if d.NextStep() == step {
				d.Skip(step)
				d.UpdatedAt = s.now()
			}
			return nil
		})
		if err != nil {
			return nil, persistenceError("skip step", err)
		}
		turn, _, err := s.reply(updated, msgSkipped, "", outcomeCommand)
		return turn, err

	case cmdEdit:
		if cmd.field == "" {
			turn, _, err := s.reply(draft, editableFields(), "", outcomeCommand)
			return turn, err
		}
		return s.startEdit(ctx, userID, cmd.field)
	}
	turn, _, err := s.reply(draft, "", "", outcomeCommand)
	return turn, err
}

func (s *Service) startEdit(ctx context.Context, userID string, field domain.Step) (*Turn, error) {
	updated, err := s.repo.UpdateDraft(ctx, userID, func(d *domain.Draft) error {
		d.StartEdit(field)
		d.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, persistenceError("start edit", err)
	}
	turn, _, err := s.reply(updated, fmt.Sprintf(msgEditFmt, StepLabel(field)), "", outcomeCommand)
	return turn, err
}

// routeEdit handles a negative answer at confirm: a named field is reopened,
// otherwise the editable fields are listed.
func (s *Service) routeEdit(ctx context.Context, userID string, draft *domain.Draft, normalized string) (*Turn, outcome, error) {
	if field, ok := fieldFromText(normalized); ok {
		turn, err := s.startEdit(ctx, userID, field)
		return turn, outcomeCommand, err
	}
	turn, _, err := s.reply(draft, "", "", outcomeConfirm)
	if err != nil {
		return nil, "", err
	}
	turn.Reply = editableFields()
	return turn, outcomeConfirm, nil
}

type publishResult struct {
	turn *Turn
	oc   outcome
}

// publish hands the completed draft to the publisher and resets it. Concurrent
// confirmations for one user share a single publish.
func (s *Service) publish(ctx context.Context, userID string) (*Turn, outcome, error) {
	v, err, _ := s.flights.Do("publish:"+userID, func() (any, error) {
		turn, oc, err := s.publishOnce(ctx, userID)
		if err != nil {
			return nil, err
		}
		return publishResult{turn: turn, oc: oc}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(publishResult)
	turn := *res.turn
	return &turn, res.oc, nil
}

func (s *Service) publishOnce(ctx context.Context, userID string) (*Turn, outcome, error) {
	draft, err := s.repo.LoadDraft(ctx, userID)
	if err != nil {
		return nil, "", persistenceError("load draft", err)
	}
	listing, ok := draft.ToListing(s.now().UTC())
	if !ok {
		return s.reply(draft, "", "", outcomeExtracted)
	}

	id, err := s.publisher.Publish(ctx, listing)
	if err != nil {
		listingsPublishedTotal.WithLabelValues("error").Inc()
		s.logger.Error("Failed to publish listing", "user_id", userID, "error", err)
		turn, _, rerr := s.reply(draft, msgPublishFailed, "", outcomePublishFailed)
		return turn, outcomePublishFailed, rerr
	}
	listingsPublishedTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Listing handed to marketplace", "user_id", userID, "listing_id", id)

	if err := s.repo.ResetDraft(ctx, userID); err != nil {
		// The listing exists; reporting failure would invite a second publish.
		s.logger.Error("Failed to reset draft after publish", "user_id", userID, "listing_id", id, "error", err)
	}
	return &Turn{
		Reply:     fmt.Sprintf(msgPublishedFmt, id),
		Draft:     s.snapshot(domain.NewDraft(userID)),
		Step:      domain.StepPublished,
		ListingID: id,
	}, outcomePublished, nil
}

// Snapshot returns the current draft with the prompt for its next step.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Turn, error) {
	draft, err := s.repo.LoadDraft(ctx, userID)
	if err != nil {
		return nil, persistenceError("load draft", err)
	}
	turn, _, err := s.reply(draft, "", "", outcomeCommand)
	return turn, err
}

// Reset discards the user's draft, like the cancel command.
func (s *Service) Reset(ctx context.Context, userID string) (*Turn, error) {
	return s.runCommand(ctx, userID, domain.NewDraft(userID), command{kind: cmdCancel})
}
