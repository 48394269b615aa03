package service

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/one-time-login-api/pkg/errors"
	"github.com/noah-isme/one-time-login-api/pkg/lock"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

// Default window bounds when the caller supplies none: effectively
// unbounded below and above.
var (
	DefaultActivateAt   = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultDeactivateAt = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Named retire_at values: "never" disables automatic deletion,
// "immediate" (the default when empty) deletes on first successful use.
const (
	RetirePolicyNever     = "never"
	RetirePolicyImmediate = "immediate"
)

type tokenStore interface {
	Load(ctx context.Context, userID string) ([]models.LoginToken, error)
	Save(ctx context.Context, userID string, tokens []models.LoginToken) error
}

type tokenUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type cleanupScheduler interface {
	ScheduleOnce(ctx context.Context, userID string, runAt time.Time, secrets []string) (*models.CleanupJob, error)
	CancelUser(ctx context.Context, userID string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event string, payload interface{})
}

type tokenMetrics interface {
	TokensIssued(n int)
	TokenValidated(outcome string)
	CleanupRan()
}

// TokenConfig configures URL construction and cleanup policy.
type TokenConfig struct {
	// BaseURL + LoginPath form the login endpoint the issued URLs
	// point at.
	BaseURL   string
	LoginPath string
	// DefaultRedirect is used when a token has no redirect target.
	DefaultRedirect string
	// CleanupIncludeNew adds the freshly issued tokens to the cleanup
	// snapshot scheduled by the same call. Default is off: only
	// pre-existing tokens are registered for the scheduled cleanup.
	CleanupIncludeNew bool
	// Clock is overridable for tests. Defaults to time.Now.
	Clock func() time.Time
}

// TokenService is the token lifecycle engine: it generates tokens,
// classifies them by time window, decides validity and prunes
// records. It keeps no state between calls beyond the per-user lock.
type TokenService struct {
	store     tokenStore
	users     tokenUserRepository
	scheduler cleanupScheduler
	events    eventPublisher
	metrics   tokenMetrics
	locks     *lock.Keyed
	logger    *zap.Logger
	config    TokenConfig
}

// NewTokenService constructs the lifecycle engine. scheduler, events
// and metrics may be nil.
func NewTokenService(store tokenStore, users tokenUserRepository, scheduler cleanupScheduler, events eventPublisher, metrics tokenMetrics, logger *zap.Logger, config TokenConfig) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.DefaultRedirect == "" {
		config.DefaultRedirect = "/dashboard"
	}
	return &TokenService{
		store:     store,
		users:     users,
		scheduler: scheduler,
		events:    events,
		metrics:   metrics,
		locks:     lock.NewKeyed(),
		logger:    logger,
		config:    config,
	}
}

// Issue generates count fresh tokens for the user, appends them to the
// existing set and returns one login URL per token. Issuance is
// additive: live tokens already in the set survive.
func (s *TokenService) Issue(ctx context.Context, req models.IssueRequest) (*models.IssueResult, error) {
	now := s.config.Clock().UTC()

	count := req.Count
	if count == 0 {
		count = 1
	}
	if count < 1 {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameter, "count must be at least 1")
	}

	activateAt, err := parseBound(req.ActivateAt, false, DefaultActivateAt)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameter, fmt.Sprintf("invalid activate-at %q", req.ActivateAt))
	}
	deactivateAt, err := parseBound(req.DeactivateAt, true, DefaultDeactivateAt)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameter, fmt.Sprintf("invalid deactivate-at %q", req.DeactivateAt))
	}
	if activateAt.After(deactivateAt) {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameter, "activate-at must not be after deactivate-at")
	}

	retireAt, retireNever, err := parseRetirePolicy(req.RetireAt, now)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidParameter, fmt.Sprintf("invalid retire-at %q", req.RetireAt))
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "load user")
	}

	s.locks.Lock(user.ID)
	defer s.locks.Unlock(user.ID)

	tokens, err := s.store.Load(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	tokens = dropRetired(tokens, now)

	// Snapshot of the set as it stood before this issuance; a
	// scheduled cleanup only retires these, not the tokens minted
	// below, unless configured otherwise.
	snapshot := secretsOf(tokens)

	issued := make([]models.LoginToken, 0, count)
	for i := 0; i < count; i++ {
		secret, err := generateSecret()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "generate token secret")
		}
		token := models.LoginToken{
			Secret:         secret,
			ActivateAt:     activateAt,
			DeactivateAt:   deactivateAt,
			RetireAt:       retireAt,
			RetireNever:    retireNever,
			RedirectTarget: req.Redirect,
			IssuedAt:       now,
		}
		tokens = append(tokens, token)
		issued = append(issued, token)
	}

	if err := s.store.Save(ctx, user.ID, tokens); err != nil {
		return nil, err
	}

	result := &models.IssueResult{UserID: user.ID, Tokens: issued}
	for _, token := range issued {
		result.URLs = append(result.URLs, s.loginURL(user.ID, token.Secret))
	}

	if retireAt != nil && retireAt.After(now) && s.scheduler != nil {
		targets := snapshot
		if s.config.CleanupIncludeNew {
			targets = append(targets, secretsOf(issued)...)
		}
		if len(targets) > 0 {
			if _, err := s.scheduler.ScheduleOnce(ctx, user.ID, *retireAt, targets); err != nil {
				s.logger.Warn("failed to schedule token cleanup", zap.String("user_id", user.ID), zap.Error(err))
			} else {
				result.CleanupAt = retireAt
			}
		}
	}

	if s.metrics != nil {
		s.metrics.TokensIssued(len(issued))
	}
	if s.events != nil {
		s.events.Publish(ctx, EventTokensIssued, map[string]interface{}{
			"user_id": user.ID,
			"count":   len(issued),
		})
	}
	s.logger.Info("login tokens issued",
		zap.String("user_id", user.ID),
		zap.Int("count", len(issued)),
		zap.Time("activate_at", activateAt),
		zap.Time("deactivate_at", deactivateAt),
	)

	return result, nil
}

// Validate decides whether the presented secret grants access right
// now and mutates the stored set accordingly. Every failure mode
// returns the same generic error so user ids and tokens cannot be
// enumerated.
func (s *TokenService) Validate(ctx context.Context, req models.ValidateRequest) (*models.ValidateResult, error) {
	now := s.config.Clock().UTC()

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.authFailure("unknown user")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "load user")
	}

	s.locks.Lock(user.ID)
	defer s.locks.Unlock(user.ID)

	tokens, err := s.store.Load(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	// First pass: hard expiry wins. Records past a finite retire_at
	// are dropped whether or not this attempt succeeds.
	tokens = dropRetired(tokens, now)

	// Second pass: never mutate the slice being scanned; build the
	// survivor list as we go. Records past their deactivate_at are
	// kept (they stay until hard-expired or pruned) but cannot match.
	kept := make([]models.LoginToken, 0, len(tokens))
	var matched *models.LoginToken
	for _, token := range tokens {
		if matched == nil && !now.After(token.DeactivateAt) && token.MatchesSecret(req.Secret) && token.InWindow(now) {
			consumed := token
			matched = &consumed
			if token.RetireImmediately() {
				continue
			}
		}
		kept = append(kept, token)
	}

	// Persisted regardless of outcome so hard-expiry pruning survives
	// failed attempts.
	if err := s.store.Save(ctx, user.ID, kept); err != nil {
		return nil, err
	}

	if matched == nil {
		return nil, s.authFailure("no matching token in window")
	}

	redirect := matched.RedirectTarget
	if redirect == "" {
		redirect = s.config.DefaultRedirect
	}

	if s.metrics != nil {
		s.metrics.TokenValidated("valid")
	}
	if s.events != nil {
		s.events.Publish(ctx, EventTokenUsed, map[string]interface{}{"user_id": user.ID})
	}
	s.logger.Info("login token accepted", zap.String("user_id", user.ID))

	return &models.ValidateResult{User: user, RedirectTarget: redirect}, nil
}

// Prune removes the listed secrets from the user's set. Invoked by the
// scheduler at a previously registered instant; re-invoking with
// already-removed secrets is a no-op.
func (s *TokenService) Prune(ctx context.Context, userID string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	tokens, err := s.store.Load(ctx, userID)
	if err != nil {
		return err
	}

	retired := make(map[string]struct{}, len(secrets))
	for _, secret := range secrets {
		retired[secret] = struct{}{}
	}

	kept := make([]models.LoginToken, 0, len(tokens))
	for _, token := range tokens {
		if _, gone := retired[token.Secret]; gone {
			continue
		}
		kept = append(kept, token)
	}

	if err := s.store.Save(ctx, userID, kept); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.CleanupRan()
	}
	s.logger.Info("token cleanup ran",
		zap.String("user_id", userID),
		zap.Int("removed", len(tokens)-len(kept)),
	)
	return nil
}

// PruneAll wipes the user's token set and cancels any pending
// scheduled cleanups.
func (s *TokenService) PruneAll(ctx context.Context, userID string) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	if err := s.store.Save(ctx, userID, nil); err != nil {
		return err
	}
	if s.scheduler != nil {
		if err := s.scheduler.CancelUser(ctx, userID); err != nil {
			s.logger.Warn("failed to cancel pending cleanups", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// List returns the user's live token records, hard-expired ones
// already dropped and persisted away.
func (s *TokenService) List(ctx context.Context, userID string) ([]models.TokenView, error) {
	now := s.config.Clock().UTC()

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	tokens, err := s.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	kept := dropRetired(tokens, now)
	if len(kept) != len(tokens) {
		if err := s.store.Save(ctx, userID, kept); err != nil {
			return nil, err
		}
	}

	views := make([]models.TokenView, 0, len(kept))
	for _, token := range kept {
		views = append(views, token.View())
	}
	return views, nil
}

func (s *TokenService) authFailure(reason string) error {
	if s.metrics != nil {
		s.metrics.TokenValidated("invalid")
	}
	// The reason stays in the log; the caller always sees the same
	// generic message.
	s.logger.Info("login token rejected", zap.String("reason", reason))
	return appErrors.Clone(appErrors.ErrAuthFailed, appErrors.GenericAuthMessage)
}

func (s *TokenService) loginURL(userID, secret string) string {
	return fmt.Sprintf("%s%s?user_id=%s&token=%s",
		s.config.BaseURL, s.config.LoginPath, url.QueryEscape(userID), url.QueryEscape(secret))
}

func dropRetired(tokens []models.LoginToken, now time.Time) []models.LoginToken {
	kept := make([]models.LoginToken, 0, len(tokens))
	for _, token := range tokens {
		if token.Retired(now) {
			continue
		}
		kept = append(kept, token)
	}
	return kept
}

func secretsOf(tokens []models.LoginToken) []string {
	secrets := make([]string, 0, len(tokens))
	for _, token := range tokens {
		secrets = append(secrets, token.Secret)
	}
	return secrets
}

// generateSecret derives the credential from cryptographically strong
// random material, hashed to a 40-char hex string.
func generateSecret() (string, error) {
	password := make([]byte, 24)
	if _, err := rand.Read(password); err != nil {
		return "", err
	}
	sum := sha1.Sum(password)
	return hex.EncodeToString(sum[:]), nil
}

var boundLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const dateOnlyLayout = "2006-01-02"

// parseBound parses a date-only or date-time string. Date-only values
// normalize to the start of day for lower bounds and the end of day
// (23:59:59) for upper bounds.
func parseBound(raw string, endOfDay bool, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.ParseInLocation(dateOnlyLayout, raw, time.UTC); err == nil {
		if endOfDay {
			t = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		}
		return t, nil
	}
	for _, layout := range boundLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", raw)
}

// parseRetirePolicy interprets the retire_at parameter: empty or
// "immediate" means delete on first successful use, "never" disables
// deletion, an
// absolute date/date-time pins the instant, a bare integer counts
// minutes from now, and a duration string offsets from now.
func parseRetirePolicy(raw string, now time.Time) (*time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, RetirePolicyImmediate) {
		return nil, false, nil
	}
	if strings.EqualFold(raw, RetirePolicyNever) {
		return nil, true, nil
	}
	if t, err := parseBound(raw, true, time.Time{}); err == nil && !t.IsZero() {
		return &t, false, nil
	}
	if minutes, err := strconv.Atoi(raw); err == nil {
		if minutes <= 0 {
			return nil, false, fmt.Errorf("retire delay must be positive")
		}
		t := now.Add(time.Duration(minutes) * time.Minute)
		return &t, false, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return nil, false, fmt.Errorf("retire delay must be positive")
		}
		t := now.Add(d)
		return &t, false, nil
	}
	return nil, false, fmt.Errorf("unparseable retire policy %q", raw)
}
