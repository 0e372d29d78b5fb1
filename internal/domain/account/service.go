package account

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/imaging/internal/domain/exam"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/internal/platform/db"
)

// ExamLedger is the view of exam records that account removal needs.
type ExamLedger interface {
	CountByCreator(ctx context.Context, accountID uuid.UUID) (int, error)
	ListByCreator(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*exam.Summary, int, error)
	RemoveByCreator(ctx context.Context, accountID uuid.UUID) (int, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo        Repository
	exams       ExamLedger
	tx          Transactor
	tokens      *auth.TokenIssuer
	hasher      *auth.Hasher
	adminSecret string
	logger      zerolog.Logger
}

func NewService(repo Repository, exams ExamLedger, tx Transactor, tokens *auth.TokenIssuer,
	hasher *auth.Hasher, adminSecret string, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		exams:       exams,
		tx:          tx,
		tokens:      tokens,
		hasher:      hasher,
		adminSecret: adminSecret,
		logger:      logger.With().Str("component", "account-service").Logger(),
	}
}

func duplicate(err error) error {
	switch c := db.ConstraintName(err); {
	case strings.Contains(c, "email"):
		return apperr.Conflict("email already registered")
	case strings.Contains(c, "national_id"):
		return apperr.Conflict("national ID already registered")
	}
	return apperr.Conflict("account already exists")
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("account %s not found", id)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// LookupActor resolves the account behind a verified token.
func (s *Service) LookupActor(ctx context.Context, id uuid.UUID) (auth.Actor, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return auth.Actor{}, err
	}
	return a.Actor(), nil
}

// Login exchanges credentials for a bearer token. Unknown emails and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	a, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil && !db.IsNoRows(err) {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if a == nil || !s.hasher.Check(a.PasswordHash, password) {
		return nil, apperr.Unauthenticated("invalid email or password")
	}
	if !a.Active {
		return nil, apperr.Deactivated()
	}
	token, exp, err := s.tokens.Issue(a.ID, a.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info().Str("account_id", a.ID.String()).Msg("login")
	return &LoginResult{AccessToken: token, TokenType: "bearer", ExpiresAt: exp, Account: a}, nil
}

func (s *Service) create(ctx context.Context, in NewAccount, role auth.Role, mustChange bool) (*Account, error) {
	a, err := in.build(role, mustChange)
	if err != nil {
		return nil, err
	}
	if a.PasswordHash, err = s.hasher.Hash(in.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, duplicate(err)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// RegisterAdmin creates an administrator when secret matches the configured
// administrator key. Administrators choose their own password.
func (s *Service) RegisterAdmin(ctx context.Context, in NewAccount, secret string) (*Account, error) {
	if s.adminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.adminSecret)) != 1 {
		return nil, apperr.Forbidden("invalid administrator secret")
	}
	a, err := s.create(ctx, in, auth.RoleAdministrator, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", a.ID.String()).Msg("administrator registered")
	return a, nil
}

// Bootstrap creates an administrator without a secret. It backs the
// command-line bootstrap only.
func (s *Service) Bootstrap(ctx context.Context, in NewAccount) (*Account, error) {
	return s.create(ctx, in, auth.RoleAdministrator, false)
}

// CreateStandard creates a standard account that must change its password
// on first login.
func (s *Service) CreateStandard(ctx context.Context, in NewAccount) (*Account, error) {
	actor, err := auth.AuthorizeContext(ctx, auth.OpManageAccounts)
	if err != nil {
		return nil, err
	}
	a, err := s.create(ctx, in, auth.RoleStandard, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("account_id", a.ID.String()).
		Str("actor_id", actor.ID.String()).
		Msg("account created")
	return a, nil
}

func (s *Service) current(ctx context.Context) (*Account, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, apperr.Unauthenticated("authentication required")
	}
	return s.get(ctx, actor.ID)
}

func (s *Service) Me(ctx context.Context) (*Account, error) {
	return s.current(ctx)
}

func (s *Service) UpdateMe(ctx context.Context, ch ProfileChanges) (*Account, error) {
	a, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if ch.FullName != nil {
		if a.FullName, err = normalizeName(*ch.FullName); err != nil {
			return nil, err
		}
	}
	if ch.Email != nil {
		if a.Email, err = normalizeEmail(*ch.Email); err != nil {
			return nil, err
		}
	}
	if ch.Phone != nil {
		if a.Phone, err = normalizePhone(ch.Phone); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, a); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, duplicate(err)
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	return a, nil
}

func (s *Service) setPassword(ctx context.Context, a *Account, pw string) error {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	a.PasswordHash = hash
	a.MustChangePassword = false
	if err := s.repo.Update(ctx, a); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.Info().Str("account_id", a.ID.String()).Msg("password changed")
	return nil
}

// FirstPassword replaces the temporary password of an account flagged for a
// forced change.
func (s *Service) FirstPassword(ctx context.Context, pw string) error {
	a, err := s.current(ctx)
	if err != nil {
		return err
	}
	if !a.MustChangePassword {
		return apperr.Validation("password change is not required")
	}
	if err := checkPassword(pw); err != nil {
		return err
	}
	return s.setPassword(ctx, a, pw)
}

func (s *Service) ChangePassword(ctx context.Context, currentPw, newPw string) error {
	a, err := s.current(ctx)
	if err != nil {
		return err
	}
	if !s.hasher.Check(a.PasswordHash, currentPw) {
		return apperr.Validation("current password is incorrect")
	}
	if currentPw == newPw {
		return apperr.Validation("new password must differ from the current one")
	}
	if err := checkPassword(newPw); err != nil {
		return err
	}
	return s.setPassword(ctx, a, newPw)
}

// DeleteMe removes the caller's own account. Accounts that registered exams
// must be removed by an administrator.
func (s *Service) DeleteMe(ctx context.Context, password string) error {
	a, err := s.current(ctx)
	if err != nil {
		return err
	}
	if !s.hasher.Check(a.PasswordHash, password) {
		return apperr.Validation("password is incorrect")
	}
	n, err := s.exams.CountByCreator(ctx, a.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("account has %d registered exams; contact an administrator", n)
	}
	if err := s.repo.Delete(ctx, a.ID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.logger.Info().Str("account_id", a.ID.String()).Msg("account deleted by owner")
	return nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Account, int, error) {
	if _, err := auth.AuthorizeContext(ctx, auth.OpManageAccounts); err != nil {
		return nil, 0, err
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, apperr.Validation("unknown role %q", f.Role)
	}
	out, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	return out, total, nil
}

// CreatedExams is an account together with the exams it registered.
type CreatedExams struct {
	Account *Account        `json:"account"`
	Total   int             `json:"total"`
	Exams   []*exam.Summary `json:"exams"`
}

func (s *Service) ExamsOf(ctx context.Context, id uuid.UUID, limit, offset int) (*CreatedExams, error) {
	if _, err := auth.AuthorizeContext(ctx, auth.OpManageAccounts); err != nil {
		return nil, err
	}
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	exams, total, err := s.exams.ListByCreator(ctx, id, limit, offset)
	if err != nil {
		return nil, err
	}
	return &CreatedExams{Account: a, Total: total, Exams: exams}, nil
}

// Toggle flips the active flag of another account.
func (s *Service) Toggle(ctx context.Context, id uuid.UUID) (*Account, error) {
	actor, err := auth.AuthorizeContext(ctx, auth.OpManageAccounts)
	if err != nil {
		return nil, err
	}
	if actor.ID == id {
		return nil, apperr.Validation("you cannot deactivate your own account")
	}
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Active = !a.Active
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("toggle account: %w", err)
	}
	s.logger.Info().
		Str("account_id", a.ID.String()).
		Bool("active", a.Active).
		Str("actor_id", actor.ID.String()).
		Msg("account active flag changed")
	return a, nil
}

// Delete removes another account. With cascadeExams its live exams are
// soft-deleted in the same transaction; without it any exam blocks removal.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, cascadeExams bool) error {
	actor, err := auth.AuthorizeContext(ctx, auth.OpManageAccounts)
	if err != nil {
		return err
	}
	if actor.ID == id {
		return apperr.Validation("you cannot delete your own account here")
	}

	removed := 0
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.get(ctx, id); err != nil {
			return err
		}
		n, err := s.exams.CountByCreator(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 && !cascadeExams {
			return apperr.Conflict("account has %d registered exams; delete them too or deactivate the account", n)
		}
		if n > 0 {
			if removed, err = s.exams.RemoveByCreator(ctx, id); err != nil {
				return err
			}
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("account_id", id.String()).
		Int("exams_removed", removed).
		Str("actor_id", actor.ID.String()).
		Msg("account deleted")
	return nil
}
