package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/moneybook/internal/auth"
	"github.com/punchamoorthee/moneybook/internal/domain"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/store"
)

// AccessToken is the result of a successful login.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	UserID    int64
}

type UserService struct {
	repo   store.Repository
	hasher *auth.Hasher
	tokens *auth.TokenIssuer
	logger *log.Logger
}

func NewUserService(repo store.Repository, hasher *auth.Hasher, tokens *auth.TokenIssuer, logger *log.Logger) *UserService {
	if logger == nil {
		logger = log.Discard()
	}
	return &UserService{repo: repo, hasher: hasher, tokens: tokens, logger: logger.WithComponent(log.ComponentAuth)}
}

// Register creates a user with a bcrypt hashed password. Emails are unique
// regardless of case.
func (s *UserService) Register(ctx context.Context, req domain.NewUser) (_ *domain.User, err error) {
	defer observe("register_user", time.Now(), &err)

	u := &domain.User{Name: strings.TrimSpace(req.Name), Email: normalizeEmail(req.Email)}
	if err := errors.Join(
		validateText("name", u.Name, minUserNameLen, maxNameLen),
		validateEmail(u.Email),
		validatePassword(req.Password),
	); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, internal(err)
	}
	u.PasswordHash = hash

	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, userWriteErr(err, u.Email)
	}
	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, u.ID)
	return u, nil
}

// Login checks the credentials and issues an access token. Unknown emails
// and wrong passwords fail the same way.
func (s *UserService) Login(ctx context.Context, email, password string) (_ *AccessToken, err error) {
	defer observe("login", time.Now(), &err)

	u, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: incorrect email or password", ErrUnauthorized)
	}
	if err != nil {
		return nil, internal(err)
	}
	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.WarnContext(ctx, "Failed login", log.FieldUserID, u.ID)
			return nil, fmt.Errorf("%w: incorrect email or password", ErrUnauthorized)
		}
		return nil, internal(err)
	}

	token, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, internal(err)
	}
	return &AccessToken{Token: token, ExpiresAt: exp, UserID: u.ID}, nil
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "user", id)
	}
	return u, nil
}

func (s *UserService) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	users, err := s.repo.ListUsers(ctx, page.Normalize())
	if err != nil {
		return nil, internal(err)
	}
	return users, nil
}

// UpdateUser changes the caller's own profile. Only name, email and password
// can change.
func (s *UserService) UpdateUser(ctx context.Context, callerID, id int64, patch domain.UserPatch) (_ *domain.User, err error) {
	defer observe("update_user", time.Now(), &err)

	if callerID != id {
		return nil, fmt.Errorf("%w: cannot update user %d", ErrForbidden, id)
	}
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "user", id)
	}

	var problems []error
	if patch.Name != nil {
		u.Name = strings.TrimSpace(*patch.Name)
		problems = append(problems, validateText("name", u.Name, minUserNameLen, maxNameLen))
	}
	if patch.Email != nil {
		u.Email = normalizeEmail(*patch.Email)
		problems = append(problems, validateEmail(u.Email))
	}
	if patch.Password != nil {
		problems = append(problems, validatePassword(*patch.Password))
	}
	if err := errors.Join(problems...); err != nil {
		return nil, err
	}

	if patch.Password != nil {
		hash, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return nil, internal(err)
		}
		u.PasswordHash = hash
	}
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("user", id)
		}
		return nil, userWriteErr(err, u.Email)
	}
	return u, nil
}

// DeleteUser removes the caller and everything the caller owns.
func (s *UserService) DeleteUser(ctx context.Context, callerID, id int64) (err error) {
	defer observe("delete_user", time.Now(), &err)

	if callerID != id {
		return fmt.Errorf("%w: cannot delete user %d", ErrForbidden, id)
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return lookupErr(err, "user", id)
	}
	s.logger.InfoContext(ctx, "User deleted", log.FieldUserID, id)
	return nil
}

func userWriteErr(err error, email string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: email %q is already registered", ErrConflict, email)
	}
	return internal(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
