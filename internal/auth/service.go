// Package auth owns identity: account creation, sign-in, password hashing,
// session tokens, and deriving the request actor from the Authorization header.
package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kuitang/notedly/internal/errs"
	"github.com/kuitang/notedly/internal/obs"
	"github.com/kuitang/notedly/internal/store"
)

const MaxUsernameLength = 64

// Messages returned to clients. Sign-in failures share one message so the
// response does not reveal whether the account exists.
const (
	msgSignUpFailed = "Error creating account"
	msgSignInFailed = "Error signing in"
)

// Service handles account creation and sign-in.
type Service struct {
	users  store.UserStore
	hasher PasswordHasher
	tokens *TokenIssuer
	clock  Clock

	dummyOnce sync.Once
	dummyHash string
}

func NewService(users store.UserStore, hasher PasswordHasher, tokens *TokenIssuer) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		clock:  realClock{},
	}
}

// SetClock replaces the clock used for timestamps and tokens. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
	s.tokens.SetClock(c)
}

// Tokens returns the issuer used to sign session tokens.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// GravatarURL is the identicon avatar for a normalized email address.
func GravatarURL(email string) string {
	sum := md5.Sum([]byte(store.NormalizeEmail(email)))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + ".jpg?d=identicon"
}

func validateSignUp(username, email, password string) error {
	if username == "" {
		return errs.New(errs.InvalidArgument, "username is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("username must be at most %d characters", MaxUsernameLength))
	}
	if email == "" {
		return errs.New(errs.InvalidArgument, "email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return errs.New(errs.InvalidArgument, "email is invalid")
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return errs.Wrap(errs.InvalidArgument, err.Error(), err)
	}
	return nil
}

// SignUp creates an account and returns a session token for it.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (string, error) {
	username = strings.TrimSpace(username)
	email = store.NormalizeEmail(email)
	if err := validateSignUp(username, email, password); err != nil {
		return "", err
	}

	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return "", errs.Wrap(errs.Internal, msgSignUpFailed, err)
	}
	id, err := store.NewID()
	if err != nil {
		return "", errs.Wrap(errs.Internal, msgSignUpFailed, err)
	}

	now := s.clock.Now().UTC()
	u := &store.User{
		ID:           id,
		Username:     username,
		Email:        email,
		Avatar:       GravatarURL(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", errs.Wrap(errs.AlreadyExists, msgSignUpFailed, err)
		}
		obs.From(ctx).Error("signup_store_failed", "error", err)
		return "", errs.Wrap(errs.Internal, msgSignUpFailed, err)
	}

	obs.From(ctx).Info("user_signed_up", "user_id", u.ID)
	return s.issue(u.ID)
}

// SignIn verifies credentials by username or email and returns a session token.
func (s *Service) SignIn(ctx context.Context, username, email, password string) (string, error) {
	username = strings.TrimSpace(username)
	email = store.NormalizeEmail(email)
	if username == "" && email == "" {
		return "", errs.New(errs.Unauthenticated, msgSignInFailed)
	}

	u, err := s.users.FindUserByLogin(ctx, username, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same hashing time as a real check.
			s.hasher.VerifyPassword(password, s.dummy())
			return "", errs.New(errs.Unauthenticated, msgSignInFailed)
		}
		obs.From(ctx).Error("signin_store_failed", "error", err)
		return "", errs.Wrap(errs.Internal, msgSignInFailed, err)
	}

	if !s.hasher.VerifyPassword(password, u.PasswordHash) {
		return "", errs.New(errs.Unauthenticated, msgSignInFailed)
	}
	return s.issue(u.ID)
}

func (s *Service) issue(userID string) (string, error) {
	token, err := s.tokens.Issue(userID)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "Error issuing token", err)
	}
	return token, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.HashPassword("notedly-placeholder-password")
	})
	return s.dummyHash
}

// Authenticate resolves an Authorization header to an actor. An empty
// header yields a nil actor and no error.
func (s *Service) Authenticate(header string) (*Actor, error) {
	token := TokenFromHeader(header)
	if token == "" {
		return nil, nil
	}
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, errs.Wrap(errs.Unauthenticated, "Session invalid", err)
	}
	return &Actor{UserID: userID}, nil
}

func userError(ctx context.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.Wrap(errs.NotFound, "User not found", err)
	}
	obs.From(ctx).Error("user_store_failed", "error", err)
	return errs.Wrap(errs.Internal, "internal error", err)
}

// User returns the account with id.
func (s *Service) User(ctx context.Context, id string) (*store.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, userError(ctx, err)
	}
	return u, nil
}

// UserByUsername returns the named account, or nil when there is none.
func (s *Service) UserByUsername(ctx context.Context, username string) (*store.User, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, userError(ctx, err)
	}
	return u, nil
}

// Users lists every account.
func (s *Service) Users(ctx context.Context) ([]store.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, userError(ctx, err)
	}
	return users, nil
}

// UsersByIDs returns the accounts for ids in the same order. Ids with no
// account are skipped.
func (s *Service) UsersByIDs(ctx context.Context, ids []string) ([]store.User, error) {
	found, err := s.users.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, userError(ctx, err)
	}
	byID := make(map[string]*store.User, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}
	out := make([]store.User, 0, len(found))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

// Me returns the actor's own account.
func (s *Service) Me(ctx context.Context, actor *Actor) (*store.User, error) {
	if actor == nil {
		return nil, errs.New(errs.Unauthenticated, "You must be signed in to view your account")
	}
	return s.User(ctx, actor.UserID)
}
