package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"voltledger/internal/models"
	"voltledger/internal/store"
	"voltledger/internal/utils"
)

const (
	minPasswordLength = 6
	resetTokenTTL     = 15 * time.Minute
)

type UserService struct {
	base
}

func NewUserService(d Deps) *UserService {
	return &UserService{base: newBase(d)}
}

// Register creates an account with a fresh referral code. The referral code
// given in ReferredBy is stored as is; an unknown code only means no bonus
// is ever cascaded.
func (s *UserService) Register(ctx context.Context, req models.CreateUserRequest, admin bool) (*models.User, error) {
	req.Phone = strings.TrimSpace(req.Phone)
	req.Username = strings.TrimSpace(req.Username)
	req.ReferredBy = strings.ToUpper(strings.TrimSpace(req.ReferredBy))
	if req.Phone == "" || req.Username == "" || req.Password == "" {
		return nil, ErrMissingFields
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var user *models.User
	err = s.store.WithTx(ctx, func(r store.Repo) error {
		code, err := generateUniqueReferralCode(ctx, r)
		if err != nil {
			return err
		}

		user = &models.User{
			Phone:        req.Phone,
			Username:     req.Username,
			PasswordHash: hash,
			ReferralCode: code,
			IsAdmin:      admin,
			CreatedAt:    s.now().UTC(),
		}
		if req.ReferredBy != "" && !admin {
			user.ReferredBy = &req.ReferredBy
		}

		if err := r.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrUserExists
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Bool("admin", admin),
	)
	return user, nil
}

// Login checks credentials against username or phone.
func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.User, error) {
	login := strings.TrimSpace(req.UsernameOrPhone)
	if login == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := store.Read(ctx, s.store, func(r store.Repo) (*models.User, error) {
		return r.GetUserByLogin(ctx, login)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if user.IsBlocked {
		return nil, ErrAccountBlocked
	}
	return user, nil
}

func (s *UserService) AdminLogin(ctx context.Context, req models.LoginRequest) (*models.User, error) {
	user, err := s.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin {
		return nil, ErrAdminOnly
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	return store.Read(ctx, s.store, func(r store.Repo) (*models.User, error) {
		return getUser(ctx, r, userID, false)
	})
}

// Team lists the users who registered with the caller's referral code.
func (s *UserService) Team(ctx context.Context, userID int64) ([]models.User, error) {
	return store.Read(ctx, s.store, func(r store.Repo) ([]models.User, error) {
		u, err := getUser(ctx, r, userID, false)
		if err != nil {
			return nil, err
		}
		team, err := r.ListReferrals(ctx, u.ReferralCode)
		if err != nil {
			return nil, fmt.Errorf("list referrals: %w", err)
		}
		if team == nil {
			team = []models.User{}
		}
		return team, nil
	})
}

func newResetToken() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ForgotPassword issues a short-lived reset token. There is no SMS gateway:
// the token is written to the log and listed to admins.
func (s *UserService) ForgotPassword(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ErrMissingFields
	}
	token, err := newResetToken()
	if err != nil {
		return err
	}
	expiry := s.now().Add(resetTokenTTL)

	err = s.store.WithTx(ctx, func(r store.Repo) error {
		u, err := r.GetUserByPhone(ctx, phone)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}
		return r.SetResetToken(ctx, u.ID, &token, &expiry)
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset token issued",
		zap.String("phone", phone),
		zap.String("token", token),
		zap.Time("expires_at", expiry),
	)
	return nil
}

func (s *UserService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if req.Phone == "" || req.Token == "" || req.NewPassword == "" {
		return ErrMissingFields
	}
	if len(req.NewPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()

	return s.store.WithTx(ctx, func(r store.Repo) error {
		u, err := r.GetUserByPhone(ctx, strings.TrimSpace(req.Phone))
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidResetToken
		}
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}
		if u.ResetToken == nil || *u.ResetToken != req.Token ||
			u.ResetTokenExpiry == nil || !u.ResetTokenExpiry.After(now) {
			return ErrInvalidResetToken
		}
		return r.SetPassword(ctx, u.ID, hash)
	})
}

// ListResetTokens returns outstanding reset tokens, latest expiry first.
func (s *UserService) ListResetTokens(ctx context.Context) ([]models.ResetTokenInfo, error) {
	users, err := store.Read(ctx, s.store, func(r store.Repo) ([]models.User, error) {
		return r.ListUsers(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := []models.ResetTokenInfo{}
	for _, u := range users {
		if u.ResetToken == nil || u.ResetTokenExpiry == nil {
			continue
		}
		login := u.Phone
		if login == "" {
			login = u.Username
		}
		out = append(out, models.ResetTokenInfo{
			UserID:    u.ID,
			Login:     login,
			Token:     *u.ResetToken,
			ExpiresAt: *u.ResetTokenExpiry,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out, nil
}

func (s *UserService) ClearResetToken(ctx context.Context, userID int64) error {
	return s.store.WithTx(ctx, func(r store.Repo) error {
		if _, err := getUser(ctx, r, userID, false); err != nil {
			return err
		}
		return r.SetResetToken(ctx, userID, nil, nil)
	})
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := store.Read(ctx, s.store, func(r store.Repo) ([]models.User, error) {
		return r.ListUsers(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

func (s *UserService) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		err := r.SetBlocked(ctx, userID, blocked)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Info("user block state changed", zap.Int64("user_id", userID), zap.Bool("blocked", blocked))
	return nil
}

func (s *UserService) DeleteUser(ctx context.Context, userID int64) error {
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		err := r.DeleteUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.Int64("user_id", userID))
	return nil
}
