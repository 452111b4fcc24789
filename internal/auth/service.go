// Package auth はパスワード認証によるユーザー登録・ログインとトークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/repository"
)

// TokenIssuer はユーザーに対するアクセストークンを発行する。
type TokenIssuer interface {
	Issue(subjectID, email string) (string, error)
}

// Recorder は認証操作の結果を記録する。
type Recorder interface {
	RecordAuthOperation(operation, result string)
}

// 操作名
const (
	OperationRegister = "register"
	OperationLogin    = "login"
)

const resultSuccess = "success"

// 未登録ユーザーのログイン時に検証に使用するダミーの秘密値
const dummySecret = "authgate-dummy-secret"

// fallbackDummyHash はダミーハッシュの生成に失敗した場合に検証に使用する固定のPHC文字列。
// 既定パラメータ（m=19456,t=2,p=1）で、どの秘密値とも一致しない。
const fallbackDummyHash = "$argon2id$v=19$m=19456,t=2,p=1$yCT1gk5qZVI5gitwC53fHw$deUjDuCcg9XCNhyTMLEKBbLrWVE7Dhx+tFUzv35ExFY"

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	hasher   password.Hasher
	issuer   TokenIssuer
	recorder Recorder

	dummyMu   sync.Mutex
	dummyHash string
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	users repository.UserRepository,
	hasher password.Hasher,
	issuer TokenIssuer,
	recorder Recorder,
) *Service {
	return &Service{
		users:    users,
		hasher:   hasher,
		issuer:   issuer,
		recorder: recorder,
	}
}

// Register はユーザーを登録し、トークンとユーザー情報を返す。
// ストアへの問い合わせは1回、成功時の書き込みは1回のみ。
// 存在確認と作成の間に同じemailが登録された場合も KindAlreadyExists を返す。
func (s *Service) Register(ctx context.Context, email, secret string) (*model.AuthResult, error) {
	result, err := s.register(ctx, email, secret)
	s.record(OperationRegister, err)
	return result, err
}

func (s *Service) register(ctx context.Context, email, secret string) (*model.AuthResult, error) {
	// 1. 既存ユーザーを確認
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, newError(KindStoreFailure, fmt.Errorf("failed to find user: %w", err))
	}
	if existing != nil {
		return nil, newError(KindAlreadyExists, nil)
	}

	// 2. パスワードをハッシュ化
	encoded, err := s.hasher.Hash([]byte(secret))
	if err != nil {
		return nil, newError(KindHashingFailure, err)
	}

	// 3. ユーザーを作成
	user, err := s.users.Create(ctx, email, encoded)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, newError(KindAlreadyExists, err)
		}
		return nil, newError(KindStoreFailure, fmt.Errorf("failed to create user: %w", err))
	}

	// 4. トークンを発行
	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return result, nil
}

// Login はemailとパスワードを検証し、トークンとユーザー情報を返す。
// 未登録のemailとパスワード誤りはいずれも KindInvalidCredentials となる。
// ストアへの問い合わせは1回のみで、書き込みは行わない。
func (s *Service) Login(ctx context.Context, email, secret string) (*model.AuthResult, error) {
	result, err := s.login(ctx, email, secret)
	s.record(OperationLogin, err)
	return result, err
}

func (s *Service) login(ctx context.Context, email, secret string) (*model.AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, newError(KindStoreFailure, fmt.Errorf("failed to find user: %w", err))
	}

	if user == nil {
		// 応答時間からユーザーの存在が推測されないよう、未登録でもハッシュ検証を行う
		s.verifyDummy(secret)
		return nil, newError(KindInvalidCredentials, nil)
	}

	if !s.hasher.Verify([]byte(secret), user.PasswordHash) {
		return nil, newError(KindInvalidCredentials, nil)
	}

	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return result, nil
}

// CurrentUser はトークンの主体IDに対応するユーザーを返す。見つからない場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, subjectID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, subjectID)
	if err != nil {
		return nil, newError(KindStoreFailure, fmt.Errorf("failed to find user: %w", err))
	}
	return user, nil
}

func (s *Service) issue(user *model.User) (*model.AuthResult, error) {
	tok, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return nil, newError(KindTokenFailure, err)
	}
	return &model.AuthResult{Token: tok, User: user.Summary()}, nil
}

func (s *Service) verifyDummy(secret string) {
	s.hasher.Verify([]byte(secret), s.dummyEncoded())
}

// dummyEncoded は設定中のハッシャーで生成したダミーハッシュを返す。
// 生成に失敗した場合は次回に再試行し、今回は固定のハッシュを返す。
func (s *Service) dummyEncoded() string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash == "" {
		encoded, err := s.hasher.Hash([]byte(dummySecret))
		if err != nil {
			slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return fallbackDummyHash
		}
		s.dummyHash = encoded
	}
	return s.dummyHash
}

func (s *Service) record(operation string, err error) {
	result := resultSuccess
	if err != nil {
		result = "error"
		if kind, ok := KindOf(err); ok {
			result = kind.String()
		}
		slog.Warn("auth operation failed",
			slog.String("operation", operation),
			slog.String("result", result),
			slog.String("error", err.Error()),
		)
	}
	if s.recorder != nil {
		s.recorder.RecordAuthOperation(operation, result)
	}
}
