package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/token"
)

// --- モック定義 ---

// memoryUserRepo はメモリ上でemailの一意性を保証するUserRepository。
// 呼び出し回数を記録する。
type memoryUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*model.User
	seq     int

	finds   int
	creates int

	findErr   error
	createErr error
	// beforeCreate はCreateの直前に呼ばれる。並行登録の再現に使用する。
	beforeCreate func(r *memoryUserRepo)
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{byEmail: map[string]*model.User{}}
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.findErr != nil {
		return nil, r.findErr
	}
	u, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryUserRepo) Create(_ context.Context, email, passwordHash string) (*model.User, error) {
	if r.beforeCreate != nil {
		r.beforeCreate(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return nil, r.createErr
	}
	if _, ok := r.byEmail[email]; ok {
		return nil, repository.ErrDuplicateEmail
	}
	r.seq++
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &model.User{
		ID:           fmt.Sprintf("00000000-0000-4000-8000-%012d", r.seq),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byEmail[email] = u
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byEmail)
}

type countingHasher struct {
	password.Hasher
	hashErr  error
	hashes   int
	verifies int
}

func (h *countingHasher) Hash(secret []byte) (string, error) {
	h.hashes++
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return h.Hasher.Hash(secret)
}

func (h *countingHasher) Verify(secret []byte, encoded string) bool {
	h.verifies++
	return h.Hasher.Verify(secret, encoded)
}

type failingIssuer struct{}

func (failingIssuer) Issue(string, string) (string, error) {
	return "", errors.New("signing failed")
}

type recordingRecorder struct {
	records []string
}

func (r *recordingRecorder) RecordAuthOperation(operation, result string) {
	r.records = append(r.records, operation+":"+result)
}

// --- ヘルパー ---

var testParams = password.Params{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

type fixture struct {
	repo     *memoryUserRepo
	hasher   *countingHasher
	codec    *token.Codec
	recorder *recordingRecorder
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := token.NewCodec([]byte("test-secret"), 24)
	require.NoError(t, err)

	f := &fixture{
		repo:     newMemoryUserRepo(),
		hasher:   &countingHasher{Hasher: password.NewArgon2idHasher(testParams)},
		codec:    codec,
		recorder: &recordingRecorder{},
	}
	f.svc = NewService(f.repo, f.hasher, codec, f.recorder)
	return f
}

// --- Register ---

func TestService_Register_Success(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Register(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)

	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "a@x.com", result.User.Email)
	assert.NotEmpty(t, result.User.ID)

	claims, err := f.codec.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.SubjectID())
	assert.Equal(t, "a@x.com", claims.Email)

	assert.Equal(t, 1, f.repo.finds)
	assert.Equal(t, 1, f.repo.creates)

	stored := f.repo.byEmail["a@x.com"]
	require.NotNil(t, stored)
	assert.NotEqual(t, "pw123", stored.PasswordHash)
	assert.True(t, f.hasher.Verify([]byte("pw123"), stored.PasswordHash))

	assert.Equal(t, []string{"register:success"}, f.recorder.records)
}

func TestService_Register_AlreadyExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, "a@x.com", "pw2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 1, f.repo.count())
	// 2回目は問い合わせのみで書き込みもハッシュ化も行わない
	assert.Equal(t, 2, f.repo.finds)
	assert.Equal(t, 1, f.repo.creates)
	assert.Equal(t, 1, f.hasher.hashes)
}

func TestService_Register_EmailIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "A@x.com", "pw123")
	require.NoError(t, err)

	assert.Equal(t, 2, f.repo.count())
}

// 存在確認の後に別リクエストが同じemailを登録した場合もAlreadyExistsとなること
func TestService_Register_ConcurrentDuplicateIsAlreadyExists(t *testing.T) {
	f := newFixture(t)
	f.repo.beforeCreate = func(r *memoryUserRepo) {
		r.beforeCreate = nil
		r.mu.Lock()
		r.byEmail["a@x.com"] = &model.User{ID: "other", Email: "a@x.com", PasswordHash: "x"}
		r.mu.Unlock()
	}

	_, err := f.svc.Register(context.Background(), "a@x.com", "pw123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.NotErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)
	assert.Equal(t, 1, f.repo.count())
}

func TestService_Register_Failures(t *testing.T) {
	storeErr := errors.New("connection reset by peer")

	tests := []struct {
		name  string
		setup func(f *fixture)
		want  *Error
	}{
		{
			name:  "lookup failure",
			setup: func(f *fixture) { f.repo.findErr = storeErr },
			want:  ErrStoreFailure,
		},
		{
			name:  "create failure",
			setup: func(f *fixture) { f.repo.createErr = storeErr },
			want:  ErrStoreFailure,
		},
		{
			name:  "hashing failure",
			setup: func(f *fixture) { f.hasher.hashErr = errors.New("entropy exhausted") },
			want:  ErrHashingFailure,
		},
		{
			name:  "token failure",
			setup: func(f *fixture) { f.svc.issuer = failingIssuer{} },
			want:  ErrTokenFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			result, err := f.svc.Register(context.Background(), "a@x.com", "pw123")
			assert.Nil(t, result)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want.Kind, kind)
			assert.Equal(t, []string{"register:" + tt.want.Kind.String()}, f.recorder.records)
		})
	}
}

func TestService_Register_StoreFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = errors.New("timeout")

	_, err := f.svc.Register(context.Background(), "a@x.com", "pw123")
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.Equal(t, 1, f.repo.finds)
	assert.Equal(t, 1, f.repo.creates)
}

// --- Login ---

func TestService_Login_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	findsBefore, createsBefore := f.repo.finds, f.repo.creates

	result, err := f.svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, result.User.ID)

	claims, err := f.codec.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.SubjectID())

	assert.Equal(t, findsBefore+1, f.repo.finds)
	assert.Equal(t, createsBefore, f.repo.creates)
}

func TestService_Login_InvalidCredentialsAreUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	_, wrongSecret := f.svc.Login(ctx, "a@x.com", "wrong")
	_, unknownUser := f.svc.Login(ctx, "nobody@x.com", "pw123")

	require.Error(t, wrongSecret)
	require.Error(t, unknownUser)
	assert.ErrorIs(t, wrongSecret, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, wrongSecret.Error(), unknownUser.Error())
}

// 未登録ユーザーでもパスワード検証が実行されること
func TestService_Login_UnknownUserStillVerifies(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "nobody@x.com", "pw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, f.hasher.verifies)
	assert.Equal(t, 0, f.repo.creates)
}

// ダミーハッシュの生成に失敗しても未登録ユーザーの検証は省略されず、次回に再生成されること
func TestService_Login_UnknownUserVerifiesWhenDummyHashFails(t *testing.T) {
	f := newFixture(t)
	f.hasher.hashErr = errors.New("out of memory")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(context.Background(), "nobody@x.com", "pw123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	assert.Equal(t, 2, f.hasher.verifies)
	assert.Equal(t, 2, f.hasher.hashes, "dummy hash should be retried after a failure")

	f.hasher.hashErr = nil
	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(context.Background(), "nobody@x.com", "pw123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	assert.Equal(t, 4, f.hasher.verifies)
	assert.Equal(t, 3, f.hasher.hashes, "dummy hash should be cached once generated")
}

func TestService_FallbackDummyHashIsWellFormed(t *testing.T) {
	h := password.NewArgon2idHasher(password.DefaultParams)
	assert.False(t, h.Verify([]byte(dummySecret), fallbackDummyHash))

	parts := strings.Split(fallbackDummyHash, "$")
	require.Len(t, parts, 6)
	assert.Equal(t, "argon2id", parts[1])
	assert.Equal(t, "v=19", parts[2])
	assert.Equal(t, "m=19456,t=2,p=1", parts[3])

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	require.NoError(t, err)
	assert.Len(t, salt, 16)
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	require.NoError(t, err)
	assert.Len(t, digest, 32)
}

func TestService_Login_Failures(t *testing.T) {
	t.Run("lookup failure", func(t *testing.T) {
		f := newFixture(t)
		f.repo.findErr = errors.New("db down")

		_, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
		assert.ErrorIs(t, err, ErrStoreFailure)
		assert.Equal(t, []string{"login:store_failure"}, f.recorder.records)
	})

	t.Run("token failure", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(context.Background(), "a@x.com", "pw123")
		require.NoError(t, err)
		f.svc.issuer = failingIssuer{}

		_, err = f.svc.Login(context.Background(), "a@x.com", "pw123")
		assert.ErrorIs(t, err, ErrTokenFailure)
	})
}

// --- CurrentUser ---

func TestService_CurrentUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	user, err := f.svc.CurrentUser(ctx, registered.User.ID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "a@x.com", user.Email)

	user, err = f.svc.CurrentUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, user)

	f.repo.findErr = errors.New("db down")
	_, err = f.svc.CurrentUser(ctx, registered.User.ID)
	assert.ErrorIs(t, err, ErrStoreFailure)
}

// --- シナリオ ---

func TestService_EndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	claims, err := f.codec.Verify(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.SubjectID())

	_, err = f.svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Register(ctx, "a@x.com", "pw2")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	assert.Equal(t, []string{
		"register:success",
		"login:success",
		"login:invalid_credentials",
		"register:already_exists",
	}, f.recorder.records)
}
