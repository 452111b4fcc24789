// Package password はパスワードのソルト付きハッシュ化と検証を提供する。
// ハッシュはPHC文字列形式でエンコードされ、アルゴリズム・パラメータ・ソルト・ダイジェストを自己記述する。
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hasher はパスワードハッシュ化と検証のインターフェース。
type Hasher interface {
	// Hash はランダムソルトでsecretをハッシュ化し、エンコード済み文字列を返す。
	Hash(secret []byte) (string, error)
	// Verify はsecretがエンコード済みハッシュと一致するかを返す。
	// 形式不正なハッシュの場合もfalseを返す。
	Verify(secret []byte, encoded string) bool
}

// Params はargon2idのコストパラメータ。
type Params struct {
	Memory  uint32 // KiB
	Time    uint32 // 反復回数
	Threads uint8
	SaltLen int
	KeyLen  uint32
}

// DefaultParams はargon2リファレンス実装のデフォルト値（m=19456, t=2, p=1）。
// 既存ユーザーのハッシュと同じパラメータで生成される。
var DefaultParams = Params{
	Memory:  19 * 1024,
	Time:    2,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

const (
	algorithmID = "argon2id"

	// 検証時に受け入れるパラメータの上限。改ざんされたハッシュによる過大なメモリ確保を防ぐ。
	maxMemory  = 1024 * 1024
	maxTime    = 16
	maxKeyLen  = 128
	minSaltLen = 8
)

// Argon2idHasher はargon2idによるHasherの実装。
type Argon2idHasher struct {
	params Params
}

// NewArgon2idHasher はArgon2idHasherを生成する。
// SaltLenは128bit未満に設定できない。
func NewArgon2idHasher(params Params) *Argon2idHasher {
	if params.SaltLen < 16 {
		params.SaltLen = 16
	}
	if params.KeyLen == 0 {
		params.KeyLen = DefaultParams.KeyLen
	}
	if params.Threads == 0 {
		params.Threads = 1
	}
	return &Argon2idHasher{params: params}
}

// Hash はsecretを$argon2id$v=19$m=..,t=..,p=..$<salt>$<hash>形式でエンコードする。
func (h *Argon2idHasher) Hash(secret []byte) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(secret, salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify はエンコード済み文字列に埋め込まれたパラメータでダイジェストを再計算し、定数時間で比較する。
// 現在のデフォルトパラメータではなく、保存時のパラメータを使用する。
func (h *Argon2idHasher) Verify(secret []byte, encoded string) bool {
	p, salt, want, err := decode(encoded)
	if err != nil {
		return false
	}

	got := argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// decode はPHC文字列をパラメータ・ソルト・ダイジェストに分解する。
func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, fmt.Errorf("invalid hash format")
	}
	if parts[1] != algorithmID {
		return p, nil, nil, fmt.Errorf("unsupported algorithm: %q", parts[1])
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return p, nil, nil, fmt.Errorf("invalid version segment")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version: %q", version)
	}

	if err := parseParams(parts[3], &p); err != nil {
		return p, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLen {
		return p, nil, nil, fmt.Errorf("invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxKeyLen {
		return p, nil, nil, fmt.Errorf("invalid digest")
	}

	p.SaltLen = len(salt)
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

// parseParams は"m=19456,t=2,p=1"形式のセグメントを解析する。
// キーの順序は問わないが、3つすべてが必要。
func parseParams(segment string, p *Params) error {
	var seenM, seenT, seenP bool
	for _, kv := range strings.Split(segment, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid parameter: %q", kv)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid parameter value: %q", kv)
		}
		switch k {
		case "m":
			p.Memory, seenM = uint32(n), true
		case "t":
			p.Time, seenT = uint32(n), true
		case "p":
			if n == 0 || n > 255 {
				return fmt.Errorf("invalid parallelism: %d", n)
			}
			p.Threads, seenP = uint8(n), true
		default:
			return fmt.Errorf("unknown parameter: %q", k)
		}
	}
	if !seenM || !seenT || !seenP {
		return fmt.Errorf("missing argon2 parameters")
	}
	if p.Time == 0 || p.Time > maxTime || p.Memory == 0 || p.Memory > maxMemory {
		return fmt.Errorf("argon2 parameters out of range")
	}
	return nil
}

// compile-time interface check
var _ Hasher = (*Argon2idHasher)(nil)
