package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"

	"harborvisa.org/internal/obs"
)

// Params are Argon2id cost parameters.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams is 64 MiB, three passes, four lanes.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

const defaultMinPasswordLength = 8

// Hasher hashes and verifies administrator passwords with Argon2id.
type Hasher struct {
	params    Params
	minLength int
	sem       *semaphore.Weighted
	rand      io.Reader
}

// HasherOption configures Hasher.
type HasherOption func(*Hasher) error

// WithParams overrides the Argon2id parameters. Parameters below
// DefaultParams are rejected.
func WithParams(p Params) HasherOption {
	return func(h *Hasher) error {
		if p.Memory < DefaultParams.Memory || p.Iterations < DefaultParams.Iterations || p.Parallelism < DefaultParams.Parallelism {
			return fmt.Errorf("auth: argon2 parameters below m=%d,t=%d,p=%d",
				DefaultParams.Memory, DefaultParams.Iterations, DefaultParams.Parallelism)
		}
		if p.SaltLength == 0 {
			p.SaltLength = DefaultParams.SaltLength
		}
		if p.KeyLength == 0 {
			p.KeyLength = DefaultParams.KeyLength
		}
		h.params = p
		return nil
	}
}

// WithMinLength sets the minimum password length in characters.
func WithMinLength(n int) HasherOption {
	return func(h *Hasher) error {
		if n < defaultMinPasswordLength {
			return fmt.Errorf("auth: minimum password length must be at least %d", defaultMinPasswordLength)
		}
		h.minLength = n
		return nil
	}
}

// WithMaxConcurrent bounds how many digests are computed at once.
func WithMaxConcurrent(n int64) HasherOption {
	return func(h *Hasher) error {
		if n > 0 {
			h.sem = semaphore.NewWeighted(n)
		}
		return nil
	}
}

// NewHasher constructs a Hasher with DefaultParams.
func NewHasher(opts ...HasherOption) (*Hasher, error) {
	h := &Hasher{
		params:    DefaultParams,
		minLength: defaultMinPasswordLength,
		sem:       semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		rand:      rand.Reader,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// CheckStrength applies the password policy.
func (h *Hasher) CheckStrength(password string) error {
	if utf8.RuneCountInString(password) < h.minLength {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, h.minLength)
	}
	return nil
}

// Hash returns a PHC-formatted Argon2id digest with a fresh salt.
// Waiting for a hashing slot honours ctx; the computation itself does not.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.CheckStrength(password); err != nil {
		return "", err
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key, err := h.derive(ctx, password, salt, h.params)
	if err != nil {
		return "", err
	}
	return encodeDigest(h.params, salt, key), nil
}

// Verify reports whether password matches digest. Malformed digests never match.
func (h *Hasher) Verify(ctx context.Context, digest, password string) (bool, error) {
	p, salt, want, err := decodeDigest(digest)
	if err != nil {
		obs.Logger().Warn("stored password digest is malformed", zap.Error(err))
		return false, nil
	}
	got, err := h.derive(ctx, password, salt, p)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *Hasher) derive(ctx context.Context, password string, salt []byte, p Params) ([]byte, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)
	start := time.Now()
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	obs.ObservePasswordHash(time.Since(start))
	return key, nil
}

func encodeDigest(p Params, salt, key []byte) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

var errMalformedDigest = errors.New("malformed argon2id digest")

func decodeDigest(digest string) (Params, []byte, []byte, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, errMalformedDigest
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, errMalformedDigest
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, errMalformedDigest
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Params{}, nil, nil, errMalformedDigest
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, errMalformedDigest
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, errMalformedDigest
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
