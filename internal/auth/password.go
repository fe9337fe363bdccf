package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id cost parameters baked into every digest.
// Verification always uses the parameters recorded in the digest itself,
// so these can be raised without invalidating existing hashes.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	SaltLen   uint32
	KeyLen    uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4, SaltLen: 16, KeyLen: 32}
}

// Hasher hashes and verifies passwords with argon2id. The work is CPU and
// memory heavy, so a slot pool sized to GOMAXPROCS caps how many digests are
// computed at once; a burst of logins queues on the pool instead of starving
// every scheduler thread.
type Hasher struct {
	params Argon2Params
	slots  chan struct{}
}

func NewHasher(p Argon2Params) *Hasher {
	return &Hasher{
		params: p,
		slots:  make(chan struct{}, runtime.GOMAXPROCS(0)),
	}
}

// Hash derives an argon2id digest and returns it in the standard
// $argon2id$v=..$m=..,t=..,p=..$salt$key encoded form.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plain), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify reports whether plain matches the encoded digest. It returns false
// on any malformed or foreign digest so callers cannot tell a corrupt hash
// from a wrong password.
func (h *Hasher) Verify(ctx context.Context, plain, encoded string) bool {
	salt, key, time, memory, threads, ok := parseDigest(encoded)
	if !ok {
		return false
	}
	if err := h.acquire(ctx); err != nil {
		return false
	}
	defer h.release()

	got := argon2.IDKey([]byte(plain), salt, time, memory, threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1
}

func (h *Hasher) acquire(ctx context.Context) error {
	select {
	case h.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hasher) release() { <-h.slots }

func parseDigest(encoded string) (salt, key []byte, time, memory uint32, threads uint8, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, nil, 0, 0, 0, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, false
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || time == 0 || memory == 0 || threads == 0 {
		return nil, nil, 0, 0, 0, false
	}
	return salt, key, time, memory, threads, true
}
