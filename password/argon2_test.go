package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastArgon2() Argon2Config {
	return Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestArgon2HashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(fastArgon2())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
}

func TestArgon2NeedsRehash(t *testing.T) {
	weak, err := NewArgon2(fastArgon2())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	hash, err := weak.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastArgon2()
	stronger.Time = 2
	strong, err := NewArgon2(stronger)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	upgrade, err := strong.NeedsRehash(hash)
	if err != nil || !upgrade {
		t.Fatalf("expected upgrade, got %v err=%v", upgrade, err)
	}
	upgrade, err = weak.NeedsRehash(hash)
	if err != nil || upgrade {
		t.Fatalf("expected no upgrade, got %v err=%v", upgrade, err)
	}
}

func TestArgon2RejectsMalformed(t *testing.T) {
	hasher, err := NewArgon2(fastArgon2())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	for _, encoded := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
	} {
		if _, err := hasher.Verify("x", encoded); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("expected ErrMalformedHash for %q, got %v", encoded, err)
		}
	}
}

func TestBcryptHashAndVerify(t *testing.T) {
	hasher, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}

	hash, err := hasher.Hash("secret123")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if ok, err := hasher.Verify("secret123", hash); err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if ok, err := hasher.Verify("secret124", hash); err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", MaxBcryptBytes+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestManagerVerifiesBothFormats(t *testing.T) {
	m, err := New(Config{Algorithm: AlgorithmBcrypt, BcryptCost: bcrypt.MinCost, Argon2: fastArgon2()})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	argon, err := NewArgon2(fastArgon2())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	legacy, err := argon.Hash("migrated-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if ok, err := m.Verify("migrated-password", legacy); err != nil || !ok {
		t.Fatalf("expected argon2 proof to verify, ok=%v err=%v", ok, err)
	}
	if !m.NeedsRehash(legacy) {
		t.Fatal("expected non-primary algorithm to need rehash")
	}

	current, err := m.Hash("migrated-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(current, "$2") {
		t.Fatalf("expected bcrypt proof, got %s", current)
	}
	if m.NeedsRehash(current) {
		t.Fatal("fresh primary proof must not need rehash")
	}
}

func TestManagerEmptyAndUnknownProofs(t *testing.T) {
	m, err := New(Config{BcryptCost: bcrypt.MinCost, Argon2: fastArgon2()})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if ok, err := m.Verify("anything", ""); ok || err != nil {
		t.Fatalf("empty proof must fail closed without error, ok=%v err=%v", ok, err)
	}
	if _, err := m.Verify("anything", "plaintext"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
	m.DummyVerify("anything")
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Algorithm: "md5"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewBcrypt(99); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewArgon2(Argon2Config{Memory: 1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
