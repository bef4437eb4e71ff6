package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

func testHashVerifyRoundtrip(t *rapid.T) {
	var hasher PasswordHasher = FakeInsecureHasher{}
	password := rapid.StringN(8, 100, 200).Draw(t, "password")

	hash, err := hasher.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !hasher.VerifyPassword(password, hash) {
		t.Fatalf("VerifyPassword failed for password %q", password)
	}
}

func TestPassword_HashVerify_Roundtrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testHashVerifyRoundtrip)
}

func FuzzPassword_HashVerify_Roundtrip(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testHashVerifyRoundtrip))
}

func testWrongPasswordFails(t *rapid.T) {
	var hasher PasswordHasher = FakeInsecureHasher{}
	password1 := rapid.StringN(8, 50, 100).Draw(t, "password1")
	password2 := rapid.StringN(8, 50, 100).Filter(func(s string) bool {
		return s != password1
	}).Draw(t, "password2")

	hash, err := hasher.HashPassword(password1)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hasher.VerifyPassword(password2, hash) {
		t.Fatalf("VerifyPassword should fail for wrong password")
	}
}

func TestPassword_WrongPassword_FailsVerify(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testWrongPasswordFails)
}

func FuzzPassword_WrongPassword_FailsVerify(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testWrongPasswordFails))
}

// Real hashers: single calls, these are slow.
func TestPassword_RealHashers(t *testing.T) {
	t.Parallel()
	hashers := map[string]PasswordHasher{
		"bcrypt":   BcryptHasher{Cost: bcrypt.MinCost},
		"argon2id": Argon2idHasher{},
	}
	for name, hasher := range hashers {
		hasher := hasher
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			hash1, err := hasher.HashPassword("test-password")
			if err != nil {
				t.Fatalf("first HashPassword failed: %v", err)
			}
			hash2, err := hasher.HashPassword("test-password")
			if err != nil {
				t.Fatalf("second HashPassword failed: %v", err)
			}
			if hash1 == hash2 {
				t.Fatalf("hashing is deterministic - salt is not random")
			}
			if !hasher.VerifyPassword("test-password", hash1) {
				t.Fatalf("VerifyPassword rejected the right password")
			}
			if hasher.VerifyPassword("wrong-password", hash1) {
				t.Fatalf("VerifyPassword accepted a wrong password")
			}
		})
	}
}

func TestPassword_Argon2_RejectsMalformedHash(t *testing.T) {
	t.Parallel()
	for _, encoded := range []string{
		"",
		"$argon2i$v=19$m=1,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=18$m=1,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=19$garbage$AAAA$AAAA",
		"$argon2id$v=19$m=1,t=1,p=1$!!!$AAAA",
		"$2a$10$" + strings.Repeat("x", 53),
	} {
		if (Argon2idHasher{}).VerifyPassword("password", encoded) {
			t.Fatalf("VerifyPassword accepted malformed hash %q", encoded)
		}
	}
}

func TestNewPasswordHasher(t *testing.T) {
	t.Parallel()
	h, err := NewPasswordHasher("", 0)
	if err != nil {
		t.Fatalf("default hasher: %v", err)
	}
	if bh, ok := h.(BcryptHasher); !ok || bh.Cost != bcrypt.DefaultCost {
		t.Fatalf("default hasher = %#v, want bcrypt cost %d", h, bcrypt.DefaultCost)
	}
	if _, err := NewPasswordHasher("argon2id", 0); err != nil {
		t.Fatalf("argon2id hasher: %v", err)
	}
	if _, err := NewPasswordHasher("bcrypt", 99); err == nil {
		t.Fatalf("expected error for out-of-range bcrypt cost")
	}
	if _, err := NewPasswordHasher("md5", 0); err == nil {
		t.Fatalf("expected error for unknown hasher")
	}
}

func TestPassword_Validation(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		short := string(rapid.SliceOfN(rapid.Byte(), 0, 7).Draw(t, "short"))
		if err := ValidatePasswordStrength(short); err == nil {
			t.Fatalf("short password (len=%d) should fail validation", len(short))
		}
		long := string(rapid.SliceOfN(rapid.Byte(), 73, 200).Draw(t, "long"))
		if err := ValidatePasswordStrength(long); err == nil {
			t.Fatalf("long password (len=%d) should fail validation", len(long))
		}
	})
}

func TestPassword_Validation_ValidPasswords(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		valid := string(rapid.SliceOfN(rapid.Byte(), 8, 72).Draw(t, "valid"))
		if err := ValidatePasswordStrength(valid); err != nil {
			t.Fatalf("valid password (len=%d) should pass validation: %v", len(valid), err)
		}
	})
}
