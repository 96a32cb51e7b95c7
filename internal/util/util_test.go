package util

import (
	"bytes"
	"crypto/x509"
	"testing"
)

func TestArgon2id(t *testing.T) {
	params, err := Argon2idProfile(KDFProfileInteractive)
	if err != nil {
		t.Fatalf("Argon2idProfile failed: %v", err)
	}
	passphrase := "correct horse battery staple"
	salt := []byte("random salt")

	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}

	again, _ := DeriveArgon2idKey(passphrase, salt, params)
	if !bytes.Equal(key, again) {
		t.Error("DeriveArgon2idKey should be deterministic")
	}

	other, _ := DeriveArgon2idKey("wrong passphrase", salt, params)
	if bytes.Equal(key, other) {
		t.Error("different passphrases should derive different keys")
	}

	t.Run("EmptySalt", func(t *testing.T) {
		if _, err := DeriveArgon2idKey(passphrase, nil, params); err == nil {
			t.Error("expected error with empty salt")
		}
	})

	t.Run("BadKeyLen", func(t *testing.T) {
		p := params
		p.KeyLen = 16
		if _, err := DeriveArgon2idKey(passphrase, salt, p); err == nil {
			t.Error("expected error with 16-byte key length")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	salt := []byte("salt")
	info := []byte("info")

	key1, err := HKDF(seed, salt, info)
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("expected key length 32, got %d", len(key1))
	}

	key2, _ := HKDF(seed, salt, info)
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, []byte("different info"))
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}

	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}
	if CopyBytes(nil) != nil {
		t.Error("CopyBytes(nil) should return nil")
	}

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", copied)
	}
}

func TestEncoding(t *testing.T) {
	s := "test string"
	encoded := HexEncode([]byte(s))
	decoded, err := HexDecode(encoded + "\n")
	if err != nil {
		t.Fatalf("HexDecode failed: %v", err)
	}
	if string(decoded) != s {
		t.Errorf("expected %s, got %s", s, string(decoded))
	}

	if Normalize("caf\u00e9") != Normalize("cafe\u0301") {
		t.Error("composed and decomposed forms should normalize identically")
	}
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("RandomToken", func(t *testing.T) {
		s1, err := RandomToken(32)
		if err != nil {
			t.Fatalf("RandomToken failed: %v", err)
		}
		s2, _ := RandomToken(32)
		if len(s1) != 43 {
			t.Errorf("expected 43 characters, got %d", len(s1))
		}
		if s1 == s2 {
			t.Error("RandomToken should produce different outputs")
		}
	})
}

func TestDefaultArgon2idParams_MeetsOWASPMinimums(t *testing.T) {
	p := DefaultArgon2idParams()
	if p.Time < 3 {
		t.Errorf("default Time=%d is below OWASP recommended minimum of 3", p.Time)
	}
	if p.MemoryKiB < 64*1024 {
		t.Errorf("default MemoryKiB=%d is below %d (64 MiB)", p.MemoryKiB, 64*1024)
	}
	if p.Parallelism < 1 {
		t.Errorf("default Parallelism=%d must be at least 1", p.Parallelism)
	}
	if p.KeyLen != 32 {
		t.Errorf("default KeyLen=%d must be 32", p.KeyLen)
	}
}

func TestArgon2idProfile_AllProfiles(t *testing.T) {
	for _, name := range []string{KDFProfileInteractive, KDFProfileModerate, KDFProfileSensitive} {
		t.Run(name, func(t *testing.T) {
			p, err := Argon2idProfile(name)
			if err != nil {
				t.Fatalf("Argon2idProfile(%q) failed: %v", name, err)
			}
			if err := ValidateArgon2idParams(p); err != nil {
				t.Errorf("profile %q failed validation: %v", name, err)
			}
		})
	}

	if _, err := Argon2idProfile("nonexistent"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestValidateArgon2idParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Argon2idParams)
	}{
		{"KeyLenNot32", func(p *Argon2idParams) { p.KeyLen = 16 }},
		{"TimeTooLow", func(p *Argon2idParams) { p.Time = 0 }},
		{"MemoryTooLow", func(p *Argon2idParams) { p.MemoryKiB = 1024 }},
		{"ParallelismTooLow", func(p *Argon2idParams) { p.Parallelism = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultArgon2idParams()
			tt.mutate(&p)
			if err := ValidateArgon2idParams(p); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("MinimumAcceptableParams", func(t *testing.T) {
		p := Argon2idParams{
			Time:        MinArgon2Time,
			MemoryKiB:   MinArgon2MemoryKiB,
			Parallelism: MinArgon2Parallel,
			KeyLen:      32,
		}
		if err := ValidateArgon2idParams(p); err != nil {
			t.Errorf("minimum acceptable params should be valid: %v", err)
		}
	})
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert failed: %v", err)
	}
	if len(cert.Certificate) != 1 {
		t.Fatalf("expected one certificate, got %d", len(cert.Certificate))
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	if err := parsed.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate should be valid for localhost: %v", err)
	}
}
