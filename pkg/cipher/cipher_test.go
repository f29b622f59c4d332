package cipher

import "testing"

func TestRoundTrip(t *testing.T) {
	c, err := New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"short", "sk-live-abc123"},
		{"empty", ""},
		{"long", "sk-live-" + string(make([]byte, 500))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.Seal([]byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Seal() error: %v", err)
			}

			opened, err := c.Unseal(sealed)
			if err != nil {
				t.Fatalf("Unseal() error: %v", err)
			}

			if string(opened) != tt.plaintext {
				t.Errorf("round trip mismatch: got %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestUnsealWrongKey(t *testing.T) {
	a, err := New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	b, err := New("fedcba9876543210fedcba9876543210")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	sealed, err := a.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if _, err := b.Unseal(sealed); err == nil {
		t.Fatal("expected Unseal() with wrong key to fail")
	} else if _, ok := err.(*KeyCipherError); !ok {
		t.Errorf("expected *KeyCipherError, got %T", err)
	}
}

func TestUnsealTamperedCiphertext(t *testing.T) {
	c, err := New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	sealed, err := c.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := c.Unseal(string(tampered)); err == nil {
		t.Fatal("expected Unseal() with tampered ciphertext to fail")
	}
}

func TestUnsealTooShort(t *testing.T) {
	c, err := New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := c.Unseal("YQ"); err == nil {
		t.Fatal("expected Unseal() on truncated input to fail")
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New("tooshort"); err == nil {
		t.Fatal("expected New() with short secret to fail")
	}
}
