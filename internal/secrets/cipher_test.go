package secrets

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plain := "ya29.a0AfH6SMC-access-token"
	enc, err := c.EncryptString(plain)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if enc == plain {
		t.Fatal("ciphertext equals plaintext")
	}
	if strings.Contains(enc, "access-token") {
		t.Fatal("ciphertext leaks plaintext")
	}

	dec, err := c.DecryptString(enc)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if dec != plain {
		t.Fatalf("round trip mismatch: got %q", dec)
	}
}

func TestEncryptEmptyStaysEmpty(t *testing.T) {
	c, _ := NewCipher(testKey())
	enc, err := c.EncryptString("")
	if err != nil || enc != "" {
		t.Fatalf("expected empty passthrough, got %q, %v", enc, err)
	}
	dec, err := c.DecryptString("")
	if err != nil || dec != "" {
		t.Fatalf("expected empty passthrough, got %q, %v", dec, err)
	}
}

func TestNoncesDiffer(t *testing.T) {
	c, _ := NewCipher(testKey())
	a, _ := c.EncryptString("same input")
	b, _ := c.EncryptString("same input")
	if a == b {
		t.Fatal("two encryptions of the same input produced identical ciphertext")
	}
}

func TestTamperDetected(t *testing.T) {
	c, _ := NewCipher(testKey())
	enc, _ := c.EncryptString("refresh-token")

	raw, _ := base64.StdEncoding.DecodeString(enc)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := c.DecryptString(tampered); err == nil {
		t.Fatal("tampered ciphertext decrypted without error")
	}
}

func TestBadKeys(t *testing.T) {
	if _, err := NewCipher("not-base64!!"); err == nil {
		t.Fatal("accepted non-base64 key")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewCipher(short); err == nil {
		t.Fatal("accepted short key")
	}
}

func TestDecryptGarbage(t *testing.T) {
	c, _ := NewCipher(testKey())
	if _, err := c.DecryptString("AAAA"); err == nil {
		t.Fatal("decrypted truncated ciphertext")
	}
}
