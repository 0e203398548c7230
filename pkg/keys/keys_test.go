package keys

import "testing"

func TestGenerateValidatorKeyMaterial(t *testing.T) {
	m, err := GenerateValidatorKeyMaterial()
	if err != nil {
		t.Fatalf("GenerateValidatorKeyMaterial failed: %v", err)
	}
	if len(m.Secp256k1Key) != 32 {
		t.Errorf("expected 32-byte secp256k1 key, got %d", len(m.Secp256k1Key))
	}
	if len(m.Ed25519Seed) != 32 {
		t.Errorf("expected 32-byte ed25519 seed, got %d", len(m.Ed25519Seed))
	}
	if m.Secp256k1KeyHex() == "" || m.Ed25519SeedBase64() == "" {
		t.Error("expected non-empty encodings")
	}
}

func TestEncryptDecryptPrivateKey(t *testing.T) {
	m, err := GenerateValidatorKeyMaterial()
	if err != nil {
		t.Fatalf("GenerateValidatorKeyMaterial failed: %v", err)
	}

	masterKey, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}

	encrypted, err := EncryptPrivateKey(m.Secp256k1Key, masterKey)
	if err != nil {
		t.Fatalf("EncryptPrivateKey failed: %v", err)
	}

	decrypted, err := DecryptPrivateKey(encrypted, masterKey)
	if err != nil {
		t.Fatalf("DecryptPrivateKey failed: %v", err)
	}

	if len(decrypted) != len(m.Secp256k1Key) {
		t.Fatalf("length mismatch: got %d, want %d", len(decrypted), len(m.Secp256k1Key))
	}
	for i := range decrypted {
		if decrypted[i] != m.Secp256k1Key[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestDecryptWithWrongMasterKey(t *testing.T) {
	m, _ := GenerateValidatorKeyMaterial()
	key1, _ := GenerateMasterKey()
	key2, _ := GenerateMasterKey()

	encrypted, err := EncryptPrivateKey(m.Secp256k1Key, key1)
	if err != nil {
		t.Fatalf("EncryptPrivateKey failed: %v", err)
	}

	if _, err := DecryptPrivateKey(encrypted, key2); err == nil {
		t.Error("expected decryption with the wrong master key to fail")
	}
}

func TestMasterKeyRoundTrip(t *testing.T) {
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}

	b64 := MasterKeyToBase64(key)
	recovered, err := MasterKeyFromBase64(b64)
	if err != nil {
		t.Fatalf("MasterKeyFromBase64 failed: %v", err)
	}
	if len(recovered) != len(key) {
		t.Fatalf("length mismatch")
	}
	for i := range recovered {
		if recovered[i] != key[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestMasterKeyFromBase64Invalid(t *testing.T) {
	if _, err := MasterKeyFromBase64("not valid base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := MasterKeyFromBase64(MasterKeyToBase64([]byte("short"))); err == nil {
		t.Error("expected error for wrong-length key")
	}
}
