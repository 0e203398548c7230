package gossip

import "testing"

func TestEnvelopeSealAndVerify(t *testing.T) {
	id, err := NewIdentity("")
	if err != nil {
		t.Fatalf("NewIdentity() failed: %v", err)
	}

	env, err := id.seal("validator-1", TopicAttestations, map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("seal() failed: %v", err)
	}

	if !env.verify() {
		t.Fatalf("expected freshly sealed envelope to verify")
	}
}

func TestEnvelopeVerifyRejectsTamperedPayload(t *testing.T) {
	id, err := NewIdentity("")
	if err != nil {
		t.Fatalf("NewIdentity() failed: %v", err)
	}

	env, err := id.seal("validator-1", TopicTransfers, map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("seal() failed: %v", err)
	}

	env.Payload = []byte(`{"hello":"tampered"}`)
	if env.verify() {
		t.Fatalf("expected tampered envelope to fail verification")
	}
}

func TestEnvelopeVerifyRejectsWrongKey(t *testing.T) {
	id, err := NewIdentity("")
	if err != nil {
		t.Fatalf("NewIdentity() failed: %v", err)
	}
	other, err := NewIdentity("")
	if err != nil {
		t.Fatalf("NewIdentity() failed: %v", err)
	}

	env, err := id.seal("validator-1", TopicTransfers, map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("seal() failed: %v", err)
	}

	env.SenderPubKey = append([]byte(nil), other.pub...)
	if env.verify() {
		t.Fatalf("expected envelope signed by one key to fail verification under another")
	}
}

func TestNewIdentityFromSeedIsDeterministic(t *testing.T) {
	seed := "0101010101010101010101010101010101010101010101010101010101010101"[:64]

	a, err := NewIdentity(seed)
	if err != nil {
		t.Fatalf("NewIdentity() failed: %v", err)
	}
	b, err := NewIdentity(seed)
	if err != nil {
		t.Fatalf("NewIdentity() failed: %v", err)
	}

	if string(a.pub) != string(b.pub) {
		t.Fatalf("expected identical seeds to produce identical public keys")
	}
}

func TestNewIdentityRejectsInvalidSeedLength(t *testing.T) {
	if _, err := NewIdentity("abcd"); err == nil {
		t.Fatalf("expected short hex seed to be rejected")
	}
}
