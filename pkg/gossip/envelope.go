// Package gossip is the bridge validator's Gossip Overlay: an authenticated
// pub/sub mesh over gorilla/websocket connecting the permissioned
// validator set, carrying attestations, transfer sightings and liveness
// announcements (spec.md §4.6). Grounded on the teacher's websocket-hub
// shape, adapted from the example pack's chat broadcaster
// (Swepool-websocket-backend/internal/broadcaster/broadcaster.go).
package gossip

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Topic is one of the three gossip subjects spec.md §4.6 names.
type Topic string

const (
	TopicAttestations      Topic = "attestations"
	TopicTransfers         Topic = "transfers"
	TopicValidatorAnnounce Topic = "validator-announce"
)

// Envelope is the wire message spec.md §4.6 mandates:
// {type, payload, sender_validator_id, sent_at}, extended with the
// sender's gossip identity key and a signature over the rest so a
// receiving peer can authenticate the transport message before it ever
// trusts sender_validator_id or tries to verify the payload's own
// attestation signature.
type Envelope struct {
	Type              Topic           `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	SenderValidatorID string          `json:"sender_validator_id"`
	SentAt            int64           `json:"sent_at"`

	SenderPubKey []byte `json:"sender_pub_key"`
	Signature    []byte `json:"signature"`
}

func (e Envelope) digest() [32]byte {
	s := fmt.Sprintf("%s%s%s%d", e.Type, e.Payload, e.SenderValidatorID, e.SentAt)
	return sha256.Sum256([]byte(s))
}

// verify reports whether e's signature was produced by the embedded
// SenderPubKey over e's own fields. It does not check that SenderPubKey
// belongs to SenderValidatorID — that binding is established by the first
// verified envelope of any topic seen from that validator id (see
// Overlay.trustKey), a trust-on-first-use model deliberately simpler than
// a full gossip PKI, since spec.md leaves peer-key distribution
// unspecified.
func (e Envelope) verify() bool {
	if len(e.SenderPubKey) != ed25519.PublicKeySize || len(e.Signature) != ed25519.SignatureSize {
		return false
	}
	digest := e.digest()
	return ed25519.Verify(e.SenderPubKey, digest[:], e.Signature)
}

// Identity is this node's gossip transport keypair, distinct from the
// Signing Engine's chain keys per spec.md §4.6.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewIdentity loads a deterministic identity from a hex-encoded 32-byte
// seed, or generates a fresh random one when seedHex is empty.
func NewIdentity(seedHex string) (Identity, error) {
	if seedHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return Identity{}, fmt.Errorf("generate gossip identity: %w", err)
		}
		return Identity{priv: priv, pub: pub}, nil
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return Identity{}, fmt.Errorf("decode gossip identity seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("gossip identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return Identity{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (id Identity) seal(validatorID string, topic Topic, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal gossip payload: %w", err)
	}

	env := Envelope{
		Type:              topic,
		Payload:           raw,
		SenderValidatorID: validatorID,
		SentAt:            time.Now().UnixMilli(),
		SenderPubKey:      append([]byte(nil), id.pub...),
	}
	digest := env.digest()
	env.Signature = ed25519.Sign(id.priv, digest[:])
	return env, nil
}
