package gossip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type collectingHandler struct {
	mu           sync.Mutex
	attestations []types.Attestation
	transfers    []types.TransferEvent
	announces    []string
}

func (h *collectingHandler) HandleAttestation(ctx context.Context, att types.Attestation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attestations = append(h.attestations, att)
	return nil
}

func (h *collectingHandler) HandleTransfer(ctx context.Context, event types.TransferEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfers = append(h.transfers, event)
	return nil
}

func (h *collectingHandler) HandleValidatorAnnounce(ctx context.Context, validatorID string, at int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.announces = append(h.announces, validatorID)
	return nil
}

func (h *collectingHandler) attestationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.attestations)
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestOverlayPublishReachesBootstrappedPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zap.NewNop()

	a, err := New(config.OverlayConfig{ListenPort: 0, DriftHorizon: time.Hour}, "validator-a", logger)
	if err != nil {
		t.Fatalf("New(a) failed: %v", err)
	}
	handlerA := &collectingHandler{}
	go func() { _ = a.Start(ctx, handlerA) }()

	waitForCondition(t, time.Second, func() bool { return a.listener != nil })
	_, port, err := net.SplitHostPort(a.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() failed: %v", err)
	}
	addrA := fmt.Sprintf("ws://127.0.0.1:%s/", port)

	b, err := New(config.OverlayConfig{
		ListenPort:     0,
		DriftHorizon:   time.Hour,
		BootstrapPeers: []string{addrA},
	}, "validator-b", logger)
	if err != nil {
		t.Fatalf("New(b) failed: %v", err)
	}
	handlerB := &collectingHandler{}
	go func() { _ = b.Start(ctx, handlerB) }()

	waitForCondition(t, time.Second, func() bool { return a.PeerCount() > 0 && b.PeerCount() > 0 })

	att := types.Attestation{
		TransferID:    "transfer-1",
		Source:        types.ChainA,
		Destination:   types.ChainB,
		ValidatorID:   "validator-b",
		Signature:     []byte("sig"),
		MessageDigest: []byte("digest"),
		ProducedAt:    time.Now().UnixMilli(),
	}
	if err := b.PublishAttestation(att); err != nil {
		t.Fatalf("PublishAttestation() failed: %v", err)
	}

	waitForCondition(t, time.Second, func() bool { return handlerA.attestationCount() == 1 })

	handlerA.mu.Lock()
	got := handlerA.attestations[0]
	handlerA.mu.Unlock()
	if got.TransferID != "transfer-1" || got.ValidatorID != "validator-b" {
		t.Fatalf("unexpected attestation received: %+v", got)
	}

	if handlerB.attestationCount() != 0 {
		t.Fatalf("publisher should not receive its own published attestation back")
	}
}

func TestOverlayDropsStaleEnvelope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zap.NewNop()

	a, err := New(config.OverlayConfig{ListenPort: 0, DriftHorizon: time.Millisecond}, "validator-a", logger)
	if err != nil {
		t.Fatalf("New(a) failed: %v", err)
	}
	handlerA := &collectingHandler{}

	id, err := NewIdentity("")
	if err != nil {
		t.Fatalf("NewIdentity() failed: %v", err)
	}
	staleEnv, err := id.seal("validator-stale", TopicTransfers, types.TransferEvent{
		TransferID: "stale-1",
		Amount:     decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("seal() failed: %v", err)
	}
	staleEnv.SentAt -= int64(time.Hour / time.Millisecond)

	a.dispatch(ctx, staleEnv, handlerA)

	if len(handlerA.transfers) != 0 {
		t.Fatalf("expected stale envelope to be dropped, got %d transfers", len(handlerA.transfers))
	}
}
