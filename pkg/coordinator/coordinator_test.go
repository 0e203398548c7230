package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/errkind"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/relay"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/resolver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu             sync.Mutex
	transfers      map[string]*types.TransferRecord
	attestCounters map[string]int
	putErr         error
	appendErr      error
	updateErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transfers:      make(map[string]*types.TransferRecord),
		attestCounters: make(map[string]int),
	}
}

func (s *fakeStore) key(source types.ChainId, transferID string) string {
	return string(source) + "|" + transferID
}

func (s *fakeStore) PutTransferIfAbsent(_ context.Context, event types.TransferEvent) (bool, error) {
	if s.putErr != nil {
		return false, s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(event.Source, event.TransferID)
	if _, ok := s.transfers[k]; ok {
		return false, nil
	}
	s.transfers[k] = &types.TransferRecord{Event: event, Status: types.StatusPending}
	return true, nil
}

func (s *fakeStore) AppendAttestation(_ context.Context, attestation types.Attestation) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(attestation.Source, attestation.TransferID)
	if r, ok := s.transfers[k]; ok && !r.HasAttestationFrom(attestation.ValidatorID) {
		r.Attestations = append(r.Attestations, attestation)
	}
	return nil
}

func (s *fakeStore) GetTransfer(_ context.Context, source types.ChainId, transferID string) (*types.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.transfers[s.key(source, transferID)]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (s *fakeStore) UpdateTransferStatus(_ context.Context, source types.ChainId, transferID string, status types.Status, relayTxID, lastErrorKind string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.transfers[s.key(source, transferID)]
	if !ok {
		return nil
	}
	r.Status = status
	if relayTxID != "" {
		r.RelayTxID = relayTxID
	}
	if lastErrorKind != "" {
		r.LastErrorKind = lastErrorKind
	}
	return nil
}

func (s *fakeStore) ListOpenTransfers(_ context.Context) ([]types.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.TransferRecord
	for _, r := range s.transfers {
		if r.IsOpen() {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetStats(_ context.Context) (types.Stats, error) {
	return types.Stats{}, nil
}

func (s *fakeStore) GetWatermark(_ context.Context, _ types.ChainId) (uint64, bool, error) {
	return 0, false, nil
}

func (s *fakeStore) SetWatermark(_ context.Context, _ types.ChainId, _ uint64) error {
	return nil
}

func (s *fakeStore) RecordValidatorAttestation(_ context.Context, validatorID string, _ bool, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attestCounters[validatorID]++
	return nil
}

func (s *fakeStore) ListValidatorCounters(_ context.Context) ([]types.ValidatorCounters, error) {
	return nil, nil
}

type fakeResolver struct {
	aToB map[string]resolver.AssetMapping
	bToA map[common.Address]resolver.AssetMapping
}

func (r *fakeResolver) ResolveAToB(_ context.Context, assetID string) (resolver.AssetMapping, error) {
	m, ok := r.aToB[assetID]
	if !ok {
		return resolver.AssetMapping{}, errkind.New(errkind.ResolverMiss, errors.New("no mapping"))
	}
	return m, nil
}

func (r *fakeResolver) ResolveBToA(_ context.Context, token common.Address) (resolver.AssetMapping, error) {
	m, ok := r.bToA[token]
	if !ok {
		return resolver.AssetMapping{}, errkind.New(errkind.ResolverMiss, errors.New("no mapping"))
	}
	return m, nil
}

type fakeSigner struct {
	signErr    error
	verifyOK   bool
	chainBAddr string
	chainAID   string
	hasAKey    bool
}

func (f *fakeSigner) Sign(event types.TransferEvent, _ resolver.AssetMapping) (types.Attestation, error) {
	if f.signErr != nil {
		return types.Attestation{}, f.signErr
	}
	return types.Attestation{
		TransferID:  event.TransferID,
		Source:      event.Source,
		Destination: event.Destination,
		ValidatorID: f.ChainBValidatorID(),
		Signature:   []byte("sig"),
		ProducedAt:  1,
	}, nil
}

func (f *fakeSigner) Verify(_ types.Attestation, _ string) bool { return f.verifyOK }
func (f *fakeSigner) ChainBValidatorID() string                 { return f.chainBAddr }
func (f *fakeSigner) ChainAValidatorID() string                 { return f.chainAID }
func (f *fakeSigner) HasChainAKey() bool                        { return f.hasAKey }

type fakeRelayer struct {
	mu      sync.Mutex
	calls   int
	result  relay.Result
	gotRecs []types.TransferRecord
}

func (f *fakeRelayer) Submit(_ context.Context, record types.TransferRecord) relay.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotRecs = append(f.gotRecs, record)
	return f.result
}

type fakeGossip struct {
	mu         sync.Mutex
	published  []types.Attestation
	transfers  []types.TransferEvent
	heartbeats int
	peers      int
}

func (f *fakeGossip) PublishAttestation(att types.Attestation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, att)
	return nil
}

func (f *fakeGossip) PublishTransfer(event types.TransferEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, event)
	return nil
}

func (f *fakeGossip) PublishHeartbeat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeGossip) PeerCount() int { return f.peers }

type fakeChainBQuerier struct {
	threshold   int
	thresholdErr error
	validators  map[common.Address]bool
}

func (f *fakeChainBQuerier) ValidatorThreshold(_ context.Context) (int, error) {
	return f.threshold, f.thresholdErr
}

func (f *fakeChainBQuerier) IsValidator(_ context.Context, addr common.Address) (bool, error) {
	return f.validators[addr], nil
}

type fakeChainAQuerier struct {
	threshold int
}

func (f *fakeChainAQuerier) GetValidatorThreshold(_ context.Context, _ string) (int, error) {
	return f.threshold, nil
}

func sampleEvent() types.TransferEvent {
	return types.TransferEvent{
		TransferID:  "0xabc",
		Source:      types.ChainA,
		Destination: types.ChainB,
		Token:       "asset1",
		Amount:      decimal.NewFromInt(10),
		Recipient:   "0x2222222222222222222222222222222222222222",
		Kind:        types.FungibleExternal,
		TokenID:     decimal.Zero,
	}
}

func newTestCoordinator(st *fakeStore, res *fakeResolver, signer *fakeSigner, rel *fakeRelayer, gossip *fakeGossip, chainB *fakeChainBQuerier, chainA *fakeChainAQuerier, bridgeCfg config.BridgeConfig) *Coordinator {
	return New(st, res, signer, rel, gossip, chainB, chainA, bridgeCfg, "bridgeAddr", zap.NewNop())
}

func TestHandleEvent_SignsPersistsAndPublishes(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	res := &fakeResolver{aToB: map[string]resolver.AssetMapping{"asset1": {TokenRefB: common.HexToAddress("0x3333333333333333333333333333333333333333")}}}
	signer := &fakeSigner{verifyOK: true, chainBAddr: "0xvalidator1"}
	gossip := &fakeGossip{}
	c := newTestCoordinator(st, res, signer, &fakeRelayer{}, gossip, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	if err := c.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := st.GetTransfer(context.Background(), event.Source, event.TransferID)
	if err != nil || rec == nil {
		t.Fatalf("expected persisted record, err=%v rec=%v", err, rec)
	}
	if rec.Status != types.StatusAttesting {
		t.Fatalf("expected attesting status, got %s", rec.Status)
	}
	if rec.AttestationCount() != 1 {
		t.Fatalf("expected 1 attestation, got %d", rec.AttestationCount())
	}
	if len(gossip.published) != 1 {
		t.Fatalf("expected 1 published attestation, got %d", len(gossip.published))
	}
	if len(gossip.transfers) != 1 {
		t.Fatalf("expected transfer event published on first sighting, got %d", len(gossip.transfers))
	}
	if c.OpenRecordCount() != 1 {
		t.Fatalf("expected 1 open record, got %d", c.OpenRecordCount())
	}
}

func TestHandleEvent_ResolverMissTerminatesAsFailed(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	res := &fakeResolver{}
	signer := &fakeSigner{verifyOK: true, chainBAddr: "0xvalidator1"}
	c := newTestCoordinator(st, res, signer, &fakeRelayer{}, &fakeGossip{}, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	// A resolver miss is terminal (spec.md §4.5, §7 scenario 3): the
	// record is inserted and immediately marked Failed, never attested,
	// and HandleEvent reports success so the watcher's watermark advances
	// past it rather than retrying forever.
	if err := c.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected a resolver miss to be handled, not propagated: %v", err)
	}
	if c.OpenRecordCount() != 0 {
		t.Fatalf("expected the failed record to not count as open, got %d", c.OpenRecordCount())
	}

	rec, err := st.GetTransfer(context.Background(), event.Source, event.TransferID)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if rec == nil {
		t.Fatal("expected the record to have been inserted before resolution")
	}
	if rec.Status != types.StatusFailed {
		t.Fatalf("expected StatusFailed, got %s", rec.Status)
	}
	if len(rec.Attestations) != 0 {
		t.Fatalf("expected no attestations published on a resolver miss, got %d", len(rec.Attestations))
	}
}

func TestHandleAttestation_RejectsBadSignature(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	signer := &fakeSigner{verifyOK: false}
	c := newTestCoordinator(st, &fakeResolver{}, signer, &fakeRelayer{}, &fakeGossip{}, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	att := types.Attestation{TransferID: event.TransferID, Source: event.Source, Destination: event.Destination, ValidatorID: "0xbad", Signature: []byte("sig")}
	if err := c.HandleAttestation(context.Background(), att); err == nil {
		t.Fatal("expected signature verification error")
	}
	if rec, _ := st.GetTransfer(context.Background(), event.Source, event.TransferID); rec != nil {
		t.Fatal("expected no persistence for unverified attestation")
	}
}

func TestHandleAttestation_RejectsNonMemberOnChainB(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	signer := &fakeSigner{verifyOK: true}
	chainB := &fakeChainBQuerier{validators: map[common.Address]bool{}}
	c := newTestCoordinator(st, &fakeResolver{}, signer, &fakeRelayer{}, &fakeGossip{}, chainB, &fakeChainAQuerier{}, config.BridgeConfig{})

	att := types.Attestation{TransferID: event.TransferID, Source: event.Source, Destination: types.ChainB, ValidatorID: "0x9999999999999999999999999999999999999999", Signature: []byte("sig")}
	if err := c.HandleAttestation(context.Background(), att); err == nil {
		t.Fatal("expected non-member rejection")
	}
}

func TestHandleAttestation_AcceptsAndAttaches(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	if _, err := st.PutTransferIfAbsent(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateTransferStatus(context.Background(), event.Source, event.TransferID, types.StatusAttesting, "", ""); err != nil {
		t.Fatal(err)
	}
	signer := &fakeSigner{verifyOK: true}
	validatorAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	chainB := &fakeChainBQuerier{validators: map[common.Address]bool{validatorAddr: true}}
	c := newTestCoordinator(st, &fakeResolver{}, signer, &fakeRelayer{}, &fakeGossip{}, chainB, &fakeChainAQuerier{}, config.BridgeConfig{})

	c.mu.Lock()
	c.open[recordKey(event.Source, event.TransferID)] = &types.TransferRecord{Event: event, Status: types.StatusAttesting}
	c.mu.Unlock()

	att := types.Attestation{TransferID: event.TransferID, Source: event.Source, Destination: types.ChainB, ValidatorID: validatorAddr.Hex(), Signature: []byte("sig")}
	if err := c.HandleAttestation(context.Background(), att); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := st.GetTransfer(context.Background(), event.Source, event.TransferID)
	if rec.AttestationCount() != 1 {
		t.Fatalf("expected 1 attestation persisted, got %d", rec.AttestationCount())
	}
	if st.attestCounters[validatorAddr.Hex()] != 1 {
		t.Fatalf("expected validator counter incremented, got %d", st.attestCounters[validatorAddr.Hex()])
	}
	c.mu.Lock()
	inMemCount := c.open[recordKey(event.Source, event.TransferID)].AttestationCount()
	c.mu.Unlock()
	if inMemCount != 1 {
		t.Fatalf("expected in-memory record to reflect attestation, got %d", inMemCount)
	}
}

func TestHandleTransfer_PersistsWithoutAttesting(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	signer := &fakeSigner{}
	c := newTestCoordinator(st, &fakeResolver{}, signer, &fakeRelayer{}, &fakeGossip{}, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	if err := c.HandleTransfer(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := st.GetTransfer(context.Background(), event.Source, event.TransferID)
	if rec == nil {
		t.Fatal("expected placeholder record persisted")
	}
	if rec.Status != types.StatusPending {
		t.Fatalf("expected pending status, got %s", rec.Status)
	}
	if rec.AttestationCount() != 0 {
		t.Fatalf("expected no attestation from a peer-advertised transfer alone, got %d", rec.AttestationCount())
	}
	if c.OpenRecordCount() != 1 {
		t.Fatalf("expected 1 open record, got %d", c.OpenRecordCount())
	}
}

func TestSweep_RelaysOnlyOnceThresholdReached(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	rel := &fakeRelayer{result: relay.Result{Outcome: relay.OutcomeCompleted, TxID: "tx-1"}}
	chainB := &fakeChainBQuerier{threshold: 2}
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, rel, &fakeGossip{}, chainB, &fakeChainAQuerier{}, config.BridgeConfig{ThresholdCacheTTL: time.Minute})

	rec := &types.TransferRecord{
		Event:  event,
		Status: types.StatusAttesting,
		Attestations: []types.Attestation{
			{ValidatorID: "0xa", Signature: []byte("s1")},
		},
	}
	st.transfers[st.key(event.Source, event.TransferID)] = rec
	c.mu.Lock()
	c.open[recordKey(event.Source, event.TransferID)] = rec
	c.mu.Unlock()

	c.sweep(context.Background())
	if rel.calls != 0 {
		t.Fatalf("expected no relay submission below threshold, got %d calls", rel.calls)
	}

	c.mu.Lock()
	c.open[recordKey(event.Source, event.TransferID)].Attestations = append(
		c.open[recordKey(event.Source, event.TransferID)].Attestations,
		types.Attestation{ValidatorID: "0xb", Signature: []byte("s2")},
	)
	c.mu.Unlock()

	c.sweep(context.Background())
	time.Sleep(10 * time.Millisecond)
	c.wg.Wait()

	if rel.calls != 1 {
		t.Fatalf("expected exactly 1 relay submission once threshold reached, got %d", rel.calls)
	}
}

func TestApplyRelayResult_CompletedRemovesFromOpenSet(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, &fakeGossip{}, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	rec := &types.TransferRecord{Event: event, Status: types.StatusRelaying}
	st.transfers[st.key(event.Source, event.TransferID)] = rec
	c.mu.Lock()
	c.open[recordKey(event.Source, event.TransferID)] = rec
	c.mu.Unlock()

	c.applyRelayResult(context.Background(), *rec, relay.Result{Outcome: relay.OutcomeCompleted, TxID: "tx-9"})

	if c.OpenRecordCount() != 0 {
		t.Fatalf("expected record removed from open set, got %d", c.OpenRecordCount())
	}
	stored, _ := st.GetTransfer(context.Background(), event.Source, event.TransferID)
	if stored.Status != types.StatusCompleted || stored.RelayTxID != "tx-9" {
		t.Fatalf("expected persisted completed status with tx id, got %+v", stored)
	}
}

func TestApplyRelayResult_FailedRemovesFromOpenSet(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, &fakeGossip{}, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	rec := &types.TransferRecord{Event: event, Status: types.StatusRelaying}
	st.transfers[st.key(event.Source, event.TransferID)] = rec
	c.mu.Lock()
	c.open[recordKey(event.Source, event.TransferID)] = rec
	c.mu.Unlock()

	c.applyRelayResult(context.Background(), *rec, relay.Result{Outcome: relay.OutcomeFailed, ErrorKind: errkind.SignatureRejected})

	if c.OpenRecordCount() != 0 {
		t.Fatalf("expected record removed from open set, got %d", c.OpenRecordCount())
	}
	stored, _ := st.GetTransfer(context.Background(), event.Source, event.TransferID)
	if stored.Status != types.StatusFailed {
		t.Fatalf("expected persisted failed status, got %+v", stored)
	}
}

func TestApplyRelayResult_PendingLeavesRecordOpen(t *testing.T) {
	event := sampleEvent()
	st := newFakeStore()
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, &fakeGossip{}, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	rec := &types.TransferRecord{Event: event, Status: types.StatusAttesting}
	st.transfers[st.key(event.Source, event.TransferID)] = rec
	c.mu.Lock()
	c.open[recordKey(event.Source, event.TransferID)] = rec
	c.mu.Unlock()

	c.applyRelayResult(context.Background(), *rec, relay.Result{Outcome: relay.OutcomePending, ErrorKind: errkind.TransientNetwork})

	if c.OpenRecordCount() != 1 {
		t.Fatalf("expected record to remain open on pending outcome, got %d", c.OpenRecordCount())
	}
}

func TestThresholdFor_CachesWithinTTL(t *testing.T) {
	st := newFakeStore()
	chainB := &fakeChainBQuerier{threshold: 3}
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, &fakeGossip{}, chainB, &fakeChainAQuerier{}, config.BridgeConfig{ThresholdCacheTTL: time.Minute})

	first, err := c.thresholdFor(context.Background(), types.ChainB)
	if err != nil || first != 3 {
		t.Fatalf("expected 3, got %d err=%v", first, err)
	}

	chainB.threshold = 99
	second, err := c.thresholdFor(context.Background(), types.ChainB)
	if err != nil || second != 3 {
		t.Fatalf("expected cached value 3, got %d err=%v", second, err)
	}
}

func TestThresholdFor_RefetchesAfterTTLExpires(t *testing.T) {
	st := newFakeStore()
	chainB := &fakeChainBQuerier{threshold: 3}
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, &fakeGossip{}, chainB, &fakeChainAQuerier{}, config.BridgeConfig{ThresholdCacheTTL: time.Millisecond})

	if _, err := c.thresholdFor(context.Background(), types.ChainB); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	chainB.threshold = 7

	second, err := c.thresholdFor(context.Background(), types.ChainB)
	if err != nil || second != 7 {
		t.Fatalf("expected refreshed value 7, got %d err=%v", second, err)
	}
}

func TestThresholdFor_ChainAUsesBridgeAddress(t *testing.T) {
	st := newFakeStore()
	chainA := &fakeChainAQuerier{threshold: 2}
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, &fakeGossip{}, &fakeChainBQuerier{}, chainA, config.BridgeConfig{ThresholdCacheTTL: time.Minute})

	value, err := c.thresholdFor(context.Background(), types.ChainA)
	if err != nil || value != 2 {
		t.Fatalf("expected 2, got %d err=%v", value, err)
	}
}

func TestPeerCountAndOpenRecordCount(t *testing.T) {
	st := newFakeStore()
	gossip := &fakeGossip{peers: 4}
	c := newTestCoordinator(st, &fakeResolver{}, &fakeSigner{}, &fakeRelayer{}, gossip, &fakeChainBQuerier{}, &fakeChainAQuerier{}, config.BridgeConfig{})

	if c.PeerCount() != 4 {
		t.Fatalf("expected 4 peers, got %d", c.PeerCount())
	}
	if c.OpenRecordCount() != 0 {
		t.Fatalf("expected 0 open records, got %d", c.OpenRecordCount())
	}
}
