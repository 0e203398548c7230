// Package coordinator is the bridge validator's lifecycle owner: it wires
// the watchers, gossip overlay, resolver, signing engine and relay engine
// together, routes events and attestations, and is the sole mutator of a
// TransferRecord's status (spec.md §4.8). Grounded on the teacher's
// pkg/relayer/engine.go (wg-tracked goroutines, ticker-driven periodic
// reconciliation, graceful stopCh shutdown).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/internal/metrics"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/errkind"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/relay"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/resolver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/store"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// attestationSigner is the subset of *signing.Engine the Coordinator needs:
// producing our own attestations and verifying peer-published ones.
type attestationSigner interface {
	Sign(event types.TransferEvent, mapping resolver.AssetMapping) (types.Attestation, error)
	Verify(attestation types.Attestation, expectedValidatorID string) bool
	ChainBValidatorID() string
	ChainAValidatorID() string
	HasChainAKey() bool
}

// relayer is the subset of *relay.Engine the Coordinator's sweep drives.
type relayer interface {
	Submit(ctx context.Context, record types.TransferRecord) relay.Result
}

// gossipPublisher is the subset of *gossip.Overlay the Coordinator drives.
type gossipPublisher interface {
	PublishAttestation(att types.Attestation) error
	PublishTransfer(event types.TransferEvent) error
	PublishHeartbeat() error
	PeerCount() int
}

// chainBThresholdQuerier reads chain B's on-chain quorum parameters.
type chainBThresholdQuerier interface {
	ValidatorThreshold(ctx context.Context) (int, error)
	IsValidator(ctx context.Context, addr common.Address) (bool, error)
}

// chainAThresholdQuerier reads chain A's on-chain quorum parameter.
type chainAThresholdQuerier interface {
	GetValidatorThreshold(ctx context.Context, bridgeAddress string) (int, error)
}

// Coordinator owns every TransferRecord's lifecycle. It implements
// watcher.EventSink (HandleEvent) and gossip.InboundHandler
// (HandleAttestation/HandleTransfer/HandleValidatorAnnounce).
type Coordinator struct {
	store    store.Store
	resolver resolver.Resolver
	signing  attestationSigner
	relay    relayer
	gossip   gossipPublisher
	chainB   chainBThresholdQuerier
	chainA   chainAThresholdQuerier

	bridgeCfg    config.BridgeConfig
	chainABridge string
	logger       *zap.Logger

	mu   sync.Mutex
	open map[string]*types.TransferRecord

	thresholds thresholdCache

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(
	st store.Store,
	res resolver.Resolver,
	signingEngine attestationSigner,
	relayEngine relayer,
	overlay gossipPublisher,
	chainB chainBThresholdQuerier,
	chainA chainAThresholdQuerier,
	bridgeCfg config.BridgeConfig,
	chainABridgeAddress string,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		store:        st,
		resolver:     res,
		signing:      signingEngine,
		relay:        relayEngine,
		gossip:       overlay,
		chainB:       chainB,
		chainA:       chainA,
		bridgeCfg:    bridgeCfg,
		chainABridge: chainABridgeAddress,
		logger:       logger.Named("coordinator"),
		open:         make(map[string]*types.TransferRecord),
		stopCh:       make(chan struct{}),
	}
}

func recordKey(source types.ChainId, transferID string) string {
	return string(source) + "|" + transferID
}

// Start loads open records from persistence (spec.md §4.8's "re-derives
// all pending work from the store alone" restart contract) and starts the
// sweep and heartbeat loops. Non-blocking: watchers and the gossip overlay
// are started independently by the caller.
func (c *Coordinator) Start(ctx context.Context) error {
	records, err := c.store.ListOpenTransfers(ctx)
	if err != nil {
		return fmt.Errorf("load open transfers: %w", err)
	}

	c.mu.Lock()
	for i := range records {
		r := records[i]
		c.open[recordKey(r.Event.Source, r.Event.TransferID)] = &r
	}
	c.mu.Unlock()

	c.logger.Info("loaded open transfer records", zap.Int("count", len(records)))

	c.wg.Add(2)
	go c.sweepLoop(ctx)
	go c.heartbeatLoop(ctx)

	return nil
}

func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.bridgeCfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.bridgeCfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.gossip.PublishHeartbeat(); err != nil {
				c.logger.Warn("heartbeat publish failed", zap.Error(err))
			}
		}
	}
}

// sweep implements spec.md §4.8's periodic sweep: for each open record
// whose distinct attestation count has reached the destination's current
// on-chain threshold, invoke the Relay Engine.
func (c *Coordinator) sweep(ctx context.Context) {
	c.mu.Lock()
	candidates := make([]types.TransferRecord, 0, len(c.open))
	for _, r := range c.open {
		if r.Status == types.StatusAttesting || r.Status == types.StatusRelaying {
			candidates = append(candidates, snapshotRecord(r))
		}
	}
	c.mu.Unlock()

	metrics.PendingTransfers.WithLabelValues("open").Set(float64(len(candidates)))

	for _, record := range candidates {
		threshold, err := c.thresholdFor(ctx, record.Event.Destination)
		if err != nil {
			c.logger.Warn("threshold lookup failed, skipping sweep for record",
				zap.String("transfer_id", record.Event.TransferID), zap.Error(err))
			continue
		}
		if record.AttestationCount() < threshold {
			continue
		}
		c.relaySingle(ctx, record)
	}
}

// snapshotRecord copies a TransferRecord, giving the copy its own
// Attestations slice; callers must hold c.mu. The copy shares no slice
// with the original, so it is race-free to read from after unlocking.
func snapshotRecord(r *types.TransferRecord) types.TransferRecord {
	out := *r
	out.Attestations = append([]types.Attestation(nil), r.Attestations...)
	return out
}

func (c *Coordinator) relaySingle(ctx context.Context, record types.TransferRecord) {
	if record.Status == types.StatusAttesting {
		if err := c.store.UpdateTransferStatus(ctx, record.Event.Source, record.Event.TransferID, types.StatusRelaying, "", ""); err != nil {
			c.logger.Error("persist relaying status failed", zap.String("transfer_id", record.Event.TransferID), zap.Error(err))
			return
		}
		c.mu.Lock()
		if r, ok := c.open[recordKey(record.Event.Source, record.Event.TransferID)]; ok {
			r.Status = types.StatusRelaying
		}
		c.mu.Unlock()
		record.Status = types.StatusRelaying
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result := c.relay.Submit(ctx, record)
		c.applyRelayResult(ctx, record, result)
	}()
}

func (c *Coordinator) applyRelayResult(ctx context.Context, record types.TransferRecord, result relay.Result) {
	switch result.Outcome {
	case relay.OutcomeCompleted:
		if err := c.store.UpdateTransferStatus(ctx, record.Event.Source, record.Event.TransferID, types.StatusCompleted, result.TxID, ""); err != nil {
			c.logger.Error("persist completed status failed", zap.String("transfer_id", record.Event.TransferID), zap.Error(err))
			return
		}
		c.mu.Lock()
		if r, ok := c.open[recordKey(record.Event.Source, record.Event.TransferID)]; ok {
			r.Status = types.StatusCompleted
			r.RelayTxID = result.TxID
		}
		delete(c.open, recordKey(record.Event.Source, record.Event.TransferID))
		c.mu.Unlock()
		metrics.TransfersTotal.WithLabelValues(string(record.Event.Source)+"_to_"+string(record.Event.Destination), "completed").Inc()
	case relay.OutcomeFailed:
		if err := c.store.UpdateTransferStatus(ctx, record.Event.Source, record.Event.TransferID, types.StatusFailed, "", string(result.ErrorKind)); err != nil {
			c.logger.Error("persist failed status failed", zap.String("transfer_id", record.Event.TransferID), zap.Error(err))
			return
		}
		c.mu.Lock()
		delete(c.open, recordKey(record.Event.Source, record.Event.TransferID))
		c.mu.Unlock()
		metrics.ErrorsTotal.WithLabelValues("relay", string(result.ErrorKind)).Inc()
		metrics.TransfersTotal.WithLabelValues(string(record.Event.Source)+"_to_"+string(record.Event.Destination), "failed").Inc()
	case relay.OutcomePending:
		if result.ErrorKind != "" {
			metrics.ErrorsTotal.WithLabelValues("relay", string(result.ErrorKind)).Inc()
		}
	}
}

// HandleEvent implements watcher.EventSink. It is invoked once per
// observed TransferEvent, from either chain's watcher. Per spec.md §4.8,
// the record is inserted (if absent) before the Signing Engine is ever
// called. A replayed event for a record already Relaying, Completed or
// Failed returns nil without signing, so its status never moves back.
func (c *Coordinator) HandleEvent(ctx context.Context, event types.TransferEvent) error {
	inserted, err := c.store.PutTransferIfAbsent(ctx, event)
	if err != nil {
		return errkind.New(errkind.PersistenceIO, fmt.Errorf("persist transfer event: %w", err))
	}
	if !inserted {
		current, err := c.store.GetTransfer(ctx, event.Source, event.TransferID)
		if err != nil {
			return errkind.New(errkind.PersistenceIO, fmt.Errorf("load existing transfer: %w", err))
		}
		if current != nil && current.Status != types.StatusPending && current.Status != types.StatusAttesting {
			return nil
		}
	}

	mapping, err := c.resolveMapping(ctx, event)
	if err != nil {
		if kind, ok := errkind.KindOf(err); ok && kind == errkind.ResolverMiss {
			return c.failUnresolved(ctx, event, err)
		}
		return err
	}

	attestation, err := c.signing.Sign(event, mapping)
	if err != nil {
		return fmt.Errorf("sign attestation for %s: %w", event.TransferID, err)
	}

	if err := c.store.AppendAttestation(ctx, attestation); err != nil {
		return errkind.New(errkind.PersistenceIO, fmt.Errorf("persist own attestation: %w", err))
	}

	if err := c.store.UpdateTransferStatus(ctx, event.Source, event.TransferID, types.StatusAttesting, "", ""); err != nil {
		return errkind.New(errkind.PersistenceIO, fmt.Errorf("advance to attesting: %w", err))
	}

	c.mu.Lock()
	key := recordKey(event.Source, event.TransferID)
	r, known := c.open[key]
	if !known {
		r = &types.TransferRecord{Event: event, Status: types.StatusAttesting}
		c.open[key] = r
	}
	if !r.HasAttestationFrom(attestation.ValidatorID) {
		r.Attestations = append(r.Attestations, attestation)
	}
	r.Status = types.StatusAttesting
	c.mu.Unlock()

	if inserted {
		metrics.EventsDetected.WithLabelValues(string(event.Source), "lock").Inc()
		if err := c.gossip.PublishTransfer(event); err != nil {
			c.logger.Warn("publish transfer failed", zap.String("transfer_id", event.TransferID), zap.Error(err))
		}
	}
	if err := c.gossip.PublishAttestation(attestation); err != nil {
		c.logger.Warn("publish attestation failed", zap.String("transfer_id", event.TransferID), zap.Error(err))
	}

	return nil
}

// failUnresolved terminates a record whose destination-side asset has no
// registered mapping: spec.md §4.5 treats a resolver miss as permanent
// ("the transfer is marked Failed before signing"), and §7 scenario 3
// requires the Pending → Failed transition without any attestation ever
// published. Returning nil tells the watcher this event was processed, so
// its watermark advances past it rather than retrying forever.
func (c *Coordinator) failUnresolved(ctx context.Context, event types.TransferEvent, cause error) error {
	if err := c.store.UpdateTransferStatus(ctx, event.Source, event.TransferID, types.StatusFailed, "", string(errkind.ResolverMiss)); err != nil {
		return errkind.New(errkind.PersistenceIO, fmt.Errorf("persist resolver-miss failure: %w", err))
	}

	c.mu.Lock()
	delete(c.open, recordKey(event.Source, event.TransferID))
	c.mu.Unlock()

	metrics.ErrorsTotal.WithLabelValues("coordinator", string(errkind.ResolverMiss)).Inc()
	metrics.TransfersTotal.WithLabelValues(string(event.Source)+"_to_"+string(event.Destination), "failed").Inc()
	c.logger.Warn("transfer failed: no destination asset mapping", zap.String("transfer_id", event.TransferID), zap.Error(cause))
	return nil
}

func (c *Coordinator) resolveMapping(ctx context.Context, event types.TransferEvent) (resolver.AssetMapping, error) {
	if event.Destination == types.ChainB {
		return c.resolver.ResolveAToB(ctx, event.Token)
	}
	return c.resolver.ResolveBToA(ctx, common.HexToAddress(event.Token))
}

// HandleAttestation implements gossip.InboundHandler. A peer-published
// attestation is durable only after its signature verifies against its
// claimed validator_id (spec.md §4.6): membership in the active set is
// additionally checked against chain B's on-chain set when the
// destination is B; chain A exposes no enumerable validator set, so an
// ed25519 signature that verifies is accepted on its own (documented in
// DESIGN.md).
func (c *Coordinator) HandleAttestation(ctx context.Context, attestation types.Attestation) error {
	if !c.signing.Verify(attestation, attestation.ValidatorID) {
		metrics.ErrorsTotal.WithLabelValues("coordinator", string(errkind.MalformedInbound)).Inc()
		return fmt.Errorf("attestation from %s failed signature verification", attestation.ValidatorID)
	}

	if attestation.Destination == types.ChainB && c.chainB != nil {
		isValidator, err := c.chainB.IsValidator(ctx, common.HexToAddress(attestation.ValidatorID))
		if err == nil && !isValidator {
			metrics.ErrorsTotal.WithLabelValues("coordinator", string(errkind.MalformedInbound)).Inc()
			return fmt.Errorf("attestation from non-member validator %s ignored", attestation.ValidatorID)
		}
	}

	if err := c.store.AppendAttestation(ctx, attestation); err != nil {
		return errkind.New(errkind.PersistenceIO, fmt.Errorf("persist peer attestation: %w", err))
	}
	if err := c.store.RecordValidatorAttestation(ctx, attestation.ValidatorID, true, attestation.ProducedAt); err != nil {
		c.logger.Warn("record validator counter failed", zap.String("validator_id", attestation.ValidatorID), zap.Error(err))
	}

	c.mu.Lock()
	key := recordKey(attestation.Source, attestation.TransferID)
	r, known := c.open[key]
	if known && !r.HasAttestationFrom(attestation.ValidatorID) {
		r.Attestations = append(r.Attestations, attestation)
	}
	c.mu.Unlock()

	return nil
}

// HandleTransfer implements gossip.InboundHandler. A peer-advertised
// event is persisted so the record exists for subsequent attestations to
// attach to, but never signed on its own say-so: this node only produces
// an attestation once its own watcher independently observes the same
// event via HandleEvent (an invented, conservative design decision — see
// DESIGN.md).
func (c *Coordinator) HandleTransfer(ctx context.Context, event types.TransferEvent) error {
	inserted, err := c.store.PutTransferIfAbsent(ctx, event)
	if err != nil {
		return errkind.New(errkind.PersistenceIO, fmt.Errorf("persist peer-advertised transfer: %w", err))
	}
	if inserted {
		c.mu.Lock()
		key := recordKey(event.Source, event.TransferID)
		if _, known := c.open[key]; !known {
			c.open[key] = &types.TransferRecord{Event: event, Status: types.StatusPending}
		}
		c.mu.Unlock()
	}
	return nil
}

// HandleValidatorAnnounce implements gossip.InboundHandler. Heartbeats
// carry no persisted state of their own; liveness is implicit in the
// overlay's peer count.
func (c *Coordinator) HandleValidatorAnnounce(_ context.Context, validatorID string, at int64) error {
	c.logger.Debug("validator heartbeat", zap.String("validator_id", validatorID), zap.Int64("at", at))
	return nil
}

// PeerCount exposes the gossip overlay's live peer count for the status
// HTTP surface.
func (c *Coordinator) PeerCount() int {
	return c.gossip.PeerCount()
}

// OpenRecordCount exposes the in-memory open-record count for the status
// HTTP surface, avoiding a persistence round trip on every poll.
func (c *Coordinator) OpenRecordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}
