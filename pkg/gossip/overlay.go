package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// InboundHandler receives gossip messages that passed envelope
// authentication, drift-horizon and self-echo checks. Handlers must be
// idempotent: spec.md §4.6 guarantees no cross-message ordering and
// tolerates duplicates.
type InboundHandler interface {
	HandleAttestation(ctx context.Context, att types.Attestation) error
	HandleTransfer(ctx context.Context, event types.TransferEvent) error
	HandleValidatorAnnounce(ctx context.Context, validatorID string, at int64) error
}

// validatorAnnouncePayload is TopicValidatorAnnounce's payload: a
// heartbeat plus enough to learn a validator's gossip key on first sight.
type validatorAnnouncePayload struct {
	ValidatorID string `json:"validator_id"`
}

// Overlay is the Gossip Overlay component: it owns this node's transport
// identity, the peer hub, and the trust-on-first-use table mapping a
// validator id to the gossip public key it first announced with.
type Overlay struct {
	identity    Identity
	selfID      string
	driftHorizon time.Duration
	listenPort  int
	bootstrap   []string

	hub    *hub
	logger *zap.Logger

	mu        sync.Mutex
	trustedKeys map[string][]byte

	server   *http.Server
	listener net.Listener
}

// New builds an Overlay. selfValidatorID is this node's chain-B address
// (or chain-A validator id), stamped on every outbound envelope and used
// to drop self-published messages that loop back through a peer.
func New(cfg config.OverlayConfig, selfValidatorID string, logger *zap.Logger) (*Overlay, error) {
	identity, err := NewIdentity(cfg.IdentitySeed)
	if err != nil {
		return nil, err
	}

	return &Overlay{
		identity:     identity,
		selfID:       selfValidatorID,
		driftHorizon: cfg.DriftHorizon,
		listenPort:   cfg.ListenPort,
		bootstrap:    cfg.BootstrapPeers,
		hub:          newHub(logger.Named("gossip")),
		logger:       logger.Named("gossip"),
		trustedKeys:  make(map[string][]byte),
	}, nil
}

// Start begins serving inbound peer connections, dials bootstrap peers,
// and runs the dispatch loop until ctx is cancelled. When bootstrap is
// empty the node runs standalone, a valid single-validator deployment per
// spec.md §4.6.
func (o *Overlay) Start(ctx context.Context, handler InboundHandler) error {
	stop := make(chan struct{})
	go o.hub.run(stop)
	defer close(stop)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", o.listenPort))
	if err != nil {
		return fmt.Errorf("gossip listen on port %d: %w", o.listenPort, err)
	}
	o.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", o.hub.upgrade)
	o.server = &http.Server{Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		if err := o.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	for _, addr := range o.bootstrap {
		go o.dialPeer(ctx, addr)
	}

	for {
		select {
		case <-ctx.Done():
			_ = o.server.Close()
			return ctx.Err()
		case err := <-serveErr:
			return fmt.Errorf("gossip listener: %w", err)
		case env := <-o.hub.inbound:
			o.dispatch(ctx, env, handler)
		}
	}
}

func (o *Overlay) dialPeer(ctx context.Context, addr string) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		o.logger.Warn("failed to dial gossip bootstrap peer", zap.String("addr", addr), zap.Error(err))
		return
	}
	o.hub.addPeer(conn)
}

// PeerCount reports the number of currently connected gossip peers, used
// by the status HTTP surface.
func (o *Overlay) PeerCount() int { return o.hub.peerCount() }

// Addr returns the address Start bound to, including the OS-assigned port
// when listenPort was configured as 0. Only valid after Start has begun
// listening.
func (o *Overlay) Addr() net.Addr { return o.listener.Addr() }

func (o *Overlay) dispatch(ctx context.Context, env Envelope, handler InboundHandler) {
	if env.SenderValidatorID == o.selfID {
		return // self-published messages must not round-trip back, per spec.md §4.6.
	}
	if !env.verify() {
		o.logger.Debug("dropping gossip envelope with invalid signature", zap.String("sender", env.SenderValidatorID))
		return
	}
	if age := time.Since(time.UnixMilli(env.SentAt)); age > o.driftHorizon || age < -o.driftHorizon {
		o.logger.Debug("dropping gossip envelope outside drift horizon",
			zap.String("sender", env.SenderValidatorID), zap.Duration("age", age))
		return
	}
	o.trustKey(env.SenderValidatorID, env.SenderPubKey)

	var err error
	switch env.Type {
	case TopicAttestations:
		var att types.Attestation
		if err = json.Unmarshal(env.Payload, &att); err == nil {
			err = handler.HandleAttestation(ctx, att)
		}
	case TopicTransfers:
		var event types.TransferEvent
		if err = json.Unmarshal(env.Payload, &event); err == nil {
			err = handler.HandleTransfer(ctx, event)
		}
	case TopicValidatorAnnounce:
		var p validatorAnnouncePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = handler.HandleValidatorAnnounce(ctx, p.ValidatorID, env.SentAt)
		}
	default:
		o.logger.Debug("dropping gossip envelope with unknown topic", zap.String("type", string(env.Type)))
		return
	}
	if err != nil {
		o.logger.Warn("gossip handler rejected envelope",
			zap.String("type", string(env.Type)), zap.String("sender", env.SenderValidatorID), zap.Error(err))
	}
}

// trustKey records the gossip public key a validator id first announced
// with; a later envelope from the same validator id under a different key
// is still authenticated (its own signature still has to verify) but is
// logged, since it means that validator rotated its gossip identity or is
// being impersonated — distinguishing the two is left to an operator.
func (o *Overlay) trustKey(validatorID string, pub []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, known := o.trustedKeys[validatorID]
	if known && string(prev) != string(pub) {
		o.logger.Warn("gossip sender presented a different key than previously trusted",
			zap.String("validator_id", validatorID))
	}
	if !known {
		o.trustedKeys[validatorID] = pub
	}
}

func (o *Overlay) publish(topic Topic, payload any) error {
	env, err := o.identity.seal(o.selfID, topic, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal gossip envelope: %w", err)
	}
	select {
	case o.hub.broadcast <- raw:
	default:
		return fmt.Errorf("gossip broadcast queue full")
	}
	return nil
}

// PublishAttestation announces this node's attestation on the
// attestations topic.
func (o *Overlay) PublishAttestation(att types.Attestation) error {
	return o.publish(TopicAttestations, att)
}

// PublishTransfer announces a sighted TransferEvent on the transfers
// topic, letting peers that missed it on their own watcher catch up.
func (o *Overlay) PublishTransfer(event types.TransferEvent) error {
	return o.publish(TopicTransfers, event)
}

// PublishHeartbeat emits a liveness announcement on the
// validator-announce topic, per spec.md §4.8's 30s heartbeat loop.
func (o *Overlay) PublishHeartbeat() error {
	return o.publish(TopicValidatorAnnounce, validatorAnnouncePayload{ValidatorID: o.selfID})
}
