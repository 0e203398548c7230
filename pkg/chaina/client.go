// Package chaina is the HTTP client for chain A, a Waves-like account-based
// L0 network reached through a REST API rather than an RPC/WS node client.
// No ecosystem HTTP client in the retrieved example pack fits a bespoke
// node API better than the standard library, so this is a deliberate,
// documented stdlib-only component (see DESIGN.md).
package chaina

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/mr-tron/base58"
)

// Client talks to a single chain-A node over its public REST API.
type Client struct {
	baseURL    string
	networkTag byte
	httpClient *http.Client
}

func New(cfg *config.ChainAConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.NodeURL, "/"),
		networkTag: cfg.NetworkTag[0],
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) NetworkTag() byte { return c.networkTag }

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain A request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errTooManyRequests
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("chain A request %s: status %d", path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("chain A request %s: client error %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

var errTooManyRequests = fmt.Errorf("chain A node: too many requests")

// IsRateLimited reports whether err came from a 429 response. The Relay
// Engine checks it when classifying chain-A failures; the watchers retry
// every error alike.
func IsRateLimited(err error) bool {
	return err == errTooManyRequests
}

// GetHeight returns the current chain head.
func (c *Client) GetHeight(ctx context.Context) (uint64, error) {
	var body struct {
		Height uint64 `json:"height"`
	}
	if err := c.get(ctx, "/blocks/height", &body); err != nil {
		return 0, err
	}
	return body.Height, nil
}

// Payment is one funds-locking entry attached to an invoke-script call.
type Payment struct {
	AssetID string `json:"assetId"`
	Amount  int64  `json:"amount"`
}

// Arg is one positional argument of an invoke-script function call.
type Arg struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// InvokeScriptTransaction is a type-16 transaction addressed to a dApp.
type InvokeScriptTransaction struct {
	Type int    `json:"type"`
	ID   string `json:"id"`
	DApp string `json:"dApp"`
	// Sender is the originating account's address — the user who
	// invoked the bridge dApp, as distinct from DApp (the bridge
	// contract's own address).
	Sender    string    `json:"sender"`
	Call      *FnCall   `json:"call"`
	Payment   []Payment `json:"payment"`
	Timestamp int64     `json:"timestamp"`
}

type FnCall struct {
	Function string `json:"function"`
	Args     []Arg  `json:"args"`
}

// Block is the transaction container returned by /blocks/at/{h}.
type Block struct {
	Height       uint64                    `json:"height"`
	Transactions []InvokeScriptTransaction `json:"transactions"`
}

// GetBlockAt fetches one block's transactions, keeping only type-16
// invoke-script calls of lockTokens or lockNFT whose dApp equals
// bridgeAddress (compared case-insensitively). Transactions that fail to
// unmarshal or do not match are left out of the slice.
func (c *Client) GetBlockAt(ctx context.Context, height uint64, bridgeAddress string) (*Block, error) {
	var raw struct {
		Height       uint64            `json:"height"`
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := c.get(ctx, fmt.Sprintf("/blocks/at/%d", height), &raw); err != nil {
		return nil, err
	}

	block := &Block{Height: raw.Height}
	for _, rm := range raw.Transactions {
		var tx InvokeScriptTransaction
		if err := json.Unmarshal(rm, &tx); err != nil {
			continue
		}
		if tx.Type != 16 || tx.Call == nil {
			continue
		}
		if !strings.EqualFold(tx.DApp, bridgeAddress) {
			continue
		}
		if tx.Call.Function != "lockTokens" && tx.Call.Function != "lockNFT" {
			continue
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

// DataEntry is one row of an address's on-chain data storage.
type DataEntry struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// GetAddressData lists the data rows at address whose key starts with
// keyPrefix (the Asset Resolver's token_map_* scan, §4.5).
func (c *Client) GetAddressData(ctx context.Context, address, keyPrefix string) ([]DataEntry, error) {
	q := url.Values{}
	if keyPrefix != "" {
		q.Set("matches", regexpEscapePrefix(keyPrefix))
	}
	path := fmt.Sprintf("/addresses/data/%s", address)
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var entries []DataEntry
	if err := c.get(ctx, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// regexpEscapePrefix builds the node-side "matches" regex: the literal
// prefix followed by any suffix.
func regexpEscapePrefix(prefix string) string {
	return regexp.QuoteMeta(prefix) + ".*"
}

// GetDataEntry fetches a single data row, returning found=false on a 404
// rather than an error — the Relay Engine's "already processed" check
// (spec.md §4.7's "equivalent data-row on A") is expected to miss on a
// fresh transfer.
func (c *Client) GetDataEntry(ctx context.Context, address, key string) (*DataEntry, bool, error) {
	var entry DataEntry
	err := c.get(ctx, fmt.Sprintf("/addresses/data/%s/%s", address, url.PathEscape(key)), &entry)
	if err != nil {
		if strings.Contains(err.Error(), "client error 404") {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &entry, true, nil
}

// GetValidatorThreshold reads the bridge dApp's "validator_threshold" data
// row, chain A's equivalent of chain B's validatorThreshold() view call
// (spec.md §4.8's "quorum arithmetic" — the threshold is always read from
// the destination chain, never a local constant).
func (c *Client) GetValidatorThreshold(ctx context.Context, bridgeAddress string) (int, error) {
	entry, found, err := c.GetDataEntry(ctx, bridgeAddress, "validator_threshold")
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("chain A bridge %s has no validator_threshold data row", bridgeAddress)
	}
	n, err := strconv.Atoi(entry.Value)
	if err != nil {
		return 0, fmt.Errorf("parse validator_threshold %q: %w", entry.Value, err)
	}
	return n, nil
}

// TransactionInfo is the subset of /transactions/info/{id} the Relay
// Engine needs to confirm a submission landed.
type TransactionInfo struct {
	ID             string `json:"id"`
	Height         uint64 `json:"height"`
	ApplicationStatus string `json:"applicationStatus"`
}

// Confirmed reports whether the chain accepted and applied the
// transaction (as opposed to accepting it into the UTX pool but later
// discarding it, the Waves-style "succeeded" vs "script_execution_failed"
// distinction).
func (t *TransactionInfo) Confirmed() bool {
	return t.Height > 0 && (t.ApplicationStatus == "" || t.ApplicationStatus == "succeeded")
}

// GetTransactionInfo polls the node for a submitted transaction's status.
// A 404 is reported as a plain error (not found yet), which the Relay
// Engine's confirmation loop treats as "still pending".
func (c *Client) GetTransactionInfo(ctx context.Context, txID string) (*TransactionInfo, error) {
	var info TransactionInfo
	if err := c.get(ctx, fmt.Sprintf("/transactions/info/%s", txID), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// InvokeScriptCallArg is one positional argument passed to
// BuildReleaseTokensInvoke, tagged with its Waves RIDE type.
type InvokeScriptCallArg struct {
	Type  string
	Value interface{}
}

func stringArg(v string) InvokeScriptCallArg      { return InvokeScriptCallArg{Type: "string", Value: v} }
func integerArg(v int64) InvokeScriptCallArg       { return InvokeScriptCallArg{Type: "integer", Value: v} }
func binaryArg(v string) InvokeScriptCallArg       { return InvokeScriptCallArg{Type: "binary", Value: v} }
func listArg(t string, v []string) InvokeScriptCallArg {
	items := make([]InvokeScriptCallArg, len(v))
	for i, s := range v {
		items[i] = InvokeScriptCallArg{Type: t, Value: s}
	}
	return InvokeScriptCallArg{Type: "list", Value: items}
}

// unsignedInvokeScriptTx is the JSON body BroadcastInvokeScript expects,
// built by the Relay Engine and signed with the node's chain-A key before
// being handed to BroadcastInvokeScript.
type unsignedInvokeScriptTx struct {
	Type            int                   `json:"type"`
	Version         int                   `json:"version"`
	SenderPublicKey string                `json:"senderPublicKey"`
	DApp            string                `json:"dApp"`
	Call            invokeScriptCallJSON  `json:"call"`
	Payment         []Payment             `json:"payment"`
	Fee             int64                 `json:"fee"`
	FeeAssetID      *string               `json:"feeAssetId"`
	Timestamp       int64                 `json:"timestamp"`
	ChainID         byte                  `json:"chainId"`
}

type invokeScriptCallJSON struct {
	Function string                `json:"function"`
	Args     []InvokeScriptCallArg `json:"args"`
}

// BuildReleaseTokensInvoke constructs the unsigned invoke-script call for
// spec.md §4.7's chain-A release path: releaseTokens(transfer_id,
// recipient, asset_ref, amount, signatures[], public_keys[]), signatures
// and public keys base64-encoded, positionally matched.
func BuildReleaseTokensInvoke(senderPubKeyBase58, dApp, function, transferID, recipient, assetRef, amount string, signaturesB64, publicKeysB64 []string, fee int64, chainID byte, timestamp int64) []byte {
	tx := unsignedInvokeScriptTx{
		Type:            16,
		Version:         2,
		SenderPublicKey: senderPubKeyBase58,
		DApp:            dApp,
		Call: invokeScriptCallJSON{
			Function: function,
			Args: []InvokeScriptCallArg{
				stringArg(transferID),
				stringArg(recipient),
				stringArg(assetRef),
				integerArg(mustParseInt(amount)),
				listArg("string", signaturesB64),
				listArg("string", publicKeysB64),
			},
		},
		Fee:       fee,
		Timestamp: timestamp,
		ChainID:   chainID,
	}
	raw, _ := json.Marshal(tx)
	return raw
}

// AttachProof inserts the base58-encoded signature proof the node's own
// chain-A key produced over rawTx into the tx body, ready for
// BroadcastInvokeScript. Waves-style transactions carry an ordered
// "proofs" array; this node always submits with exactly one.
func AttachProof(rawTx []byte, signature []byte) ([]byte, error) {
	var tx map[string]interface{}
	if err := json.Unmarshal(rawTx, &tx); err != nil {
		return nil, fmt.Errorf("attach proof: %w", err)
	}
	tx["proofs"] = []string{base58.Encode(signature)}
	return json.Marshal(tx)
}

func mustParseInt(s string) int64 {
	var n int64
	for _, r := range s {
		n = n*10 + int64(r-'0')
	}
	return n
}

// BroadcastInvokeScript posts a signed invoke-script transaction and
// returns its assigned id.
func (c *Client) BroadcastInvokeScript(ctx context.Context, signedTxJSON []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/broadcast", strings.NewReader(string(signedTxJSON)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast invoke script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errTooManyRequests
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("broadcast invoke script: status %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode broadcast response: %w", err)
	}
	return body.ID, nil
}
