// Code generated against the bridge ABI in use by this validator set.
// Hand-maintained because the contract evolves alongside this node; treat
// it like a generated binding (thin wrapper over bind.BoundContract) and
// regenerate fully once the ABI stabilizes.

package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BridgeMetaData contains the ABI fragment this node exercises: the five
// read calls, two release calls, and the TokensLocked event of spec.md §6.
var BridgeMetaData = &bind.MetaData{
	ABI: `[
		{"type":"function","name":"wavesToUnit0Token","stateMutability":"view","inputs":[{"name":"assetId","type":"string"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"processedTransfers","stateMutability":"view","inputs":[{"name":"transferId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"validatorThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"activeValidatorCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"isValidator","stateMutability":"view","inputs":[{"name":"addr","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"releaseTokens","stateMutability":"nonpayable","inputs":[{"name":"transferId","type":"bytes32"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"recipient","type":"address"},{"name":"kind","type":"uint8"},{"name":"tokenId","type":"uint256"},{"name":"signatures","type":"bytes[]"}],"outputs":[]},
		{"type":"function","name":"releaseNFT","stateMutability":"nonpayable","inputs":[{"name":"transferId","type":"bytes32"},{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"signatures","type":"bytes[]"}],"outputs":[]},
		{"type":"event","name":"TokensLocked","anonymous":false,"inputs":[
			{"name":"lockId","type":"bytes32","indexed":true},
			{"name":"token","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"sender","type":"address","indexed":true},
			{"name":"wavesDestination","type":"string","indexed":false},
			{"name":"nonce","type":"uint256","indexed":false},
			{"name":"tokenType","type":"uint8","indexed":false},
			{"name":"tokenId","type":"uint256","indexed":false}
		]}
	]`,
}

// BridgeABI is the parsed ABI, exposed for callers that need to pack or
// unpack calldata outside of the generated wrapper (e.g. log decoding in
// the watcher).
var BridgeABI = BridgeMetaData.ABI

// TokensLocked mirrors the positional decoding of spec.md §6's
// TokensLocked event exactly.
type TokensLocked struct {
	LockId           [32]byte
	Token            common.Address
	Amount           *big.Int
	Sender           common.Address
	WavesDestination string
	Nonce            *big.Int
	TokenType        uint8
	TokenId          *big.Int
	Raw              types.Log
}

// Bridge is a thin binding over the bridge contract's read/write/event
// surface, following the abigen Caller/Transactor/Filterer split without
// the boilerplate of a fully generated file.
type Bridge struct {
	address common.Address
	abi     abi.ABI
	backend bind.ContractBackend
	bound   *bind.BoundContract
}

func NewBridge(address common.Address, backend bind.ContractBackend) (*Bridge, error) {
	parsed, err := abi.JSON(strings.NewReader(BridgeABI))
	if err != nil {
		return nil, err
	}
	return &Bridge{
		address: address,
		abi:     parsed,
		backend: backend,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

func (b *Bridge) Address() common.Address { return b.address }

// WavesToUnit0Token is the A→B asset mapping read call (spec.md §4.5/§6).
func (b *Bridge) WavesToUnit0Token(opts *bind.CallOpts, assetID string) (common.Address, error) {
	var out []interface{}
	err := b.bound.Call(opts, &out, "wavesToUnit0Token", assetID)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (b *Bridge) ProcessedTransfers(opts *bind.CallOpts, transferID [32]byte) (bool, error) {
	var out []interface{}
	err := b.bound.Call(opts, &out, "processedTransfers", transferID)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (b *Bridge) ValidatorThreshold(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	err := b.bound.Call(opts, &out, "validatorThreshold")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (b *Bridge) ActiveValidatorCount(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	err := b.bound.Call(opts, &out, "activeValidatorCount")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (b *Bridge) IsValidator(opts *bind.CallOpts, addr common.Address) (bool, error) {
	var out []interface{}
	err := b.bound.Call(opts, &out, "isValidator", addr)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// ReleaseTokens submits the fungible release call; signatures must already
// be sorted by signer address ascending (spec.md §4.7).
func (b *Bridge) ReleaseTokens(
	auth *bind.TransactOpts,
	transferID [32]byte,
	token common.Address,
	amount *big.Int,
	recipient common.Address,
	kind uint8,
	tokenID *big.Int,
	signatures [][]byte,
) (*types.Transaction, error) {
	return b.bound.Transact(auth, "releaseTokens", transferID, token, amount, recipient, kind, tokenID, signatures)
}

func (b *Bridge) ReleaseNFT(
	auth *bind.TransactOpts,
	transferID [32]byte,
	token common.Address,
	recipient common.Address,
	tokenID *big.Int,
	signatures [][]byte,
) (*types.Transaction, error) {
	return b.bound.Transact(auth, "releaseNFT", transferID, token, recipient, tokenID, signatures)
}

// FilterTokensLocked range-queries the bridge's TokensLocked log, matching
// the filter-opts + iterator idiom of an abigen FilterXxx method.
func (b *Bridge) FilterTokensLocked(opts *bind.FilterOpts) (*TokensLockedIterator, error) {
	logs, sub, err := b.bound.FilterLogs(opts, "TokensLocked")
	if err != nil {
		return nil, err
	}
	return &TokensLockedIterator{contract: b.bound, logs: logs, sub: sub}, nil
}

// TokensLockedIterator iterates over TokensLocked events returned by a
// range filter, in the same style as an abigen FilterXxx iterator.
type TokensLockedIterator struct {
	Event *TokensLocked

	contract *bind.BoundContract
	logs     chan types.Log
	sub      interface{ Unsubscribe() }
	done     bool
	fail     error
}

func (it *TokensLockedIterator) Next() bool {
	if it.done {
		return false
	}
	log, ok := <-it.logs
	if !ok {
		it.done = true
		return false
	}
	event := new(TokensLocked)
	if err := it.contract.UnpackLog(event, "TokensLocked", log); err != nil {
		it.fail = err
		return false
	}
	event.Raw = log
	it.Event = event
	return true
}

func (it *TokensLockedIterator) Error() error { return it.fail }

func (it *TokensLockedIterator) Close() error {
	it.done = true
	return nil
}
