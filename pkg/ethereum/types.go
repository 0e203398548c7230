package ethereum

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LockEvent is the decoded form of a chain-B TokensLocked log, positionally
// exactly as spec.md §6 lists the event fields.
type LockEvent struct {
	LockID           [32]byte
	Token            common.Address
	Amount           *big.Int
	Sender           common.Address
	WavesDestination string
	Nonce            *big.Int
	TokenType        uint8
	TokenID          *big.Int
	BlockNumber      uint64
	TxHash           common.Hash
	LogIndex         uint
}
