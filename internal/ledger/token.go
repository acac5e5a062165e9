package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// deriveAccessToken produces the opaque access handle issued with each
// purchase: a keccak hash over the (listing, buyer, settlement time) tuple.
// The token identifies the grant; content delivery checks the access right
// itself, not the token.
func deriveAccessToken(listingID int64, buyer string, at time.Time) string {
	preimage := fmt.Sprintf("%d:%s:%d", listingID, strings.ToLower(buyer), at.UnixNano())
	return crypto.Keccak256Hash([]byte(preimage)).Hex()
}
