package tracking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// commitHashLen is the number of hex characters kept from the digest.
const commitHashLen = 12

// ContentHash derives the commit hash from the ordered change tuples and the
// commit timestamp. Two commits carrying identical changes at different times
// get distinct hashes.
func ContentHash(changes []models.EntityChange, ts time.Time) string {
	h := sha256.New()
	for _, c := range changes {
		fmt.Fprintf(h, "%s\x00%s\x00", c.EntityType, c.EntityID)
		h.Write(c.Before)
		h.Write([]byte{0})
		h.Write(c.After)
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%d", ts.UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:commitHashLen]
}
