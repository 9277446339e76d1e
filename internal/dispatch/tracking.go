package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// newID returns a random 16-hex-char identifier.
func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// newTrackingNumber builds the customer-visible tracking number:
// CC + yymmdd + 8 random hex chars. Uniqueness is enforced at insert
// time, not here; collisions trigger a regenerate-and-retry.
func newTrackingNumber(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("CC%s%s", now.Format("060102"), strings.ToUpper(hex.EncodeToString(b)))
}
