package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	idLetters  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idDigits   = "0123456789"
	idAlphaNum = idLetters + idDigits

	// IDLength is the length of the random part of every identifier
	IDLength = 7
)

var reconciliationIDPattern = regexp.MustCompile(`^[A-Z0-9]{7}-(STMT|VOID|ADJ)-\d{8}$`)

// IDGenerator produces transaction and reconciliation identifiers
type IDGenerator struct {
	entropy func() [16]byte
}

// NewIDGenerator returns a generator backed by random UUIDs
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{entropy: func() [16]byte { return uuid.New() }}
}

// NewIDGeneratorWithEntropy returns a generator with a custom byte source
func NewIDGeneratorWithEntropy(entropy func() [16]byte) *IDGenerator {
	return &IDGenerator{entropy: entropy}
}

// TransactionID returns a 7 character upper-case identifier holding at
// least three letters and three digits in shuffled order.
func (g *IDGenerator) TransactionID() string {
	b := g.entropy()

	// bytes 6 and 8 carry UUID version and variant bits, so they are skipped
	chars := []byte{
		idLetters[int(b[0])%len(idLetters)],
		idLetters[int(b[1])%len(idLetters)],
		idLetters[int(b[2])%len(idLetters)],
		idDigits[int(b[3])%len(idDigits)],
		idDigits[int(b[4])%len(idDigits)],
		idDigits[int(b[5])%len(idDigits)],
		idAlphaNum[int(b[7])%len(idAlphaNum)],
	}

	for i, k := len(chars)-1, 9; i > 0; i, k = i-1, k+1 {
		j := int(b[k]) % (i + 1)
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars)
}

// ReconciliationID returns a fresh identifier for an audit entry or batch
func (g *IDGenerator) ReconciliationID(kind Kind, date time.Time) string {
	return ReconciliationID(g.TransactionID(), kind, date)
}

// ReconciliationID formats <base>-<MARKER>-<YYYYMMDD>
func ReconciliationID(base string, kind Kind, date time.Time) string {
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(base), kind.Marker(), date.Format("20060102"))
}

// IsReconciliationID reports whether id has the reconciliation format.
// Display and input checking only; kinds are never derived from ids.
func IsReconciliationID(id string) bool {
	return reconciliationIDPattern.MatchString(id)
}
