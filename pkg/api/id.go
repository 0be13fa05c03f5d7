package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	requestIDPrefix = "req_"
	streamIDPrefix  = "ans_"
)

var requestIDPattern = regexp.MustCompile(`^req_[a-zA-Z0-9]{24}$`)

// segmentNamespace scopes the name-based UUIDs derived for segments.
var segmentNamespace = uuid.MustParse("6f1d6c1e-3b0a-5c55-9d2e-8a7f4f0c2b11")

// NewRequestID generates a request ID with the "req_" prefix followed by 24
// cryptographically random alphanumeric characters.
func NewRequestID() string {
	return requestIDPrefix + randomAlphanumeric(idLength)
}

// NewStreamID generates an identifier for an in-flight answer stream.
func NewStreamID() string {
	return streamIDPrefix + randomAlphanumeric(idLength)
}

// ValidateRequestID checks whether id matches "req_" + 24 alphanumerics.
func ValidateRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// NewVectorID returns a random UUID for a record that has no derived ID.
func NewVectorID() string {
	return uuid.NewString()
}

// SegmentID derives a stable UUIDv5 from the owning tenant, dataset and
// document plus the segment position. Re-ingesting an unchanged document
// yields the same IDs, which keeps upserts idempotent.
func SegmentID(tenantID, datasetID, documentID string, position int) string {
	name := tenantID + "\x00" + datasetID + "\x00" + documentID + "\x00" + strconv.Itoa(position)
	return uuid.NewSHA1(segmentNamespace, []byte(name)).String()
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
