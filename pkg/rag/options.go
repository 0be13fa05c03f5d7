package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/splitter"
	"github.com/rhuss/quelle/pkg/vectorstore"
)

// Options holds the pipeline settings. Zero values are replaced by
// DefaultOptions in New.
type Options struct {
	// CollectionPrefix prefixes every per-dataset collection name.
	CollectionPrefix string

	// Strategy, MaxChunkSize and OverlapSize configure the default splitter.
	Strategy     splitter.Strategy
	MaxChunkSize int
	OverlapSize  int

	// TopK and MinScore are the retrieval defaults.
	TopK     int
	MinScore float32

	// SystemPrompt is a text/template rendered with PromptData.
	SystemPrompt string

	// Model, Temperature and MaxTokens shape completion requests.
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		CollectionPrefix: "quelle",
		Strategy:         splitter.StrategyCharacter,
		MaxChunkSize:     splitter.DefaultMaxChunkSize,
		OverlapSize:      splitter.DefaultOverlapSize,
		TopK:             vectorstore.DefaultLimit,
		SystemPrompt:     DefaultSystemPrompt,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.CollectionPrefix == "" {
		o.CollectionPrefix = d.CollectionPrefix
	}
	if o.Strategy == "" {
		o.Strategy = d.Strategy
	}
	if o.MaxChunkSize == 0 {
		o.MaxChunkSize = d.MaxChunkSize
	}
	if o.OverlapSize == 0 && o.MaxChunkSize > d.OverlapSize {
		o.OverlapSize = d.OverlapSize
	}
	if o.TopK == 0 {
		o.TopK = d.TopK
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = d.SystemPrompt
	}
}

func (o *Options) validate() error {
	if _, err := splitter.New(o.Strategy, o.MaxChunkSize, o.OverlapSize); err != nil {
		return err
	}
	if o.TopK < 0 {
		return api.NewError(api.ErrInvalidConfiguration, "rag.New", fmt.Sprintf("top_k must not be negative, got %d", o.TopK), nil)
	}
	return nil
}

// CollectionFor returns the collection that holds a tenant's dataset:
// "<prefix>_<tenant>_<dataset>", or "<prefix>_<dataset>" without a tenant.
// Dataset IDs are limited to ASCII letters, digits and hyphens. A tenant ID
// outside that alphabet is replaced by "_" and a hash of it, so no two
// (tenant, dataset) pairs share a collection.
func (o Options) CollectionFor(tenantID, datasetID string) (string, error) {
	if datasetID == "" {
		return "", api.NewError(api.ErrInvalidArgument, "rag.CollectionFor", "dataset is required", nil)
	}
	if !validID(datasetID) {
		return "", api.NewError(api.ErrInvalidArgument, "rag.CollectionFor",
			fmt.Sprintf("dataset %q must be 1 to %d letters, digits or hyphens", datasetID, maxIDLength), nil)
	}
	name := vectorstore.SanitizeName(o.CollectionPrefix)
	if tenantID != "" {
		name += "_" + tenantPart(tenantID)
	}
	return name + "_" + datasetID, nil
}

const maxIDLength = 64

func validID(s string) bool {
	if s == "" || len(s) > maxIDLength {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// tenantPart never contains "_" for a literal ID and always starts with
// "_" for a hashed one.
func tenantPart(tenantID string) string {
	if validID(tenantID) {
		return tenantID
	}
	sum := sha256.Sum256([]byte(tenantID))
	return "_" + hex.EncodeToString(sum[:16])
}
