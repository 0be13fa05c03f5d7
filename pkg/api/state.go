package api

import "fmt"

// IngestState is the stage an ingestion request has reached.
type IngestState string

const (
	IngestStateLoaded   IngestState = "loaded"
	IngestStateSplit    IngestState = "split"
	IngestStateEmbedded IngestState = "embedded"
	IngestStateStored   IngestState = "stored"
	IngestStateFailed   IngestState = "failed"
)

// QueryState is the stage a query request has reached.
type QueryState string

const (
	QueryStateEmbedQuery     QueryState = "embed_query"
	QueryStateSearch         QueryState = "search"
	QueryStatePromptAssemble QueryState = "prompt_assemble"
	QueryStateStreamGenerate QueryState = "stream_generate"
	QueryStateCompleted      QueryState = "completed"
	QueryStateFailed         QueryState = "failed"
)

var ingestTransitions = map[IngestState][]IngestState{
	"":                  {IngestStateLoaded, IngestStateFailed},
	IngestStateLoaded:   {IngestStateSplit, IngestStateFailed},
	IngestStateSplit:    {IngestStateEmbedded, IngestStateFailed},
	IngestStateEmbedded: {IngestStateStored, IngestStateFailed},
}

var queryTransitions = map[QueryState][]QueryState{
	"":                       {QueryStateEmbedQuery, QueryStateSearch, QueryStateFailed},
	QueryStateEmbedQuery:     {QueryStateSearch, QueryStateFailed},
	QueryStateSearch:         {QueryStatePromptAssemble, QueryStateCompleted, QueryStateFailed},
	QueryStatePromptAssemble: {QueryStateStreamGenerate, QueryStateFailed},
	QueryStateStreamGenerate: {QueryStateCompleted, QueryStateFailed},
}

// ValidateIngestTransition checks whether an ingestion stage transition is
// valid. An empty "from" is the state before loading. Stored and failed are
// terminal.
func ValidateIngestTransition(from, to IngestState) error {
	for _, s := range ingestTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid ingest transition from %q to %q", from, to)
}

// ValidateQueryTransition checks whether a query stage transition is valid.
// A query may enter at search when the caller supplies a vector, and the
// synchronous retrieval path completes right after search.
func ValidateQueryTransition(from, to QueryState) error {
	for _, s := range queryTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid query transition from %q to %q", from, to)
}
