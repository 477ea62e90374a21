package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vapevault/vaultd/internal/openai"
)

const (
	searchProductsName = "search_products"

	// defaultK is used when the model omits k from its arguments.
	defaultK = 5

	// maxK bounds how many matches a single search may request.
	maxK = 50
)

// searchProductsFunction is the one function declared to the model.
func searchProductsFunction() openai.FunctionDef {
	return openai.FunctionDef{
		Name:        searchProductsName,
		Description: "Find products matching a natural-language query",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "User's search text"},
				"k": {"type": "integer", "description": "Number of results to return", "default": 5}
			},
			"required": ["query"]
		}`),
	}
}

type searchArgs struct {
	Query string
	K     int
}

// parseSearchArgs validates the model-generated arguments string. It fails
// closed: malformed JSON, a missing or blank query, or an out-of-range k all
// reject the request rather than defaulting. Only an omitted k defaults (to 5).
func parseSearchArgs(raw string) (searchArgs, error) {
	var decoded struct {
		Query string `json:"query"`
		K     *int   `json:"k"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return searchArgs{}, fmt.Errorf("malformed function arguments: %w", err)
	}

	query := strings.TrimSpace(decoded.Query)
	if query == "" {
		return searchArgs{}, fmt.Errorf("function arguments are missing required field %q", "query")
	}

	k := defaultK
	if decoded.K != nil {
		k = *decoded.K
	}
	if k < 1 || k > maxK {
		return searchArgs{}, fmt.Errorf("k must be between 1 and %d, got %d", maxK, k)
	}

	return searchArgs{Query: query, K: k}, nil
}
