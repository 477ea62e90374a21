// Package chat implements the conversational product-search orchestrator:
// a single request flows through intent routing, query embedding, vector
// similarity search, product hydration, and response composition. The
// orchestrator holds no state between requests; the caller supplies the whole
// conversation history every time.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vapevault/vaultd/internal/openai"
	"github.com/vapevault/vaultd/internal/retrieval"
	"github.com/vapevault/vaultd/internal/storage"
)

// ChatService is the upstream chat-completion surface.
type ChatService interface {
	Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResult, error)
}

// QueryEmbedder turns a search query into an embedding vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher performs vector similarity search over the product index.
type Searcher interface {
	Search(vector []float32, topK int) ([]retrieval.Match, error)
}

// ProductSource hydrates product rows by id.
type ProductSource interface {
	GetProductsByIDs(ctx context.Context, ids []string) ([]storage.Product, error)
}

// Reply is the response relayed to the HTTP caller: the upstream chat
// completion body with the upstream status code, letting callers distinguish
// success from upstream failure.
type Reply struct {
	StatusCode int
	Body       json.RawMessage
}

// Error is a fatal orchestration failure with the HTTP status and error type
// to surface. Internal detail stays in Err for server-side logs; Message is
// what the caller sees.
type Error struct {
	Status  int
	Type    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Orchestrator runs the product-search conversation flow. All external
// collaborators are injected so tests can run against stubs.
type Orchestrator struct {
	llm      ChatService
	embedder QueryEmbedder
	vectors  Searcher
	products ProductSource
	model    string
	timeout  time.Duration
}

// New creates an Orchestrator. model is the chat model identifier sent on
// both completion calls. timeout bounds the whole chain; <= 0 disables it.
func New(llm ChatService, embedder QueryEmbedder, vectors Searcher, products ProductSource, model string, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		llm:      llm,
		embedder: embedder,
		vectors:  vectors,
		products: products,
		model:    model,
		timeout:  timeout,
	}
}

// Respond runs the full flow for one conversation. messages is the caller's
// conversation history, passed through to the model untouched.
//
// The happy path makes two chat-completion calls around an embedding call, a
// similarity search, and a batch product fetch. When the model answers
// directly (no function call, or a function we did not declare), the first
// upstream response is relayed verbatim and nothing else runs.
func (o *Orchestrator) Respond(ctx context.Context, messages json.RawMessage) (*Reply, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	// Step 1: intent routing. Offer the model the search_products function
	// and let it decide whether to call it.
	first, err := o.llm.Chat(ctx, openai.ChatRequest{
		Model:        o.model,
		Messages:     messages,
		Functions:    []openai.FunctionDef{searchProductsFunction()},
		FunctionCall: "auto",
	})
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Type: "api_error", Message: "upstream chat service unavailable", Err: err}
	}
	if !first.OK() {
		// Upstream failure: relay status and message as-is.
		return &Reply{StatusCode: first.StatusCode, Body: first.Body}, nil
	}

	msg, ok := openai.FirstMessage(first.Body)
	if !ok || msg.FunctionCall == nil || msg.FunctionCall.Name != searchProductsName {
		// The model answered directly. Normal early exit, not a failure.
		return &Reply{StatusCode: first.StatusCode, Body: first.Body}, nil
	}

	args, err := parseSearchArgs(msg.FunctionCall.Arguments)
	if err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Type: "invalid_request_error", Message: err.Error()}
	}

	// Step 2: embed the query. No retry; no fallback search path exists.
	vec, err := o.embedder.Embed(ctx, args.Query)
	if err != nil {
		return nil, &Error{Status: http.StatusInternalServerError, Type: "api_error", Message: "failed to embed search query", Err: err}
	}

	// Step 3: similarity search.
	matches, err := o.vectors.Search(vec, args.K)
	if err != nil {
		slog.Error("vector search failed", "query", args.Query, "k", args.K, "error", err)
		return nil, &Error{Status: http.StatusInternalServerError, Type: "api_error", Message: "product search failed", Err: err}
	}

	// Step 4: hydrate product rows, preserving similarity order. An empty
	// result set still proceeds so the model can explain that nothing matched.
	products, err := o.hydrate(ctx, matches)
	if err != nil {
		return nil, &Error{Status: http.StatusInternalServerError, Type: "api_error", Message: "failed to load products", Err: err}
	}

	// Step 5: composition. Extend the transcript with exactly two entries:
	// the model's function-call message, then the function result.
	extended, err := appendFunctionExchange(messages, msg.Raw, products)
	if err != nil {
		return nil, &Error{Status: http.StatusInternalServerError, Type: "api_error", Message: "failed to build follow-up transcript", Err: err}
	}

	second, err := o.llm.Chat(ctx, openai.ChatRequest{
		Model:    o.model,
		Messages: extended,
	})
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Type: "api_error", Message: "upstream chat service unavailable", Err: err}
	}

	return &Reply{StatusCode: second.StatusCode, Body: second.Body}, nil
}

// SearchProducts runs embedding, similarity search, and hydration without a
// surrounding conversation. Used by the MCP tools. k is clamped rather than
// rejected since no model-generated arguments are involved.
func (o *Orchestrator) SearchProducts(ctx context.Context, query string, k int) ([]storage.Product, error) {
	if k < 1 {
		k = defaultK
	}
	if k > maxK {
		k = maxK
	}

	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	matches, err := o.vectors.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}
	return o.hydrate(ctx, matches)
}

// hydrate fetches full product rows for the matched ids and re-sorts them to
// the similarity ranking; the batch query itself gives no order guarantee.
// Matched ids with no surviving product row are dropped silently.
func (o *Orchestrator) hydrate(ctx context.Context, matches []retrieval.Match) ([]storage.Product, error) {
	products := make([]storage.Product, 0, len(matches))
	if len(matches) == 0 {
		return products, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ProductID
	}

	rows, err := o.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]storage.Product, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}
	for _, m := range matches {
		if p, ok := byID[m.ProductID]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

// appendFunctionExchange returns the original messages plus the assistant
// function-call message and a function-role message carrying the serialized
// product list, in that order.
func appendFunctionExchange(messages, functionCallMsg json.RawMessage, products []storage.Product) (json.RawMessage, error) {
	var msgs []json.RawMessage
	if err := json.Unmarshal(messages, &msgs); err != nil {
		return nil, fmt.Errorf("parsing conversation history: %w", err)
	}

	content, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("serializing products: %w", err)
	}
	result, err := json.Marshal(map[string]string{
		"role":    "function",
		"name":    searchProductsName,
		"content": string(content),
	})
	if err != nil {
		return nil, fmt.Errorf("building function result message: %w", err)
	}

	msgs = append(msgs, functionCallMsg, result)
	return json.Marshal(msgs)
}
