package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/vapevault/vaultd/internal/openai"
	"github.com/vapevault/vaultd/internal/retrieval"
	"github.com/vapevault/vaultd/internal/storage"
)

// stubChat replays canned results for successive Chat calls and records every
// request it sees.
type stubChat struct {
	calls   []openai.ChatRequest
	results []*openai.ChatResult
	errs    []error
}

func (s *stubChat) Chat(_ context.Context, req openai.ChatRequest) (*openai.ChatResult, error) {
	i := len(s.calls)
	s.calls = append(s.calls, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return nil, fmt.Errorf("unexpected chat call %d", i)
}

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

type stubSearcher struct {
	matches []retrieval.Match
	err     error
	gotK    int
	calls   int
}

func (s *stubSearcher) Search(vector []float32, topK int) ([]retrieval.Match, error) {
	s.calls++
	s.gotK = topK
	if s.err != nil {
		return nil, s.err
	}
	return s.matches, nil
}

type stubProducts struct {
	rows   []storage.Product
	err    error
	gotIDs []string
	calls  int
}

func (s *stubProducts) GetProductsByIDs(_ context.Context, ids []string) ([]storage.Product, error) {
	s.calls++
	s.gotIDs = ids
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

// directAnswerBody is a completion where the model answered without calling
// a function.
func directAnswerBody(content string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content))
}

// functionCallBody is a completion where the model requested search_products
// with the given raw arguments string.
func functionCallBody(args string) json.RawMessage {
	msg := map[string]any{
		"role":    "assistant",
		"content": nil,
		"function_call": map[string]string{
			"name":      "search_products",
			"arguments": args,
		},
	}
	raw, _ := json.Marshal(msg)
	return json.RawMessage(fmt.Sprintf(`{"choices":[{"message":%s}]}`, raw))
}

var testMessages = json.RawMessage(`[{"role":"user","content":"any fruity vapes?"}]`)

func newTestOrchestrator(llm *stubChat, emb *stubEmbedder, search *stubSearcher, prods *stubProducts) *Orchestrator {
	return New(llm, emb, search, prods, "gpt-4-turbo", time.Minute)
}

func asOrchestratorError(t *testing.T, err error) *Error {
	t.Helper()
	var oerr *Error
	if !errors.As(err, &oerr) {
		t.Fatalf("error %v is not a *chat.Error", err)
	}
	return oerr
}

func TestRespondDirectAnswer(t *testing.T) {
	body := directAnswerBody("We carry several fruity options.")
	llm := &stubChat{results: []*openai.ChatResult{{StatusCode: 200, Body: body}}}
	emb := &stubEmbedder{}
	search := &stubSearcher{}
	prods := &stubProducts{}

	reply, err := newTestOrchestrator(llm, emb, search, prods).Respond(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if reply.StatusCode != 200 {
		t.Errorf("status = %d, want 200", reply.StatusCode)
	}
	if string(reply.Body) != string(body) {
		t.Errorf("body = %s, want first completion relayed verbatim", reply.Body)
	}
	if len(llm.calls) != 1 {
		t.Errorf("chat calls = %d, want 1", len(llm.calls))
	}
	if emb.calls != 0 || search.calls != 0 || prods.calls != 0 {
		t.Errorf("downstream calls = %d/%d/%d, want none", emb.calls, search.calls, prods.calls)
	}
}

func TestRespondSearchFlow(t *testing.T) {
	finalBody := directAnswerBody("Try the Cloud Chaser 5000.")
	llm := &stubChat{results: []*openai.ChatResult{
		{StatusCode: 200, Body: functionCallBody(`{"query":"fruity vape"}`)},
		{StatusCode: 200, Body: finalBody},
	}}
	emb := &stubEmbedder{vec: []float32{0.1, 0.2}}
	search := &stubSearcher{matches: []retrieval.Match{
		{ProductID: "p2", Score: 0.9},
		{ProductID: "p1", Score: 0.8},
	}}
	prods := &stubProducts{rows: []storage.Product{
		{ID: "p1", Name: "Berry Blast"},
		{ID: "p2", Name: "Mango Mist"},
	}}

	reply, err := newTestOrchestrator(llm, emb, search, prods).Respond(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.StatusCode != 200 || string(reply.Body) != string(finalBody) {
		t.Fatalf("reply = %d %s, want second completion relayed", reply.StatusCode, reply.Body)
	}

	// Omitted k defaults to 5.
	if search.gotK != 5 {
		t.Errorf("search k = %d, want 5", search.gotK)
	}
	if len(llm.calls) != 2 {
		t.Fatalf("chat calls = %d, want 2", len(llm.calls))
	}

	// First call declares the function; second call must not.
	if len(llm.calls[0].Functions) != 1 || llm.calls[0].Functions[0].Name != "search_products" {
		t.Errorf("first call functions = %+v, want search_products", llm.calls[0].Functions)
	}
	if len(llm.calls[1].Functions) != 0 {
		t.Errorf("second call declares functions, want none")
	}

	// Second transcript is the original plus exactly two messages.
	var sent []map[string]any
	if err := json.Unmarshal(llm.calls[1].Messages, &sent); err != nil {
		t.Fatalf("parsing second transcript: %v", err)
	}
	if len(sent) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(sent))
	}
	if sent[1]["role"] != "assistant" {
		t.Errorf("appended message 1 role = %v, want assistant", sent[1]["role"])
	}
	if sent[2]["role"] != "function" || sent[2]["name"] != "search_products" {
		t.Errorf("appended message 2 = %v, want function result", sent[2])
	}

	// Function result carries products in similarity order.
	var got []storage.Product
	if err := json.Unmarshal([]byte(sent[2]["content"].(string)), &got); err != nil {
		t.Fatalf("parsing function result content: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p2" || got[1].ID != "p1" {
		t.Errorf("hydrated order = %+v, want [p2 p1]", got)
	}
}

func TestRespondDropsMissingProducts(t *testing.T) {
	llm := &stubChat{results: []*openai.ChatResult{
		{StatusCode: 200, Body: functionCallBody(`{"query":"pods","k":3}`)},
		{StatusCode: 200, Body: directAnswerBody("Two options in stock.")},
	}}
	search := &stubSearcher{matches: []retrieval.Match{
		{ProductID: "a", Score: 0.9},
		{ProductID: "gone", Score: 0.8},
		{ProductID: "b", Score: 0.7},
	}}
	// "gone" has a vector but no product row.
	prods := &stubProducts{rows: []storage.Product{
		{ID: "b", Name: "B"},
		{ID: "a", Name: "A"},
	}}

	reply, err := newTestOrchestrator(llm, &stubEmbedder{vec: []float32{1}}, search, prods).
		Respond(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", reply.StatusCode)
	}
	if search.gotK != 3 {
		t.Errorf("search k = %d, want 3", search.gotK)
	}

	var sent []map[string]any
	if err := json.Unmarshal(llm.calls[1].Messages, &sent); err != nil {
		t.Fatalf("parsing second transcript: %v", err)
	}
	var got []storage.Product
	if err := json.Unmarshal([]byte(sent[2]["content"].(string)), &got); err != nil {
		t.Fatalf("parsing function result content: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("hydrated = %+v, want [a b] with the missing id dropped", got)
	}
}

func TestRespondEmptyMatches(t *testing.T) {
	llm := &stubChat{results: []*openai.ChatResult{
		{StatusCode: 200, Body: functionCallBody(`{"query":"discontinued model"}`)},
		{StatusCode: 200, Body: directAnswerBody("Nothing matched, sorry.")},
	}}
	prods := &stubProducts{}

	_, err := newTestOrchestrator(llm, &stubEmbedder{vec: []float32{1}}, &stubSearcher{}, prods).
		Respond(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	// No matches means no batch fetch, and the model still gets a result
	// message with an empty list.
	if prods.calls != 0 {
		t.Errorf("product fetches = %d, want 0", prods.calls)
	}
	var sent []map[string]any
	if err := json.Unmarshal(llm.calls[1].Messages, &sent); err != nil {
		t.Fatalf("parsing second transcript: %v", err)
	}
	if sent[2]["content"] != "[]" {
		t.Errorf("function result content = %q, want empty JSON array", sent[2]["content"])
	}
}

func TestRespondEmbeddingFailure(t *testing.T) {
	llm := &stubChat{results: []*openai.ChatResult{
		{StatusCode: 200, Body: functionCallBody(`{"query":"fruity vape"}`)},
	}}
	emb := &stubEmbedder{err: fmt.Errorf("embeddings endpoint down")}
	search := &stubSearcher{}

	_, err := newTestOrchestrator(llm, emb, search, &stubProducts{}).
		Respond(context.Background(), testMessages)
	oerr := asOrchestratorError(t, err)
	if oerr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", oerr.Status)
	}
	if search.calls != 0 {
		t.Errorf("search calls = %d, want 0", search.calls)
	}
	if len(llm.calls) != 1 {
		t.Errorf("chat calls = %d, want 1 (no composition after failure)", len(llm.calls))
	}
}

func TestRespondSearchFailure(t *testing.T) {
	llm := &stubChat{results: []*openai.ChatResult{
		{StatusCode: 200, Body: functionCallBody(`{"query":"fruity vape"}`)},
	}}
	search := &stubSearcher{err: fmt.Errorf("index corrupt")}

	_, err := newTestOrchestrator(llm, &stubEmbedder{vec: []float32{1}}, search, &stubProducts{}).
		Respond(context.Background(), testMessages)
	oerr := asOrchestratorError(t, err)
	if oerr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", oerr.Status)
	}
}

func TestRespondInvalidArguments(t *testing.T) {
	cases := []struct {
		name string
		args string
	}{
		{"malformed JSON", `{"query": "fruity`},
		{"missing query", `{"k":5}`},
		{"blank query", `{"query":"   "}`},
		{"k zero", `{"query":"pods","k":0}`},
		{"k too large", `{"query":"pods","k":51}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm := &stubChat{results: []*openai.ChatResult{
				{StatusCode: 200, Body: functionCallBody(tc.args)},
			}}
			emb := &stubEmbedder{vec: []float32{1}}

			_, err := newTestOrchestrator(llm, emb, &stubSearcher{}, &stubProducts{}).
				Respond(context.Background(), testMessages)
			oerr := asOrchestratorError(t, err)
			if oerr.Status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", oerr.Status)
			}
			if oerr.Type != "invalid_request_error" {
				t.Errorf("type = %q, want invalid_request_error", oerr.Type)
			}
			if emb.calls != 0 {
				t.Errorf("embed calls = %d, want 0", emb.calls)
			}
		})
	}
}

func TestRespondRelaysUpstreamFailure(t *testing.T) {
	upstream := json.RawMessage(`{"error":{"message":"overloaded","type":"server_error"}}`)
	llm := &stubChat{results: []*openai.ChatResult{{StatusCode: 503, Body: upstream}}}
	emb := &stubEmbedder{}

	reply, err := newTestOrchestrator(llm, emb, &stubSearcher{}, &stubProducts{}).
		Respond(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.StatusCode != 503 {
		t.Errorf("status = %d, want upstream 503 relayed", reply.StatusCode)
	}
	if string(reply.Body) != string(upstream) {
		t.Errorf("body = %s, want upstream body relayed verbatim", reply.Body)
	}
	if emb.calls != 0 {
		t.Errorf("embed calls = %d, want 0", emb.calls)
	}
}

func TestRespondRelaysSecondCallStatus(t *testing.T) {
	upstream := json.RawMessage(`{"error":{"message":"bad things","type":"server_error"}}`)
	llm := &stubChat{results: []*openai.ChatResult{
		{StatusCode: 200, Body: functionCallBody(`{"query":"pods"}`)},
		{StatusCode: 500, Body: upstream},
	}}

	reply, err := newTestOrchestrator(llm, &stubEmbedder{vec: []float32{1}}, &stubSearcher{}, &stubProducts{}).
		Respond(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.StatusCode != 500 || string(reply.Body) != string(upstream) {
		t.Errorf("reply = %d %s, want second upstream response relayed", reply.StatusCode, reply.Body)
	}
}

func TestRespondTransportFailure(t *testing.T) {
	llm := &stubChat{errs: []error{fmt.Errorf("connection refused")}}

	_, err := newTestOrchestrator(llm, &stubEmbedder{}, &stubSearcher{}, &stubProducts{}).
		Respond(context.Background(), testMessages)
	oerr := asOrchestratorError(t, err)
	if oerr.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", oerr.Status)
	}
}

func TestSearchProductsClampsK(t *testing.T) {
	search := &stubSearcher{matches: []retrieval.Match{{ProductID: "p1"}}}
	prods := &stubProducts{rows: []storage.Product{{ID: "p1"}}}
	o := newTestOrchestrator(&stubChat{}, &stubEmbedder{vec: []float32{1}}, search, prods)

	if _, err := o.SearchProducts(context.Background(), "pods", 0); err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if search.gotK != 5 {
		t.Errorf("k = %d after clamp, want 5", search.gotK)
	}

	if _, err := o.SearchProducts(context.Background(), "pods", 500); err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if search.gotK != 50 {
		t.Errorf("k = %d after clamp, want 50", search.gotK)
	}
}
