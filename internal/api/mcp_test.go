package api

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vapevault/vaultd/internal/storage"
)

type mockMCPSearcher struct {
	products []storage.Product
	err      error
	gotQuery string
	gotK     int
}

func (m *mockMCPSearcher) SearchProducts(_ context.Context, query string, k int) ([]storage.Product, error) {
	m.gotQuery = query
	m.gotK = k
	return m.products, m.err
}

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	return MCPDeps{
		Store:    store,
		Searcher: &mockMCPSearcher{},
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPToolSearchProducts(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	searcher := &mockMCPSearcher{
		products: []storage.Product{
			{ID: "p1", Name: "Berry Blast", Price: 19.99},
			{ID: "p2", Name: "Mango Mist", Price: 24.99},
		},
	}
	deps.Searcher = searcher
	handler := mcpSearchProducts(deps)

	req := makeCallToolRequest("search_products", map[string]interface{}{
		"query": "fruity disposable",
		"limit": 2,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	if searcher.gotQuery != "fruity disposable" || searcher.gotK != 2 {
		t.Errorf("search called with (%q, %d)", searcher.gotQuery, searcher.gotK)
	}

	var products []storage.Product
	if err := json.Unmarshal([]byte(toolText(t, result)), &products); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(products) != 2 || products[0].ID != "p1" {
		t.Errorf("products = %+v", products)
	}
}

func TestMCPToolSearchProductsDefaultLimit(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	searcher := &mockMCPSearcher{}
	deps.Searcher = searcher
	handler := mcpSearchProducts(deps)

	req := makeCallToolRequest("search_products", map[string]interface{}{
		"query": "pods",
	})

	if _, err := handler(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.gotK != 5 {
		t.Errorf("default limit = %d, want 5", searcher.gotK)
	}
}

func TestMCPToolSearchProductsMissingQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSearchProducts(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_products", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("result.IsError = false for missing query")
	}
}

func TestMCPToolSearchProductsFailure(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Searcher = &mockMCPSearcher{err: fmt.Errorf("index offline")}
	handler := mcpSearchProducts(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_products", map[string]interface{}{
		"query": "pods",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("result.IsError = false for search failure")
	}
}

func TestMCPToolGetProduct(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	saveProduct(t, store, "p1", "Caliburn G3")
	handler := mcpGetProduct(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_product", map[string]interface{}{
		"product_id": "p1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var product storage.Product
	if err := json.Unmarshal([]byte(toolText(t, result)), &product); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if product.Name != "Caliburn G3" {
		t.Errorf("product = %+v", product)
	}
}

func TestMCPToolGetProductNotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetProduct(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_product", map[string]interface{}{
		"product_id": "ghost",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("result.IsError = false for missing product")
	}
}
