package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vapevault/vaultd/internal/storage"
)

// MCPSearcher abstracts semantic product search for the MCP layer.
type MCPSearcher interface {
	SearchProducts(ctx context.Context, query string, k int) ([]storage.Product, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Searcher MCPSearcher
}

// NewMCPServer creates an MCP server exposing the product catalog to agent
// clients over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"vaultd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("vaultd — Vape Vault storefront catalog: semantic product search and lookup."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Semantically search the product catalog and return matching products."),
			mcp.WithString("query", mcp.Description("Natural-language search text"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_product",
			mcp.WithDescription("Retrieve full details for a single product by id."),
			mcp.WithString("product_id", mcp.Description("Product id"), mcp.Required()),
		),
		mcpGetProduct(deps),
	)

	return s
}

func mcpSearchProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)

		products, err := deps.Searcher.SearchProducts(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(products)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetProduct(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("product_id")
		if err != nil {
			return mcpError("product_id is required"), nil
		}

		product, err := deps.Store.GetProduct(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("product %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(product)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal product: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
