package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vapevault/vaultd/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a product to the catalog",
	Long: `Add a product to the catalog and queue it for embedding.

Examples:
  vaultd ingest --name "Cloud Chaser 5000" --brand Vaporesso --price 49.99 --description "Sub-ohm kit"
  vaultd ingest --name "Nord 5" --brand SMOK --price 34.50 --pdf ./nord5-spec.pdf
  vaultd ingest --name "Caliburn G3" --brand Uwell --price 27.99 --url https://example.com/caliburn-g3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		brand, _ := cmd.Flags().GetString("brand")
		price, _ := cmd.Flags().GetFloat64("price")
		imageURL, _ := cmd.Flags().GetString("image-url")
		stock, _ := cmd.Flags().GetInt("stock")
		description, _ := cmd.Flags().GetString("description")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		sourceURL, _ := cmd.Flags().GetString("url")

		if name == "" {
			return fmt.Errorf("--name is required")
		}
		if description == "" && pdfPath == "" && sourceURL == "" {
			return fmt.Errorf("one of --description, --pdf, or --url is required")
		}

		req := map[string]any{
			"name":           name,
			"brand":          brand,
			"price":          price,
			"image_url":      imageURL,
			"stock_quantity": stock,
		}
		switch {
		case description != "":
			req["description"] = description
		case pdfPath != "":
			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("reading PDF: %w", err)
			}
			req["spec_sheet"] = base64.StdEncoding.EncodeToString(data)
		case sourceURL != "":
			req["source_url"] = sourceURL
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/catalog/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued product %s", result["id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("name", "", "product name")
	ingestCmd.Flags().String("brand", "", "product brand")
	ingestCmd.Flags().Float64("price", 0, "product price")
	ingestCmd.Flags().String("image-url", "", "product image URL")
	ingestCmd.Flags().Int("stock", 0, "stock quantity")
	ingestCmd.Flags().String("description", "", "product description text")
	ingestCmd.Flags().String("pdf", "", "path to a spec-sheet PDF to extract the description from")
	ingestCmd.Flags().String("url", "", "page URL to fetch and extract the description from")
}

// --- products ---

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Browse and manage the catalog",
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog products",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/products?limit=%d", limit))
		if err != nil {
			return err
		}

		var products []struct {
			ID    string  `json:"id"`
			Name  string  `json:"name"`
			Brand string  `json:"brand"`
			Price float64 `json:"price"`
		}
		if err := decodeJSON(resp, &products); err != nil {
			return err
		}

		if len(products) == 0 {
			fmt.Println("No products found.")
			return nil
		}

		for _, p := range products {
			label := p.Name
			if p.Brand != "" {
				label = p.Brand + " " + label
			}
			fmt.Printf("%s  %-50s $%.2f\n", colorize(colorCyan, shortID(p.ID)), label, p.Price)
		}
		return nil
	},
}

var productsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single product as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/products/"+args[0])
		if err != nil {
			return err
		}

		var product any
		if err := decodeJSON(resp, &product); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(product)
	},
}

var productsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a product from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/catalog/products/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted product %s", args[0])
		return nil
	},
}

func init() {
	productsListCmd.Flags().Int("limit", 50, "maximum number of products to list")
	productsCmd.AddCommand(productsListCmd)
	productsCmd.AddCommand(productsShowCmd)
	productsCmd.AddCommand(productsDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, kv := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
