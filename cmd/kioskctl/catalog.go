package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"kiosk/internal/service/order/domain"
	"kiosk/internal/service/order/infrastructure/adapter"
)

func catalogCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage menu items",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Import menu items from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadCatalogFile(args[0])
			if err != nil {
				return err
			}
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := adapter.NewCatalogRedisAdapter(client).PutItems(cmd.Context(), items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d items\n", len(items))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all menu items",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := adapter.NewCatalogRedisAdapter(client).AllItems(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE\tCATEGORY")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", item.ID, item.Name, item.Price, item.Category)
			}
			return w.Flush()
		},
	})

	return cmd
}

// loadCatalogFile 读取商品列表。JSON 是 YAML 的子集，两种格式都用同一个解码器。
func loadCatalogFile(path string) ([]domain.MenuItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	var items []domain.MenuItem
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrapf(err, "parse catalog %s", path)
	}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, errors.Errorf("item #%d has no id", i)
		}
		if item.Price < 0 {
			return nil, errors.Errorf("item %s has a negative price", item.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, errors.Errorf("item %s is listed twice", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return items, nil
}
