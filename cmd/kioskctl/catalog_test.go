package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCatalogFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		items, err := loadCatalogFile(writeFile(t, "menu.yaml", `
- id: latte
  name: Latte
  price: 4500
  category: coffee
- id: tea
  name: Green Tea
  price: 3000
`))
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "latte", items[0].ID)
		assert.Equal(t, int64(4500), items[0].Price)
		assert.Equal(t, "coffee", items[0].Category)
	})

	t.Run("json", func(t *testing.T) {
		items, err := loadCatalogFile(writeFile(t, "menu.json", `[{"id":"latte","name":"Latte","price":4500}]`))
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Latte", items[0].Name)
	})

	cases := map[string]string{
		"missing id":     "- name: Latte\n  price: 1\n",
		"negative price": "- id: latte\n  price: -1\n",
		"duplicate":      "- id: latte\n  price: 1\n- id: latte\n  price: 2\n",
		"not a list":     "id: latte\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadCatalogFile(writeFile(t, "menu.yaml", content))
			assert.Error(t, err)
		})
	}

	_, err := loadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
