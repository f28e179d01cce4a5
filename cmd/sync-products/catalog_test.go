package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
products:
  - product_id: com.example.monthly
    subscription_type_code: monthly
    name: Monthly
    price: "4.99"
    length_days: 31
  - product_id: com.example.legacy
    subscription_type_code: legacy
    length_days: 30
    active: false
`)

	mappings, err := loadCatalog(path)
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	monthly := mappings[0]
	assert.Equal(t, "com.example.monthly", monthly.ProductID)
	assert.Equal(t, "monthly", monthly.SubscriptionType.Code)
	assert.True(t, monthly.SubscriptionType.Price.Equal(decimal.RequireFromString("4.99")))
	assert.Equal(t, 31, monthly.SubscriptionType.LengthDays)
	assert.True(t, monthly.SubscriptionType.Active)

	legacy := mappings[1]
	assert.Equal(t, "legacy", legacy.SubscriptionType.Name)
	assert.True(t, legacy.SubscriptionType.Price.IsZero())
	assert.False(t, legacy.SubscriptionType.Active)
}

func TestLoadCatalog_Empty(t *testing.T) {
	mappings, err := loadCatalog(writeCatalog(t, "  \n"))
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing product id", "products:\n  - subscription_type_code: a\n    length_days: 30\n", "product_id is required"},
		{"missing code", "products:\n  - product_id: p\n    length_days: 30\n", "subscription_type_code is required"},
		{"duplicate product", "products:\n  - {product_id: p, subscription_type_code: a, length_days: 30}\n  - {product_id: p, subscription_type_code: b, length_days: 30}\n", "duplicate product_id"},
		{"no length", "products:\n  - product_id: p\n    subscription_type_code: a\n", "length_days must be positive"},
		{"bad price", "products:\n  - {product_id: p, subscription_type_code: a, length_days: 30, price: abc}\n", "invalid price"},
		{"not yaml", "products: [", "unmarshal product catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadCatalog(writeCatalog(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := loadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
