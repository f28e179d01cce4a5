package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/model"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Products []catalogEntry `yaml:"products"`
}

type catalogEntry struct {
	ProductID            string `yaml:"product_id"`
	SubscriptionTypeCode string `yaml:"subscription_type_code"`
	Name                 string `yaml:"name"`
	Price                string `yaml:"price"`
	LengthDays           int    `yaml:"length_days"`
	Active               *bool  `yaml:"active"`
}

// productMapping pairs an App Store product id with the plan it grants
type productMapping struct {
	ProductID        string
	SubscriptionType *model.SubscriptionType
}

func loadCatalog(path string) ([]productMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read product catalog: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal product catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Products))
	mappings := make([]productMapping, 0, len(file.Products))
	for i, entry := range file.Products {
		if entry.ProductID == "" {
			return nil, fmt.Errorf("products[%d]: product_id is required", i)
		}
		if entry.SubscriptionTypeCode == "" {
			return nil, fmt.Errorf("products[%d]: subscription_type_code is required", i)
		}
		if _, dup := seen[entry.ProductID]; dup {
			return nil, fmt.Errorf("products[%d]: duplicate product_id %q", i, entry.ProductID)
		}
		seen[entry.ProductID] = struct{}{}

		if entry.LengthDays <= 0 {
			return nil, fmt.Errorf("products[%d]: length_days must be positive", i)
		}

		price := decimal.Zero
		if entry.Price != "" {
			price, err = decimal.NewFromString(entry.Price)
			if err != nil {
				return nil, fmt.Errorf("products[%d]: invalid price %q: %w", i, entry.Price, err)
			}
		}

		name := entry.Name
		if name == "" {
			name = entry.SubscriptionTypeCode
		}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}

		mappings = append(mappings, productMapping{
			ProductID: entry.ProductID,
			SubscriptionType: &model.SubscriptionType{
				Code:       entry.SubscriptionTypeCode,
				Name:       name,
				Price:      price,
				LengthDays: entry.LengthDays,
				Active:     active,
			},
		})
	}

	return mappings, nil
}
