package main

import (
	"fmt"
	"io"

	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/shopping"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type purchaseFile struct {
	Items []purchaseEntry `yaml:"items"`
}

type purchaseEntry struct {
	Item     string   `yaml:"item"`
	Price    string   `yaml:"price"`
	Quantity *float64 `yaml:"quantity"`
}

// loadPurchases parses the record of a shopping trip:
//
//	items:
//	  - item: 6f1c...
//	    price: "18.40"
//	    quantity: 300
//	  - item: 0b2e...
func loadPurchases(r io.Reader) ([]shopping.Purchase, error) {
	var file purchaseFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode purchases: %w", err)
	}

	purchases := make([]shopping.Purchase, 0, len(file.Items))
	for i, e := range file.Items {
		if e.Item == "" {
			return nil, shared.Invalid("purchase %d has no item id", i+1)
		}
		p := shopping.Purchase{ItemID: e.Item, ActualQuantity: e.Quantity}
		if e.Price != "" {
			d, err := decimal.NewFromString(e.Price)
			if err != nil {
				return nil, shared.Invalid("purchase %d: invalid price %q", i+1, e.Price)
			}
			p.ActualPrice = &d
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}
