package main

import (
	"fmt"
	"io"

	"family-meal-planner/internal/receipt"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type receiptFile struct {
	Lines []receiptEntry `yaml:"lines"`
}

type receiptEntry struct {
	Name        string  `yaml:"name"`
	Product     string  `yaml:"product"`
	ProductName string  `yaml:"product_name,omitempty"`
	Quantity    float64 `yaml:"quantity"`
	Unit        string  `yaml:"unit"`
	Price       string  `yaml:"price"`
	Review      string  `yaml:"review,omitempty"`
}

// writeReceipt writes scanned lines in the form loadReceipt reads back, so a
// person can fix products, units or prices before confirming.
func writeReceipt(w io.Writer, lines []receipt.Line) error {
	file := receiptFile{Lines: make([]receiptEntry, 0, len(lines))}
	for _, l := range lines {
		unit := string(l.Unit)
		if unit == "" {
			unit = l.RawUnit
		}
		file.Lines = append(file.Lines, receiptEntry{
			Name:        l.Name,
			Product:     l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			Unit:        unit,
			Price:       l.Price.StringFixed(2),
			Review:      l.Issue,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	return enc.Close()
}

// loadReceipt parses a reviewed receipt:
//
//	lines:
//	  - name: Whole milk 2.5%
//	    product: 6f1c...
//	    quantity: 2
//	    unit: l
//	    price: "79.90"
func loadReceipt(r io.Reader) ([]receipt.Line, error) {
	var file receiptFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}

	lines := make([]receipt.Line, 0, len(file.Lines))
	for i, e := range file.Lines {
		l := receipt.Line{Name: e.Name, ProductID: e.Product, Quantity: e.Quantity, RawUnit: e.Unit}
		if u, err := units.Parse(e.Unit); err == nil {
			l.Unit = u
		}
		if e.Price != "" {
			d, err := decimal.NewFromString(e.Price)
			if err != nil {
				return nil, shared.Invalid("receipt line %d: invalid price %q", i+1, e.Price)
			}
			l.Price = d
		}
		lines = append(lines, l)
	}
	return lines, nil
}
