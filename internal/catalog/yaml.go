package catalog

import (
	"fmt"
	"io"

	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Products []productEntry `yaml:"products"`
}

type productEntry struct {
	Name              string   `yaml:"name"`
	NameEn            string   `yaml:"name_en"`
	Category          string   `yaml:"category"`
	BaseUnit          string   `yaml:"base_unit"`
	StandardPackaging *float64 `yaml:"standard_packaging"`
	Price             string   `yaml:"price"`
	Calories          *int     `yaml:"calories"`
	Protein           *float64 `yaml:"protein"`
	Fats              *float64 `yaml:"fats"`
	Carbs             *float64 `yaml:"carbs"`
	Allergens         []string `yaml:"allergens"`
}

// LoadCatalog parses a YAML product catalog:
//
//	products:
//	  - name: Milk
//	    category: dairy
//	    base_unit: l
//	    standard_packaging: 1
//	    price: "42.50"
func LoadCatalog(r io.Reader) ([]Product, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	products := make([]Product, 0, len(file.Products))
	seen := make(map[string]struct{}, len(file.Products))
	for i, e := range file.Products {
		unit, err := units.Parse(e.BaseUnit)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d (%s): %w", i+1, e.Name, err)
		}
		price := decimal.Zero
		if e.Price != "" {
			if price, err = decimal.NewFromString(e.Price); err != nil {
				return nil, fmt.Errorf("catalog entry %d (%s): invalid price %q: %w", i+1, e.Name, e.Price, err)
			}
		}

		p := Product{
			Name:              e.Name,
			NameEn:            e.NameEn,
			Category:          Category(e.Category),
			BaseUnit:          unit,
			StandardPackaging: e.StandardPackaging,
			AveragePrice:      price,
			Nutrition: Nutrition{
				Calories: e.Calories,
				Protein:  e.Protein,
				Fats:     e.Fats,
				Carbs:    e.Carbs,
			},
			Allergens: e.Allergens,
		}
		if p.Category == "" {
			p.Category = CategoryOther
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i+1, err)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate product name %q", i+1, p.Name)
		}
		seen[p.Name] = struct{}{}
		products = append(products, p)
	}
	return products, nil
}
