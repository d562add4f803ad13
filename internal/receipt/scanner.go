package receipt

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

// AgentReceipt is the agent name reported in execution metrics.
const AgentReceipt = "ReceiptScanner"

//go:embed receipt_prompt.md
var receiptPrompt string

var receiptTemplate = template.Must(template.New("receipt").Parse(receiptPrompt))

// maxImageSize bounds the photos sent to the generator.
const maxImageSize = 10 << 20

type scannedItem struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity"`
	Unit     *string  `json:"unit"`
	Price    *float64 `json:"price"`
}

type scanResponse struct {
	Items *[]scannedItem `json:"items"`
}

// Scanner reads receipts through an image-capable generator.
type Scanner struct {
	gen llm.ImageGenerator
}

// NewScanner creates a Scanner on top of gen.
func NewScanner(gen llm.ImageGenerator) *Scanner {
	return &Scanner{gen: gen}
}

// Scan reads the receipt in image and matches its lines against products.
// Nothing is booked; callers confirm the returned lines separately.
func (s *Scanner) Scan(ctx context.Context, image []byte, mimeType string, products []catalog.Product) ([]Line, shared.AgentMeta, error) {
	var meta shared.AgentMeta
	if len(image) == 0 {
		return nil, meta, shared.Invalid("receipt image is empty")
	}
	if len(image) > maxImageSize {
		return nil, meta, shared.Invalid("receipt image is larger than %d MB", maxImageSize>>20)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, meta, shared.Invalid("receipt must be an image, got %s", mimeType)
	}

	var prompt bytes.Buffer
	if err := receiptTemplate.Execute(&prompt, struct{ Units []units.Unit }{units.All()}); err != nil {
		return nil, meta, err
	}

	meta.AgentName = AgentReceipt
	start := time.Now()
	resp, err := s.gen.GenerateFromImage(ctx, prompt.String(), image, mimeType)
	meta.Usage, meta.Latency = resp.Usage, time.Since(start)
	if err != nil {
		return nil, meta, shared.Upstream(err, "%s request failed", AgentReceipt)
	}

	var parsed scanResponse
	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp.Content)), &parsed); err != nil {
		return nil, meta, shared.Upstream(err, "failed to parse %s response", AgentReceipt)
	}
	if parsed.Items == nil {
		return nil, meta, shared.Upstream(nil, "%s response has no items", AgentReceipt)
	}

	lines := make([]Line, 0, len(*parsed.Items))
	for _, item := range *parsed.Items {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		lines = append(lines, toLine(item))
	}
	return Match(lines, products), meta, nil
}

func toLine(item scannedItem) Line {
	l := Line{Name: strings.TrimSpace(item.Name), Quantity: 1, RawUnit: string(units.Piece), Unit: units.Piece}

	if item.Quantity != nil {
		l.Quantity = *item.Quantity
		if l.Quantity <= 0 {
			l.flag("quantity must be positive")
		}
	}
	if item.Unit != nil && strings.TrimSpace(*item.Unit) != "" {
		l.RawUnit = *item.Unit
		u, err := units.Parse(*item.Unit)
		if err != nil {
			l.Unit = ""
			l.flag("unsupported unit " + *item.Unit)
		} else {
			l.Unit = u
		}
	}
	if item.Price != nil {
		l.Price = decimal.NewFromFloat(*item.Price).Round(2)
		if l.Price.IsNegative() {
			l.flag("price must not be negative")
		}
	}
	return l
}
