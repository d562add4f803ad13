package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"
	"time"

	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/shared"

	"github.com/shopspring/decimal"
)

//go:embed week_prompt.md
var weekPrompt string

//go:embed day_prompt.md
var dayPrompt string

//go:embed meal_prompt.md
var mealPrompt string

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

var (
	weekTemplate = template.Must(template.New("week").Funcs(promptFuncs).Parse(weekPrompt))
	dayTemplate  = template.Must(template.New("day").Funcs(promptFuncs).Parse(dayPrompt))
	mealTemplate = template.Must(template.New("meal").Funcs(promptFuncs).Parse(mealPrompt))
)

// Agent names reported in execution metrics.
const (
	AgentWeek = "WeekGenerator"
	AgentDay  = "DayGenerator"
	AgentMeal = "MealGenerator"
)

// GenerationRequest is the household context sent with every generation call.
type GenerationRequest struct {
	WeekStart time.Time
	WeekEnd   time.Time
	// Budget is nil when the household budget is unlimited.
	Budget   *decimal.Decimal
	Members  []household.Member
	Products []catalog.Product
	Reason   string
}

type promptMember struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	IsRegistered bool                 `json:"isRegistered"`
	MealTimes    []household.MealType `json:"mealTimes"`
	Allergies    []string             `json:"allergies"`
	Goal         household.Goal       `json:"goal,omitempty"`
}

type promptExpected struct {
	FamilyMemberID    string               `json:"familyMemberId"`
	IsRegistered      bool                 `json:"isRegistered"`
	RequiredMealTypes []household.MealType `json:"requiredMealTypes"`
}

type promptProduct struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Category          string      `json:"category"`
	AveragePrice      json.Number `json:"averagePrice"`
	BaseUnit          string      `json:"baseUnit"`
	StandardPackaging *float64    `json:"standardPackaging"`
	Calories          *int        `json:"calories"`
	Protein           *float64    `json:"protein"`
	Fats              *float64    `json:"fats"`
	Carbs             *float64    `json:"carbs"`
	Allergens         []string    `json:"allergens"`
}

type promptData struct {
	WeekStart string
	WeekEnd   string
	Budget    string
	Reason    string
	DayNumber int
	Date      string
	MealType  string
	MemberID  string
	Expected  []promptExpected
	Members   []promptMember
	Products  []promptProduct
}

// Generator asks the external text generator for plan content. It returns
// untrusted candidates; callers validate them before persisting anything.
type Generator struct {
	textGen llm.TextGenerator
}

// NewGenerator creates a Generator on top of textGen.
func NewGenerator(textGen llm.TextGenerator) *Generator {
	return &Generator{textGen: textGen}
}

// GenerateWeek requests a full seven-day plan.
func (g *Generator) GenerateWeek(ctx context.Context, req GenerationRequest) (CandidateWeek, shared.AgentMeta, error) {
	var resp weekResponse
	meta, err := g.complete(ctx, AgentWeek, weekTemplate, newPromptData(req), &resp)
	if err != nil {
		return CandidateWeek{}, meta, err
	}
	if resp.Menu == nil {
		return CandidateWeek{}, meta, shared.Upstream(nil, "%s response has no menu", AgentWeek)
	}
	return *resp.Menu, meta, nil
}

// GenerateDay requests the meals of one plan day.
func (g *Generator) GenerateDay(ctx context.Context, req GenerationRequest, dayNumber int, date time.Time) (CandidateDay, shared.AgentMeta, error) {
	data := newPromptData(req)
	data.DayNumber = dayNumber
	data.Date = date.Format(time.DateOnly)

	var resp dayResponse
	meta, err := g.complete(ctx, AgentDay, dayTemplate, data, &resp)
	if err != nil {
		return CandidateDay{}, meta, err
	}
	if resp.Day == nil {
		return CandidateDay{}, meta, shared.Upstream(nil, "%s response has no day", AgentDay)
	}
	resp.Day.DayNumber = dayNumber
	return *resp.Day, meta, nil
}

// GenerateMeal requests a recipe for one meal. A nil recipe means the
// generator chose to leave the meal empty.
func (g *Generator) GenerateMeal(ctx context.Context, req GenerationRequest, dayNumber int, date time.Time, memberID string, mealType household.MealType) (*CandidateRecipe, shared.AgentMeta, error) {
	data := newPromptData(req)
	data.DayNumber = dayNumber
	data.Date = date.Format(time.DateOnly)
	data.MemberID = memberID
	data.MealType = string(mealType)

	var resp mealResponse
	meta, err := g.complete(ctx, AgentMeal, mealTemplate, data, &resp)
	if err != nil {
		return nil, meta, err
	}
	if resp.Meal == nil {
		return nil, meta, shared.Upstream(nil, "%s response has no meal", AgentMeal)
	}
	return resp.Meal.Recipe, meta, nil
}

func (g *Generator) complete(ctx context.Context, agent string, tmpl *template.Template, data promptData, out any) (shared.AgentMeta, error) {
	start := time.Now()

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return shared.AgentMeta{AgentName: agent}, err
	}

	resp, err := g.textGen.GenerateContent(ctx, buf.String())
	meta := shared.AgentMeta{
		AgentName: agent,
		Usage:     resp.Usage,
		Latency:   time.Since(start),
	}
	if err != nil {
		return meta, shared.Upstream(err, "%s request failed", agent)
	}

	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp.Content)), out); err != nil {
		return meta, shared.Upstream(err, "failed to parse %s response", agent)
	}
	return meta, nil
}

func newPromptData(req GenerationRequest) promptData {
	data := promptData{
		WeekStart: req.WeekStart.Format(time.DateOnly),
		WeekEnd:   req.WeekEnd.Format(time.DateOnly),
		Reason:    req.Reason,
	}
	if req.Budget != nil && req.Budget.IsPositive() {
		data.Budget = req.Budget.StringFixed(2)
	}

	for _, m := range req.Members {
		data.Members = append(data.Members, promptMember{
			ID:           m.ID,
			Name:         m.Name,
			IsRegistered: m.IsRegistered,
			MealTimes:    nonNil(m.MealTimes),
			Allergies:    nonNil(m.Allergies),
			Goal:         m.Goal,
		})
		if required := m.RequiredMealTypes(); len(required) > 0 {
			data.Expected = append(data.Expected, promptExpected{
				FamilyMemberID:    m.ID,
				IsRegistered:      m.IsRegistered,
				RequiredMealTypes: required,
			})
		}
	}

	for _, p := range req.Products {
		data.Products = append(data.Products, promptProduct{
			ID:                p.ID,
			Name:              p.Name,
			Category:          string(p.Category),
			AveragePrice:      json.Number(p.AveragePrice.String()),
			BaseUnit:          string(p.BaseUnit),
			StandardPackaging: p.StandardPackaging,
			Calories:          p.Nutrition.Calories,
			Protein:           p.Nutrition.Protein,
			Fats:              p.Nutrition.Fats,
			Carbs:             p.Nutrition.Carbs,
			Allergens:         nonNil(p.Allergens),
		})
	}
	return data
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
