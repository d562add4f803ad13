package planner

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"family-meal-planner/internal/household"
	"family-meal-planner/internal/units"
)

// Candidate types mirror the generator's JSON output. Nothing in them is
// trusted until a Validate function has accepted it.

// CandidateIngredient is a generated recipe line.
type CandidateIngredient struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
	Unit      string  `json:"unit"`
}

// CandidateRecipe is a generated recipe. Instructions stay raw so that a
// non-list value is reported as a violation instead of a decode failure.
type CandidateRecipe struct {
	Name         string                `json:"name"`
	NameEn       string                `json:"nameEn"`
	Description  string                `json:"description"`
	CookingTime  float64               `json:"cookingTime"`
	Servings     float64               `json:"servings"`
	Calories     float64               `json:"calories"`
	Protein      float64               `json:"protein"`
	Fats         float64               `json:"fats"`
	Carbs        float64               `json:"carbs"`
	Instructions json.RawMessage       `json:"instructions"`
	ImageURL     string                `json:"imageUrl"`
	Ingredients  []CandidateIngredient `json:"ingredients"`
}

// CandidateMeal is a generated meal slot.
type CandidateMeal struct {
	FamilyMemberID string           `json:"familyMemberId"`
	MealType       string           `json:"mealType"`
	Recipe         *CandidateRecipe `json:"recipe"`
}

// CandidateDay is a generated plan day.
type CandidateDay struct {
	DayNumber int             `json:"dayNumber"`
	Meals     []CandidateMeal `json:"meals"`
}

// CandidateWeek is a generated full-week plan.
type CandidateWeek struct {
	Days []CandidateDay `json:"days"`
}

type weekResponse struct {
	Menu *CandidateWeek `json:"menu"`
}

type dayResponse struct {
	Day *CandidateDay `json:"day"`
}

type mealResponse struct {
	Meal *struct {
		Recipe *CandidateRecipe `json:"recipe"`
	} `json:"meal"`
}

// instructionSteps decodes raw instructions as a list of strings.
func instructionSteps(raw json.RawMessage) ([]string, bool) {
	var steps []string
	if len(raw) == 0 || json.Unmarshal(raw, &steps) != nil {
		return nil, false
	}
	return steps, true
}

// toRecipe converts an accepted candidate recipe.
func (c *CandidateRecipe) toRecipe() *Recipe {
	if c == nil {
		return nil
	}
	raw, _ := instructionSteps(c.Instructions)
	var steps []string
	for _, step := range raw {
		if step = strings.TrimSpace(step); step != "" {
			steps = append(steps, step)
		}
	}
	servings := int(math.Round(c.Servings))
	if servings < 1 {
		servings = 1
	}
	r := &Recipe{
		Name:         c.Name,
		NameEn:       c.NameEn,
		Description:  c.Description,
		CookingTime:  int(math.Round(c.CookingTime)),
		Servings:     servings,
		Calories:     int(math.Round(c.Calories)),
		Protein:      c.Protein,
		Fats:         c.Fats,
		Carbs:        c.Carbs,
		Instructions: steps,
		ImageURL:     c.ImageURL,
	}
	for _, ing := range c.Ingredients {
		unit, _ := units.Parse(ing.Unit)
		r.Ingredients = append(r.Ingredients, Ingredient{ProductID: ing.ProductID, Quantity: ing.Quantity, Unit: unit})
	}
	return r
}

// toMeals converts an accepted candidate day into meals scheduled on date.
func (c CandidateDay) toMeals(date time.Time) []Meal {
	meals := make([]Meal, 0, len(c.Meals))
	for _, cm := range c.Meals {
		mealType, _ := household.ParseMealType(cm.MealType)
		meals = append(meals, Meal{
			FamilyMemberID: cm.FamilyMemberID,
			MealType:       mealType,
			ScheduledAt:    ScheduledAt(date, mealType),
			Status:         StatusPending,
			Recipe:         cm.Recipe.toRecipe(),
		})
	}
	return meals
}
