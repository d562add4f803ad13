package household

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type familyFile struct {
	Name         string        `yaml:"name"`
	WeeklyBudget string        `yaml:"weekly_budget"`
	Members      []memberEntry `yaml:"members"`
}

type memberEntry struct {
	Name           string   `yaml:"name"`
	Registered     bool     `yaml:"registered"`
	MealTimes      []string `yaml:"meal_times"`
	Allergies      []string `yaml:"allergies"`
	Goal           string   `yaml:"goal"`
	TelegramUserID int64    `yaml:"telegram_user_id"`
}

// LoadFamily parses a household seed file:
//
//	name: Smiths
//	weekly_budget: "2500"
//	members:
//	  - name: Anna
//	    registered: true
//	    goal: healthy_eating
//	  - name: Tom
//	    meal_times: [breakfast, dinner]
func LoadFamily(r io.Reader) (*Family, error) {
	var file familyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode family file: %w", err)
	}

	f := &Family{Name: file.Name}
	if file.WeeklyBudget != "" {
		b, err := decimal.NewFromString(file.WeeklyBudget)
		if err != nil {
			return nil, fmt.Errorf("invalid weekly budget %q: %w", file.WeeklyBudget, err)
		}
		f.WeeklyBudget = &b
	}

	for i, e := range file.Members {
		m := Member{
			Name:           e.Name,
			IsRegistered:   e.Registered,
			Allergies:      e.Allergies,
			Goal:           Goal(e.Goal),
			TelegramUserID: e.TelegramUserID,
		}
		for _, s := range e.MealTimes {
			t, err := ParseMealType(s)
			if err != nil {
				return nil, fmt.Errorf("member %d (%s): %w", i+1, e.Name, err)
			}
			m.MealTimes = append(m.MealTimes, t)
		}
		f.Members = append(f.Members, m)
	}
	return f, nil
}
