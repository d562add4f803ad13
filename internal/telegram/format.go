package telegram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/catalog"
	"family-meal-planner/internal/household"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/receipt"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/shopping"
	"family-meal-planner/internal/units"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `🥣 *Family Meal Planner*

/plan [wishes] - generate next meals and the shopping list
/menu - show the active plan
/list - show the open shopping list
/stock - show the pantry
/done <meal id> - mark a meal as cooked
/skip <meal id> - skip a meal
/budget - weekly budget status
Send a photo of a receipt to add its products to the pantry.
/confirm - book the scanned receipt
/cancel - discard the scanned receipt`

var statusIcons = map[planner.MealStatus]string{
	planner.StatusPending:     "⏳",
	planner.StatusCooking:     "🍳",
	planner.StatusCompleted:   "✅",
	planner.StatusSkipped:     "⏭️",
	planner.StatusAutoSkipped: "💤",
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func formatQuantity(q float64, unit units.Unit) string {
	rounded := math.Round(q*1000) / 1000
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + string(unit)
}

func productName(products map[string]catalog.Product, id string) string {
	if p, ok := products[id]; ok {
		return p.Name
	}
	return id
}

func formatPlan(plan *planner.MealPlan, members map[string]string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📅 *Meal Plan* %s - %s\n",
		plan.WeekStart.Format("02.01"), plan.WeekEnd.AddDate(0, 0, -1).Format("02.01")))

	for _, day := range plan.Days {
		sb.WriteString(fmt.Sprintf("\n*%s %s*\n", day.Date.Weekday(), day.Date.Format("02.01")))
		for _, m := range day.Meals {
			title := "no recipe"
			if m.Recipe != nil {
				title = m.Recipe.Name
			}
			sb.WriteString(fmt.Sprintf("%s %s %s (%s): %s `%s`\n",
				statusIcons[m.Status], m.ScheduledAt.Local().Format("15:04"), m.MealType,
				escape(members[m.FamilyMemberID]), escape(title), m.ID))
		}
	}
	return sb.String()
}

func formatShoppingList(list *shopping.List, products map[string]catalog.Product) string {
	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	if len(list.Items) == 0 {
		sb.WriteString("_Everything is already in the pantry_\n")
		return sb.String()
	}
	for _, it := range list.Items {
		mark := "•"
		if it.IsPurchased {
			mark = "☑️"
		}
		sb.WriteString(fmt.Sprintf("%s %s: %s ≈ %s\n",
			mark, escape(productName(products, it.ProductID)), formatQuantity(it.Quantity, it.Unit), it.EstimatedPrice.StringFixed(2)))
	}
	sb.WriteString(fmt.Sprintf("\n💰 *Estimated total:* %s", list.TotalPrice.StringFixed(2)))
	return sb.String()
}

func formatStock(lots []inventory.Lot, products map[string]catalog.Product, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("🥫 *Pantry*\n\n")
	if len(lots) == 0 {
		sb.WriteString("_Empty_\n")
		return sb.String()
	}
	for _, lot := range lots {
		sb.WriteString(fmt.Sprintf("• %s: %s", escape(productName(products, lot.ProductID)), formatQuantity(lot.Quantity, lot.Unit)))
		if lot.ExpiresAt != nil {
			icon := "📆"
			if lot.ExpiresAt.Before(now.Add(48 * time.Hour)) {
				icon = "⚠️"
			}
			sb.WriteString(fmt.Sprintf(" %s %s", icon, lot.ExpiresAt.Local().Format("02.01")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatBudget(s household.BudgetSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💰 *Budget* %s - %s\n\n",
		s.PeriodStart.Local().Format("02.01"), s.PeriodEnd.Local().AddDate(0, 0, -1).Format("02.01")))
	if s.WeeklyBudget == nil {
		sb.WriteString(fmt.Sprintf("Spent: %s (no limit)", s.Used.StringFixed(2)))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Spent: %s of %s\n", s.Used.StringFixed(2), s.WeeklyBudget.StringFixed(2)))
	if s.Status == household.BudgetOverspent {
		sb.WriteString(fmt.Sprintf("⚠️ Over budget by %s", s.Remaining.Neg().StringFixed(2)))
	} else {
		sb.WriteString(fmt.Sprintf("Remaining: %s", s.Remaining.StringFixed(2)))
	}
	return sb.String()
}

func formatReceipt(lines []receipt.Line) string {
	var sb strings.Builder
	sb.WriteString("🧾 *Receipt*\n\n")
	if len(lines) == 0 {
		sb.WriteString("_No products found_\n")
		return sb.String()
	}
	for _, l := range lines {
		unit := l.Unit
		if unit == "" {
			unit = units.Unit(l.RawUnit)
		}
		name := l.Name
		if l.ProductName != "" {
			name = l.ProductName
		}
		line := fmt.Sprintf("%s: %s = %s", escape(name), formatQuantity(l.Quantity, unit), l.Price.StringFixed(2))
		if l.NeedsReview {
			sb.WriteString(fmt.Sprintf("❓ %s (%s)\n", line, escape(l.Issue)))
		} else {
			sb.WriteString("✅ " + line + "\n")
		}
	}
	sb.WriteString("\n/confirm to add the ✅ lines to the pantry, /cancel to discard.")
	return sb.String()
}

func formatReceiptResult(r *app.ReceiptResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🥫 Added %d products to the pantry.\n", len(r.Added)))
	if len(r.Skipped) > 0 {
		sb.WriteString(fmt.Sprintf("Skipped %d lines:\n", len(r.Skipped)))
		for _, l := range r.Skipped {
			sb.WriteString(fmt.Sprintf("• %s (%s)\n", escape(l.Name), escape(l.Issue)))
		}
	}
	if r.Budget != nil {
		sb.WriteString("\n" + formatBudget(*r.Budget))
	}
	return sb.String()
}

func formatReport(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Database: %s\n", metrics.FormatBytes(health.DatabaseSize)))
	return sb.String()
}

// errorText turns an engine error into a chat reply.
func errorText(err error) string {
	var prefix string
	switch shared.Kind(err) {
	case "NotFound":
		prefix = "🔍 Not found"
	case "ForbiddenAccess":
		prefix = "⛔ Not yours"
	case "InsufficientInventory":
		prefix = "🥫 Not enough in the pantry"
	case "ValidationFailed":
		prefix = "⚠️ Rejected"
	case "UpstreamFailure":
		prefix = "🤖 The planner is unavailable"
	default:
		prefix = "❌ Something went wrong"
	}
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return fmt.Sprintf("%s:\n```\n%s\n```", prefix, safeErr)
}
