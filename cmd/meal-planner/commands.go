package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/inventory"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/shopping"
	"family-meal-planner/internal/units"

	"github.com/shopspring/decimal"
)

type command struct {
	help string
	run  func(ctx context.Context, e *app.Engine, args []string) error
}

var commandOrder = []string{
	"import-catalog", "import-family", "product-deactivate", "budget",
	"plan", "show-plan", "regenerate-plan", "regenerate-day", "regenerate-meal",
	"meal-status", "auto-skip",
	"shopping", "shopping-refresh", "shopping-item", "shopping-complete", "shopping-remove",
	"stock", "stock-add", "stock-update", "stock-remove",
	"receipt-scan", "receipt-confirm",
	"usage", "metrics-cleanup",
}

var commands = map[string]command{
	"import-catalog":     {"Import products from a YAML catalog", importCatalog},
	"import-family":      {"Create a household from a YAML file", importFamily},
	"product-deactivate": {"Hide a product from generation and receipt matching", deactivateProduct},
	"budget":             {"Show or set the weekly budget", budget},
	"plan":               {"Generate the week's plan and shopping list", plan},
	"show-plan":          {"Print the active plan", showPlan},
	"regenerate-plan":    {"Regenerate every day of a plan", regeneratePlan},
	"regenerate-day":     {"Regenerate one day of a plan", regenerateDay},
	"regenerate-meal":    {"Regenerate the recipe of one meal", regenerateMeal},
	"meal-status":        {"Change the status of a meal", mealStatus},
	"auto-skip":          {"Skip pending meals that are overdue", autoSkip},
	"shopping":           {"Print the open shopping list", showShopping},
	"shopping-refresh":   {"Rebuild the shopping list from the active plan", refreshShopping},
	"shopping-item":      {"Record purchase progress on one item", updateShoppingItem},
	"shopping-complete":  {"Book a finished shopping trip from a YAML file", completeShopping},
	"shopping-remove":    {"Close a shopping list without booking it", removeShopping},
	"stock":              {"Print the pantry", showStock},
	"stock-add":          {"Add a product to the pantry", addStock},
	"stock-update":       {"Change the quantity or expiry of a lot", updateStock},
	"stock-remove":       {"Remove a lot from the pantry", removeStock},
	"receipt-scan":       {"Read a receipt photo into a YAML file for review", scanReceipt},
	"receipt-confirm":    {"Add a reviewed receipt to the pantry and budget", confirmReceipt},
	"usage":              {"Print generator token usage", usage},
	"metrics-cleanup":    {"Remove old metric records", metricsCleanup},
}

func newFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	family := fs.String("family", os.Getenv("TELEGRAM_FAMILY_ID"), "Household id")
	return fs, family
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return shared.Invalid("-%s is required", name)
	}
	return nil
}

func importCatalog(ctx context.Context, e *app.Engine, args []string) error {
	fs := flag.NewFlagSet("import-catalog", flag.ExitOnError)
	file := fs.String("file", "catalog.yaml", "Catalog file")
	fs.Parse(args)

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	result, err := e.ImportCatalog(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d products, %d already present.\n", result.Created, result.Skipped)
	return nil
}

func importFamily(ctx context.Context, e *app.Engine, args []string) error {
	fs := flag.NewFlagSet("import-family", flag.ExitOnError)
	file := fs.String("file", "family.yaml", "Household file")
	fs.Parse(args)

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("failed to open household file: %w", err)
	}
	defer f.Close()

	family, err := e.ImportFamily(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("Created household %s (%s) with %d members.\n", family.Name, family.ID, len(family.Members))
	for _, m := range family.Members {
		fmt.Printf("  %s  %s  %v\n", m.ID, m.Name, m.RequiredMealTypes())
	}
	return nil
}

func budget(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("budget")
	set := fs.String("set", "", `New weekly budget, or "none" for unlimited`)
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}

	summary, err := e.Budget(ctx, *family)
	if *set != "" {
		var amount *decimal.Decimal
		if *set != "none" {
			d, perr := decimal.NewFromString(*set)
			if perr != nil {
				return shared.Invalid("invalid budget %q", *set)
			}
			amount = &d
		}
		summary, err = e.SetWeeklyBudget(ctx, *family, amount)
	}
	if err != nil {
		return err
	}

	limit := "unlimited"
	if summary.WeeklyBudget != nil {
		limit = summary.WeeklyBudget.StringFixed(2)
	}
	fmt.Printf("Period %s - %s\nBudget: %s\nSpent:  %s\nStatus: %s\n",
		summary.PeriodStart.Format(time.DateOnly), summary.PeriodEnd.Format(time.DateOnly),
		limit, summary.Used.StringFixed(2), summary.Status)
	return nil
}

func plan(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("plan")
	reason := fs.String("reason", "", "Wishes passed to the generator")
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}

	weekly, err := e.GenerateWeeklyPlan(ctx, *family, *reason)
	if err != nil {
		return err
	}
	printPlan(weekly.Plan)
	fmt.Println()
	return printList(ctx, e, weekly.List)
}

func showPlan(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("show-plan")
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}
	p, err := e.Planner.CurrentPlan(ctx, *family)
	if err != nil {
		return err
	}
	printPlan(p)
	return nil
}

func regeneratePlan(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("regenerate-plan")
	planID := fs.String("plan", "", "Plan id")
	reason := fs.String("reason", "", "Why the plan is regenerated")
	fs.Parse(args)
	if err := requireFlag("plan", *planID); err != nil {
		return err
	}
	p, err := e.RegeneratePlan(ctx, *family, *planID, *reason)
	if err != nil {
		return err
	}
	printPlan(p)
	return nil
}

func regenerateDay(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("regenerate-day")
	planID := fs.String("plan", "", "Plan id")
	day := fs.Int("day", 0, "Day number, 1 (Monday) to 7")
	reason := fs.String("reason", "", "Why the day is regenerated")
	fs.Parse(args)
	if err := requireFlag("plan", *planID); err != nil {
		return err
	}
	p, err := e.RegenerateDay(ctx, *family, *planID, *day, *reason)
	if err != nil {
		return err
	}
	printPlan(p)
	return nil
}

func regenerateMeal(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("regenerate-meal")
	mealID := fs.String("meal", "", "Meal id")
	reason := fs.String("reason", "", "Why the meal is regenerated")
	fs.Parse(args)
	if err := requireFlag("meal", *mealID); err != nil {
		return err
	}
	p, err := e.RegenerateMeal(ctx, *family, *mealID, *reason)
	if err != nil {
		return err
	}
	printPlan(p)
	return nil
}

func mealStatus(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("meal-status")
	mealID := fs.String("meal", "", "Meal id")
	status := fs.String("status", "", "pending, cooking, completed or skipped")
	fs.Parse(args)
	if err := requireFlag("meal", *mealID); err != nil {
		return err
	}
	s, err := planner.ParseMealStatus(*status)
	if err != nil {
		return err
	}
	meal, err := e.UpdateMealStatus(ctx, *family, *mealID, s)
	if err != nil {
		return err
	}
	fmt.Printf("Meal %s is now %s.\n", meal.ID, meal.Status)
	return nil
}

func autoSkip(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("auto-skip")
	grace := fs.Duration("grace", 2*time.Hour, "How long after its scheduled time a pending meal is skipped")
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}
	n, err := e.AutoSkipOverdue(ctx, *family, *grace)
	if err != nil {
		return err
	}
	fmt.Printf("Skipped %d overdue meals.\n", n)
	return nil
}

func showShopping(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("shopping")
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}
	list, err := e.Shopping.Current(ctx, *family)
	if err != nil {
		return err
	}
	return printList(ctx, e, list)
}

func refreshShopping(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("shopping-refresh")
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}
	list, err := e.RefreshShoppingList(ctx, *family)
	if err != nil {
		return err
	}
	return printList(ctx, e, list)
}

func completeShopping(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("shopping-complete")
	listID := fs.String("list", "", "Shopping list id")
	file := fs.String("file", "", "YAML file with the purchased items")
	fs.Parse(args)
	if err := requireFlag("list", *listID); err != nil {
		return err
	}
	if err := requireFlag("file", *file); err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("failed to open purchases: %w", err)
	}
	defer f.Close()
	purchases, err := loadPurchases(f)
	if err != nil {
		return err
	}

	result, err := e.CompleteShopping(ctx, *family, *listID, purchases)
	if err != nil {
		return err
	}
	fmt.Printf("Spent %s. Budget used %s (%s).\n",
		result.Spent.StringFixed(2), result.Budget.Used.StringFixed(2), result.Budget.Status)
	return nil
}

func showStock(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("stock")
	within := fs.Duration("expiring", 0, "Only show lots expiring within this window")
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}

	var window *time.Duration
	if *within > 0 {
		window = within
	}
	lots, err := e.Inventory.List(ctx, *family, window)
	if err != nil {
		return err
	}
	names, err := productNames(ctx, e, lotProducts(lots))
	if err != nil {
		return err
	}
	for _, lot := range lots {
		expiry := "-"
		if lot.ExpiresAt != nil {
			expiry = lot.ExpiresAt.Local().Format(time.DateOnly)
		}
		fmt.Printf("%s  %-24s %10.3f %-5s expires %s\n", lot.ID, names[lot.ProductID], lot.Quantity, lot.Unit, expiry)
	}
	return nil
}

func addStock(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("stock-add")
	productID := fs.String("product", "", "Product id")
	quantity := fs.Float64("qty", 0, "Quantity")
	unit := fs.String("unit", "", "kg, g, l, ml or piece")
	expires := fs.String("expires", "", "Expiry date (YYYY-MM-DD)")
	price := fs.String("price", "", "Price paid")
	deduct := fs.Bool("deduct-budget", false, "Debit the price from the weekly budget")
	fs.Parse(args)
	if err := requireFlag("product", *productID); err != nil {
		return err
	}

	u, err := units.Parse(*unit)
	if err != nil {
		return err
	}
	req := inventory.AddStockRequest{
		FamilyID:         *family,
		ProductID:        *productID,
		Quantity:         *quantity,
		Unit:             u,
		DeductFromBudget: *deduct,
	}
	if *expires != "" {
		t, err := time.ParseInLocation(time.DateOnly, *expires, time.Local)
		if err != nil {
			return shared.Invalid("invalid expiry date %q", *expires)
		}
		req.ExpiresAt = &t
	}
	if *price != "" {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return shared.Invalid("invalid price %q", *price)
		}
		req.ActualPrice = &d
	}

	result, err := e.AddStock(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Lot %s now holds %.3f %s.\n", result.Lot.ID, result.Lot.Quantity, result.Lot.Unit)
	if result.Budget != nil {
		fmt.Printf("Budget used %s (%s).\n", result.Budget.Used.StringFixed(2), result.Budget.Status)
	}
	return nil
}

func deactivateProduct(ctx context.Context, e *app.Engine, args []string) error {
	fs := flag.NewFlagSet("product-deactivate", flag.ExitOnError)
	productID := fs.String("product", "", "Product id")
	fs.Parse(args)
	if err := requireFlag("product", *productID); err != nil {
		return err
	}
	if err := e.Products.Deactivate(ctx, *productID); err != nil {
		return err
	}
	fmt.Printf("Product %s deactivated.\n", *productID)
	return nil
}

func updateShoppingItem(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("shopping-item")
	listID := fs.String("list", "", "Shopping list id")
	itemID := fs.String("item", "", "Item id")
	purchased := fs.String("purchased", "", "true or false")
	price := fs.String("price", "", "Price paid")
	quantity := fs.Float64("qty", 0, "Quantity bought")
	reset := fs.Bool("clear", false, "Reset the recorded price and quantity")
	fs.Parse(args)
	if err := requireFlag("list", *listID); err != nil {
		return err
	}
	if err := requireFlag("item", *itemID); err != nil {
		return err
	}

	update := shopping.ItemUpdate{ClearActual: *reset}
	if *purchased != "" {
		v, err := strconv.ParseBool(*purchased)
		if err != nil {
			return shared.Invalid("invalid -purchased %q", *purchased)
		}
		update.IsPurchased = &v
	}
	if *price != "" {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return shared.Invalid("invalid price %q", *price)
		}
		update.ActualPrice = &d
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "qty" {
			update.ActualQuantity = quantity
		}
	})

	item, err := e.Shopping.UpdateItem(ctx, *family, *listID, *itemID, update)
	if err != nil {
		return err
	}
	actual := "-"
	if item.ActualPrice != nil {
		actual = item.ActualPrice.StringFixed(2)
	}
	fmt.Printf("Item %s purchased=%t actual price %s.\n", item.ID, item.IsPurchased, actual)
	return nil
}

func removeShopping(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("shopping-remove")
	listID := fs.String("list", "", "Shopping list id")
	fs.Parse(args)
	if err := requireFlag("list", *listID); err != nil {
		return err
	}
	if err := e.Shopping.Remove(ctx, *family, *listID); err != nil {
		return err
	}
	fmt.Printf("Shopping list %s closed.\n", *listID)
	return nil
}

func updateStock(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("stock-update")
	lotID := fs.String("lot", "", "Lot id")
	quantity := fs.Float64("qty", 0, "New quantity in the lot's unit")
	expires := fs.String("expires", "", "New expiry date (YYYY-MM-DD)")
	fs.Parse(args)
	if err := requireFlag("lot", *lotID); err != nil {
		return err
	}

	var update inventory.LotUpdate
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "qty" {
			update.Quantity = quantity
		}
	})
	if *expires != "" {
		t, err := time.ParseInLocation(time.DateOnly, *expires, time.Local)
		if err != nil {
			return shared.Invalid("invalid expiry date %q", *expires)
		}
		update.ExpiresAt = &t
	}

	lot, err := e.Inventory.Update(ctx, *family, *lotID, update)
	if err != nil {
		return err
	}
	fmt.Printf("Lot %s now holds %.3f %s.\n", lot.ID, lot.Quantity, lot.Unit)
	return nil
}

func removeStock(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("stock-remove")
	lotID := fs.String("lot", "", "Lot id")
	fs.Parse(args)
	if err := requireFlag("lot", *lotID); err != nil {
		return err
	}
	if err := e.Inventory.Remove(ctx, *family, *lotID); err != nil {
		return err
	}
	fmt.Printf("Lot %s removed.\n", *lotID)
	return nil
}

func scanReceipt(ctx context.Context, e *app.Engine, args []string) error {
	fs := flag.NewFlagSet("receipt-scan", flag.ExitOnError)
	image := fs.String("image", "", "Receipt photo (JPEG, PNG or WebP)")
	out := fs.String("out", "", "Write the lines to this file instead of stdout")
	fs.Parse(args)
	if err := requireFlag("image", *image); err != nil {
		return err
	}

	data, err := os.ReadFile(*image)
	if err != nil {
		return fmt.Errorf("failed to read receipt photo: %w", err)
	}
	lines, err := e.ScanReceipt(ctx, data, http.DetectContentType(data))
	if err != nil {
		return err
	}

	if *out == "" {
		return writeReceipt(os.Stdout, lines)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *out, err)
	}
	defer f.Close()
	if err := writeReceipt(f, lines); err != nil {
		return err
	}
	review := 0
	for _, l := range lines {
		if l.NeedsReview {
			review++
		}
	}
	fmt.Printf("Wrote %d lines to %s, %d need review.\n", len(lines), *out, review)
	return nil
}

func confirmReceipt(ctx context.Context, e *app.Engine, args []string) error {
	fs, family := newFlags("receipt-confirm")
	file := fs.String("file", "", "Reviewed receipt YAML written by receipt-scan")
	fs.Parse(args)
	if err := requireFlag("family", *family); err != nil {
		return err
	}
	if err := requireFlag("file", *file); err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("failed to open receipt: %w", err)
	}
	defer f.Close()
	lines, err := loadReceipt(f)
	if err != nil {
		return err
	}

	result, err := e.ConfirmReceipt(ctx, *family, lines)
	if err != nil {
		return err
	}
	fmt.Printf("Added %d products to the pantry.\n", len(result.Added))
	for _, l := range result.Skipped {
		fmt.Printf("  skipped %-24s %s\n", l.Name, l.Issue)
	}
	if result.Budget != nil {
		fmt.Printf("Budget used %s (%s).\n", result.Budget.Used.StringFixed(2), result.Budget.Status)
	}
	return nil
}

func usage(ctx context.Context, e *app.Engine, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	days := fs.Int("days", 7, "Number of days to report")
	fs.Parse(args)

	rows, err := e.Usage(ctx, *days)
	if err != nil {
		return err
	}
	for _, d := range rows {
		fmt.Printf("%s  prompt %8d  completion %8d  calls %4d\n", d.Date, d.TotalPrompt, d.TotalCompletion, d.TotalExecution)
	}
	return nil
}

func metricsCleanup(ctx context.Context, e *app.Engine, args []string) error {
	fs := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
	days := fs.Int("days", 30, "Keep records for the last N days")
	fs.Parse(args)

	affected, err := e.CleanupMetrics(ctx, *days)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully removed %d old metric records.\n", affected)
	return nil
}

func printPlan(p *planner.MealPlan) {
	fmt.Printf("=== MEAL PLAN %s (%s - %s) ===\n", p.ID,
		p.WeekStart.Format(time.DateOnly), p.WeekEnd.AddDate(0, 0, -1).Format(time.DateOnly))
	for _, day := range p.Days {
		fmt.Printf("\n%s %s\n", day.Date.Weekday(), day.Date.Format(time.DateOnly))
		for _, m := range day.Meals {
			title := "(no recipe)"
			if m.Recipe != nil {
				title = m.Recipe.Name
			}
			fmt.Printf("  %s %-9s %-12s %s  [%s]\n", m.ScheduledAt.Local().Format("15:04"), m.MealType, m.Status, title, m.ID)
		}
	}
}

func printList(ctx context.Context, e *app.Engine, list *shopping.List) error {
	ids := make([]string, 0, len(list.Items))
	for _, it := range list.Items {
		ids = append(ids, it.ProductID)
	}
	names, err := productNames(ctx, e, ids)
	if err != nil {
		return err
	}

	fmt.Printf("=== SHOPPING LIST %s (%s) ===\n", list.ID, list.Status)
	for _, it := range list.Items {
		fmt.Printf("- %s  %-24s %10.3f %-5s ~%s\n", it.ID, names[it.ProductID], it.Quantity, it.Unit, it.EstimatedPrice.StringFixed(2))
	}
	fmt.Printf("Estimated total: %s\n", list.TotalPrice.StringFixed(2))
	return nil
}

func lotProducts(lots []inventory.Lot) []string {
	ids := make([]string, 0, len(lots))
	for _, lot := range lots {
		ids = append(ids, lot.ProductID)
	}
	return ids
}

func productNames(ctx context.Context, e *app.Engine, ids []string) (map[string]string, error) {
	products, err := e.Products.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(products))
	for id, p := range products {
		names[id] = p.Name
	}
	return names, nil
}
