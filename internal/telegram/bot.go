package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/receipt"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/shopping"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// promptTokenAlert is the prompt size above which the admin is warned.
const promptTokenAlert = 12000

const commandTimeout = 2 * time.Minute

// maxPhotoSize bounds receipt downloads.
const maxPhotoSize = 10 << 20

// sender is the part of the Telegram API the bot talks through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// pendingReceipt is a scanned receipt waiting for /confirm in a chat.
type pendingReceipt struct {
	familyID string
	lines    []receipt.Line
}

// Bot exposes the engine to a household chat over a Telegram webhook.
type Bot struct {
	api    sender
	engine *app.Engine
	cfg    *config.Config
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	receipts map[int64]pendingReceipt
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, engine *app.Engine) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	slog.Info("telegram authorized", "account", api.Self.UserName)

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.TelegramWebhookURL, err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	slog.Info("webhook set", "description", resp.Description)

	return newBot(api, engine, cfg), nil
}

func newBot(api sender, engine *app.Engine, cfg *config.Config) *Bot {
	return &Bot{
		api:      api,
		engine:   engine,
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
		receipts: make(map[int64]pendingReceipt),
	}
}

// RegisterHandlers registers the webhook handler on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("failed to parse update", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.cfg.IsAllowed(msg.From.ID) {
		slog.Warn("unauthorized access attempt", "user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		b.processMessage(ctx, msg)
	}()
}

// parseCommand splits "/cmd@bot args" into its name and trimmed arguments.
// Text that is not a command yields an empty name.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	cmd, args := parseCommand(msg.Text)
	chatID := msg.Chat.ID

	if cmd == "metrics" {
		b.handleMetrics(ctx, msg)
		return
	}
	if len(msg.Photo) == 0 && (cmd == "" || cmd == "start" || cmd == "help") {
		b.reply(chatID, helpText)
		return
	}

	familyID, err := b.familyFor(ctx, msg.From.ID)
	if err != nil {
		b.reply(chatID, errorText(err))
		return
	}

	var text string
	if len(msg.Photo) > 0 {
		cmd = "receipt"
	}
	switch cmd {
	case "receipt":
		b.reply(chatID, "🧾 *Reading the receipt...*")
		text, err = b.scanReceipt(ctx, chatID, familyID, msg.Photo)
	case "confirm":
		text, err = b.confirmReceipt(ctx, chatID, familyID)
	case "cancel":
		text = b.cancelReceipt(chatID)
	case "plan":
		b.reply(chatID, "🧑‍🍳 *Thinking...*\n(Planning the week and checking the pantry)")
		text, err = b.generate(ctx, familyID, args)
	case "menu":
		text, err = b.menu(ctx, familyID)
	case "list":
		text, err = b.shoppingList(ctx, familyID)
	case "stock":
		text, err = b.stock(ctx, familyID)
	case "done":
		text, err = b.setStatus(ctx, familyID, args, planner.StatusCompleted)
	case "skip":
		text, err = b.setStatus(ctx, familyID, args, planner.StatusSkipped)
	case "budget":
		text, err = b.budget(ctx, familyID)
	default:
		text = helpText
	}

	if err != nil {
		slog.Warn("command failed", "command", cmd, "family_id", familyID, "error", err)
		text = errorText(err)
	}
	b.reply(chatID, text)
}

// familyFor resolves the household of a chat user: the member linked to the
// user's Telegram id, else the configured default family.
func (b *Bot) familyFor(ctx context.Context, userID int64) (string, error) {
	m, err := b.engine.Households.FindMemberByTelegramID(ctx, userID)
	if err == nil {
		return m.FamilyID, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return "", err
	}
	if b.cfg.TelegramFamilyID == "" {
		return "", shared.NotFound("household for telegram user %d", userID)
	}
	return b.cfg.TelegramFamilyID, nil
}

func (b *Bot) generate(ctx context.Context, familyID, reason string) (string, error) {
	weekly, err := b.engine.GenerateWeeklyPlan(ctx, familyID, reason)
	if err != nil {
		if errors.Is(err, shared.ErrUpstream) {
			b.sendAdminAlert(fmt.Sprintf("⚠️ *Generation failed*\nFamily: `%s`\n%s", familyID, escape(err.Error())))
		}
		return "", err
	}
	b.checkUsage(ctx)

	planText, err := b.renderPlan(ctx, weekly.Plan)
	if err != nil {
		return "", err
	}
	products, err := b.engine.Products.GetMany(ctx, productIDs(weekly.List.Items))
	if err != nil {
		return "", err
	}
	return planText + "\n" + formatShoppingList(weekly.List, products), nil
}

func (b *Bot) menu(ctx context.Context, familyID string) (string, error) {
	plan, err := b.engine.Planner.CurrentPlan(ctx, familyID)
	if err != nil {
		return "", err
	}
	return b.renderPlan(ctx, plan)
}

func (b *Bot) renderPlan(ctx context.Context, plan *planner.MealPlan) (string, error) {
	members, err := b.engine.Households.Members(ctx, plan.FamilyID)
	if err != nil {
		return "", err
	}
	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.ID] = m.Name
	}
	return formatPlan(plan, names), nil
}

func (b *Bot) shoppingList(ctx context.Context, familyID string) (string, error) {
	list, err := b.engine.Shopping.Current(ctx, familyID)
	if err != nil {
		return "", err
	}
	products, err := b.engine.Products.GetMany(ctx, productIDs(list.Items))
	if err != nil {
		return "", err
	}
	return formatShoppingList(list, products), nil
}

func (b *Bot) stock(ctx context.Context, familyID string) (string, error) {
	lots, err := b.engine.Inventory.List(ctx, familyID, nil)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(lots))
	for _, lot := range lots {
		ids = append(ids, lot.ProductID)
	}
	products, err := b.engine.Products.GetMany(ctx, ids)
	if err != nil {
		return "", err
	}
	return formatStock(lots, products, b.now()), nil
}

func (b *Bot) setStatus(ctx context.Context, familyID, mealID string, status planner.MealStatus) (string, error) {
	if mealID == "" {
		return "", shared.Invalid("meal id is required")
	}
	meal, err := b.engine.UpdateMealStatus(ctx, familyID, mealID, status)
	if err != nil {
		return "", err
	}
	name := "meal"
	if meal.Recipe != nil {
		name = meal.Recipe.Name
	}
	return fmt.Sprintf("%s %s: %s", statusIcons[meal.Status], escape(name), meal.Status), nil
}

func (b *Bot) budget(ctx context.Context, familyID string) (string, error) {
	summary, err := b.engine.Budget(ctx, familyID)
	if err != nil {
		return "", err
	}
	return formatBudget(summary), nil
}

func (b *Bot) scanReceipt(ctx context.Context, chatID int64, familyID string, photos []tgbotapi.PhotoSize) (string, error) {
	if len(photos) == 0 {
		return "", shared.Invalid("send the receipt as a photo")
	}
	image, err := b.download(ctx, photos[len(photos)-1].FileID)
	if err != nil {
		return "", err
	}
	lines, err := b.engine.ScanReceipt(ctx, image, http.DetectContentType(image))
	if err != nil {
		if errors.Is(err, shared.ErrUpstream) {
			b.sendAdminAlert(fmt.Sprintf("⚠️ *Receipt scan failed*\nFamily: `%s`\n%s", familyID, escape(err.Error())))
		}
		return "", err
	}

	b.mu.Lock()
	b.receipts[chatID] = pendingReceipt{familyID: familyID, lines: lines}
	b.mu.Unlock()
	return formatReceipt(lines), nil
}

func (b *Bot) confirmReceipt(ctx context.Context, chatID int64, familyID string) (string, error) {
	b.mu.Lock()
	pending, ok := b.receipts[chatID]
	b.mu.Unlock()
	if !ok || pending.familyID != familyID {
		return "", shared.NotFound("scanned receipt for this chat")
	}

	result, err := b.engine.ConfirmReceipt(ctx, familyID, pending.lines)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	delete(b.receipts, chatID)
	b.mu.Unlock()
	return formatReceiptResult(result), nil
}

func (b *Bot) cancelReceipt(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.receipts[chatID]; !ok {
		return "Nothing to cancel."
	}
	delete(b.receipts, chatID)
	return "🗑️ Receipt discarded."
}

// download fetches a file the user sent to the bot.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file %s: status=%d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	if len(data) > maxPhotoSize {
		return nil, shared.Invalid("photo is larger than %d MB", maxPhotoSize>>20)
	}
	return data, nil
}

func (b *Bot) handleMetrics(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.TelegramAdminID {
		b.reply(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
		return
	}
	usage, err := b.engine.Usage(ctx, 7)
	if err != nil {
		slog.Error("failed to fetch usage", "error", err)
		b.reply(msg.Chat.ID, "❌ Error fetching metrics.")
		return
	}
	b.reply(msg.Chat.ID, formatReport(usage, b.engine.Health()))
}

// checkUsage warns the admin when today's prompts grow unusually large.
func (b *Bot) checkUsage(ctx context.Context) {
	usage, err := b.engine.Usage(ctx, 1)
	if err != nil || len(usage) == 0 {
		return
	}
	if today := usage[0]; today.TotalExecution > 0 && today.TotalPrompt/today.TotalExecution > promptTokenAlert {
		b.sendAdminAlert(fmt.Sprintf("⚠️ *Context Bloat Alert*\nAverage prompt today: %d tokens", today.TotalPrompt/today.TotalExecution))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if chatID == 0 || text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		slog.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendAdminAlert(text string) {
	b.reply(b.cfg.TelegramAdminID, text)
}

func productIDs(items []shopping.Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
