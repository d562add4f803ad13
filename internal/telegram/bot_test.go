package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/units"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	fileURL string
}

func (f *fakeSender) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeGen struct {
	receipt string
}

func (g *fakeGen) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	return llm.ContentResponse{}, nil
}

func (g *fakeGen) GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (llm.ContentResponse, error) {
	if mimeType != "image/jpeg" {
		return llm.ContentResponse{}, fmt.Errorf("unexpected mime type %s", mimeType)
	}
	return llm.ContentResponse{Content: g.receipt}, nil
}

const catalogYAML = `
products:
  - name: Milk
    category: dairy
    base_unit: l
    standard_packaging: 1
    price: "40"
`

const familyYAML = `
name: Smiths
weekly_budget: "40"
members:
  - name: Anna
    registered: true
    telegram_user_id: 42
`

func setupBot(t *testing.T) (*Bot, *fakeSender, *fakeGen) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gen := &fakeGen{}
	engine := app.NewEngine(db, gen, metrics.NewEngineMetrics())
	if _, err := engine.ImportFamily(context.Background(), strings.NewReader(familyYAML)); err != nil {
		t.Fatalf("ImportFamily failed: %v", err)
	}
	if _, err := engine.ImportCatalog(context.Background(), strings.NewReader(catalogYAML)); err != nil {
		t.Fatalf("ImportCatalog failed: %v", err)
	}

	cfg := &config.Config{TelegramAllowedUserIDs: []int64{42}, TelegramAdminID: 7}
	api := &fakeSender{}
	return newBot(api, engine, cfg), api, gen
}

func message(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: text,
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text, name, args string
	}{
		{"/plan", "plan", ""},
		{"/plan more fish please ", "plan", "more fish please"},
		{"/Done@MealBot abc-123", "done", "abc-123"},
		{"hello", "", "hello"},
	}
	for _, tt := range tests {
		name, args := parseCommand(tt.text)
		if name != tt.name || args != tt.args {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tt.text, name, args, tt.name, tt.args)
		}
	}
}

func TestProcessMessage(t *testing.T) {
	ctx := context.Background()
	bot, api, _ := setupBot(t)

	tests := []struct {
		name   string
		userID int64
		text   string
		want   string
	}{
		{"Help", 42, "/help", "/plan [wishes]"},
		{"Budget", 42, "/budget", "Spent: 0.00 of 40.00"},
		{"EmptyPantry", 42, "/stock", "_Empty_"},
		{"NoPlan", 42, "/menu", "Not found"},
		{"NoList", 42, "/list", "Not found"},
		{"MissingMealID", 42, "/done", "meal id is required"},
		{"UnknownMeal", 42, "/skip 123", "Not found"},
		{"UnknownUser", 5, "/budget", "household for telegram user 5"},
		{"MetricsNotAdmin", 42, "/metrics", "Access Denied"},
		{"MetricsAdmin", 7, "/metrics", "Usage & Health Report"},
		{"ConfirmWithoutReceipt", 42, "/confirm", "scanned receipt for this chat"},
		{"CancelWithoutReceipt", 42, "/cancel", "Nothing to cancel"},
		{"ReceiptWithoutPhoto", 42, "/receipt", "send the receipt as a photo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot.processMessage(ctx, message(tt.userID, tt.text))
			msg := api.last(t)
			if msg.ChatID != 100 {
				t.Errorf("reply went to chat %d", msg.ChatID)
			}
			if !strings.Contains(msg.Text, tt.want) {
				t.Errorf("reply %q does not contain %q", msg.Text, tt.want)
			}
		})
	}
}

func TestReceiptPhoto(t *testing.T) {
	ctx := context.Background()
	bot, api, gen := setupBot(t)

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/large" {
			t.Errorf("expected the largest photo to be fetched, got %s", r.URL.Path)
		}
		w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	}))
	defer files.Close()
	api.fileURL = files.URL
	gen.receipt = `{"items": [
		{"name": "milk", "quantity": 2, "unit": "l", "price": 80},
		{"name": "Batteries", "quantity": 4, "unit": "piece", "price": 120}
	]}`

	photo := message(42, "")
	photo.Photo = []tgbotapi.PhotoSize{{FileID: "small", Width: 90}, {FileID: "large", Width: 1280}}
	bot.processMessage(ctx, photo)

	preview := api.last(t).Text
	for _, want := range []string{"✅ Milk: 2 l = 80.00", "❓ Batteries", "no matching product", "/confirm"} {
		if !strings.Contains(preview, want) {
			t.Errorf("preview %q does not contain %q", preview, want)
		}
	}

	bot.processMessage(ctx, message(42, "/confirm"))
	confirmed := api.last(t).Text
	for _, want := range []string{"Added 1 products", "Skipped 1 lines", "Over budget by 40.00"} {
		if !strings.Contains(confirmed, want) {
			t.Errorf("reply %q does not contain %q", confirmed, want)
		}
	}

	familyID, err := bot.familyFor(ctx, 42)
	if err != nil {
		t.Fatalf("familyFor failed: %v", err)
	}
	lots, err := bot.engine.Inventory.List(ctx, familyID, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(lots) != 1 || lots[0].Quantity != 2 || lots[0].Unit != units.Liter {
		t.Errorf("expected 2 l of milk in the pantry, got %+v", lots)
	}

	bot.processMessage(ctx, message(42, "/confirm"))
	if !strings.Contains(api.last(t).Text, "Not found") {
		t.Error("a receipt must only be booked once")
	}
}

func TestHandleWebhook(t *testing.T) {
	bot, api, _ := setupBot(t)

	t.Run("Malformed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		bot.handleWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("Unauthorized", func(t *testing.T) {
		body := `{"update_id": 1, "message": {"message_id": 1, "from": {"id": 99}, "chat": {"id": 100}, "text": "/budget"}}`
		rec := httptest.NewRecorder()
		bot.handleWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		if len(api.sent) != 0 {
			t.Errorf("unauthorized users must be ignored, sent %d messages", len(api.sent))
		}
	})
}
