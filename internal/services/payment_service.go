package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/viper"

	"github.com/vaultgrails/backend/internal/middleware"
	"github.com/vaultgrails/backend/internal/models"
)

// TicketPackage is a purchasable ticket bundle. Prices are in cents.
type TicketPackage struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Tickets int64  `json:"tickets"`
	Price   int64  `json:"price"`
}

var ticketPackages = []TicketPackage{
	{ID: "package_100", Name: "Starter Pack", Tickets: 100, Price: 499},
	{ID: "package_250", Name: "Value Pack", Tickets: 250, Price: 999},
	{ID: "package_600", Name: "Power Pack", Tickets: 600, Price: 1999},
	{ID: "package_1500", Name: "Mega Pack", Tickets: 1500, Price: 4999},
	{ID: "package_25000", Name: "Whale Pack", Tickets: 25000, Price: 13999},
}

func packageByID(id string) (TicketPackage, bool) {
	for _, p := range ticketPackages {
		if p.ID == id {
			return p, true
		}
	}
	return TicketPackage{}, false
}

// webhookTolerance bounds the accepted timestamp skew on signed payloads.
const webhookTolerance = 5 * time.Minute

// PaymentService bridges the payment processor: checkout sessions go out
// over plain HTTP, credits come back through the signed webhook. Ledger
// writes on the webhook path are idempotent on the payment intent id.
type PaymentService struct {
	db         *sql.DB
	redis      *redis.Client
	ledger     *TicketLedgerService
	httpClient *http.Client
	apiBase    string
}

func NewPaymentService(db *sql.DB, redisClient *redis.Client, ledger *TicketLedgerService) *PaymentService {
	viper.SetDefault("stripe.api_base", "https://api.stripe.com")
	return &PaymentService{
		db:         db,
		redis:      redisClient,
		ledger:     ledger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBase:    viper.GetString("stripe.api_base"),
	}
}

// ListPackages returns the ticket package catalogue
// @Summary List ticket packages
// @Tags tickets
// @Produce json
// @Success 200 {object} object{packages=[]TicketPackage}
// @Router /tickets/packages [get]
func (s *PaymentService) ListPackages(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, map[string]any{"packages": ticketPackages})
}

// stripePost issues a form-encoded request to the processor API.
func (s *PaymentService) stripePost(path string, form url.Values, out any) error {
	req, err := http.NewRequest(http.MethodPost, s.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+viper.GetString("stripe.secret_key"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("processor returned %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

// ensureCustomer returns the user's processor customer id, creating and
// persisting one on first use.
func (s *PaymentService) ensureCustomer(userID int64) (string, error) {
	var email, customerID string
	err := s.db.QueryRow(`
		SELECT email, stripe_customer_id FROM users WHERE id = $1
	`, userID).Scan(&email, &customerID)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}

	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[userId]", strconv.FormatInt(userID, 10))

	var customer struct {
		ID string `json:"id"`
	}
	if err := s.stripePost("/v1/customers", form, &customer); err != nil {
		return "", err
	}

	if _, err := s.db.Exec(`
		UPDATE users SET stripe_customer_id = $1 WHERE id = $2
	`, customer.ID, userID); err != nil {
		return "", err
	}
	return customer.ID, nil
}

type checkoutSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *PaymentService) cacheCheckoutURL(sessionID, checkoutURL string) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("checkout:%s", sessionID)
	if err := s.redis.Set(context.Background(), key, checkoutURL, 24*time.Hour).Err(); err != nil {
		log.Printf("[PAYMENT] Failed to cache checkout url: %v", err)
	}
}

// CreateCheckoutRequest selects the package to buy
// @Description Checkout creation payload
type CreateCheckoutRequest struct {
	PackageID string `json:"packageId" example:"package_250"`
}

// CreateCheckout starts a one-time ticket purchase
// @Summary Create checkout session
// @Description Creates a processor checkout session for a ticket package
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateCheckoutRequest true "Package"
// @Success 200 {object} object{url=string,sessionId=string}
// @Failure 400 {object} services.ErrorResponse "Invalid package"
// @Router /payments/create-checkout [post]
func (s *PaymentService) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateCheckoutRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	pack, ok := packageByID(req.PackageID)
	if !ok {
		SendErrorResponse(w, "Invalid package", http.StatusBadRequest, nil)
		return
	}

	customerID, err := s.ensureCustomer(identity.ID)
	if err != nil {
		log.Printf("[PAYMENT] Customer setup failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to create checkout session", http.StatusInternalServerError, nil)
		return
	}

	frontendURL := viper.GetString("frontend.url")
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer", customerID)
	form.Set("client_reference_id", uuid.NewString())
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", pack.Name)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(pack.Price, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", frontendURL+"/dashboard?payment=success")
	form.Set("cancel_url", frontendURL+"/tickets?payment=cancelled")
	form.Set("metadata[userId]", strconv.FormatInt(identity.ID, 10))
	form.Set("metadata[packageId]", pack.ID)
	form.Set("metadata[tickets]", strconv.FormatInt(pack.Tickets, 10))

	var session checkoutSessionResponse
	if err := s.stripePost("/v1/checkout/sessions", form, &session); err != nil {
		log.Printf("[PAYMENT] Checkout session failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to create checkout session", http.StatusInternalServerError, nil)
		return
	}

	s.cacheCheckoutURL(session.ID, session.URL)
	log.Printf("[PAYMENT] Checkout session %s created for user %d (%s)", session.ID, identity.ID, pack.ID)
	SendJSON(w, http.StatusOK, map[string]string{
		"url":       session.URL,
		"sessionId": session.ID,
	})
}

// CreateSubscription starts a premium membership checkout
// @Summary Create subscription session
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{url=string,sessionId=string}
// @Router /payments/create-subscription [post]
func (s *PaymentService) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	customerID, err := s.ensureCustomer(identity.ID)
	if err != nil {
		log.Printf("[PAYMENT] Customer setup failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to create subscription", http.StatusInternalServerError, nil)
		return
	}

	frontendURL := viper.GetString("frontend.url")
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", customerID)
	form.Set("client_reference_id", uuid.NewString())
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", "Premium Membership")
	form.Set("line_items[0][price_data][recurring][interval]", "month")
	form.Set("line_items[0][price_data][unit_amount]", "799")
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", frontendURL+"/dashboard?subscription=success")
	form.Set("cancel_url", frontendURL+"/tickets?subscription=cancelled")
	form.Set("subscription_data[metadata][userId]", strconv.FormatInt(identity.ID, 10))

	var session checkoutSessionResponse
	if err := s.stripePost("/v1/checkout/sessions", form, &session); err != nil {
		log.Printf("[PAYMENT] Subscription session failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to create subscription", http.StatusInternalServerError, nil)
		return
	}

	s.cacheCheckoutURL(session.ID, session.URL)
	log.Printf("[PAYMENT] Subscription session %s created for user %d", session.ID, identity.ID)
	SendJSON(w, http.StatusOK, map[string]string{
		"url":       session.URL,
		"sessionId": session.ID,
	})
}

// CheckoutQR renders a checkout link as a QR code
// @Summary Checkout QR code
// @Description PNG QR code for a previously created checkout session, for cross-device payment
// @Tags payments
// @Produce png
// @Security BearerAuth
// @Param session query string true "Checkout session id"
// @Success 200 {file} file "PNG image"
// @Failure 404 {object} services.ErrorResponse "Unknown or expired session"
// @Router /payments/checkout-qr [get]
func (s *PaymentService) CheckoutQR(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		SendErrorResponse(w, "Missing session parameter", http.StatusBadRequest, nil)
		return
	}
	if s.redis == nil {
		SendErrorResponse(w, "Checkout QR unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	checkoutURL, err := s.redis.Get(r.Context(), fmt.Sprintf("checkout:%s", sessionID)).Result()
	if err == redis.Nil {
		SendErrorResponse(w, "Unknown or expired checkout session", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[PAYMENT] Checkout lookup failed: %v", err)
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	png, err := qrcode.Encode(checkoutURL, qrcode.Medium, 256)
	if err != nil {
		log.Printf("[PAYMENT] QR encoding failed: %v", err)
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// verifyStripeSignature checks the `t=<unix>,v1=<hex>` header against an
// HMAC-SHA256 of "<t>.<body>" and rejects stale timestamps.
func verifyStripeSignature(payload []byte, header, secret string, now time.Time) bool {
	if header == "" || secret == "" {
		return false
	}

	var timestamp int64
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(v)
			if err == nil {
				signatures = append(signatures, sig)
			}
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return false
	}

	skew := now.Sub(time.Unix(timestamp, 0))
	if skew > webhookTolerance || skew < -webhookTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := mac.Sum(nil)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return true
		}
	}
	return false
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	Metadata           map[string]string `json:"metadata"`
}

// HandleWebhook processes signed processor events
// @Summary Payment webhook
// @Description Verifies the event signature and applies ticket credits and subscription changes
// @Tags payments
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "t=<unix>,v1=<hmac>"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse "Bad signature or payload"
// @Router /payments/webhook [post]
func (s *PaymentService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		SendErrorResponse(w, "Failed to read payload", http.StatusBadRequest, nil)
		return
	}

	secret := viper.GetString("stripe.webhook_secret")
	if !verifyStripeSignature(payload, r.Header.Get("Stripe-Signature"), secret, time.Now()) {
		log.Printf("[WEBHOOK] Signature verification failed from %s", r.RemoteAddr)
		SendErrorResponse(w, "Invalid signature", http.StatusBadRequest, nil)
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		SendErrorResponse(w, "Invalid payload", http.StatusBadRequest, nil)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			SendErrorResponse(w, "Invalid payload", http.StatusBadRequest, nil)
			return
		}
		s.handleCheckoutCompleted(w, session)

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			SendErrorResponse(w, "Invalid payload", http.StatusBadRequest, nil)
			return
		}
		s.handleSubscriptionUpdate(w, sub)

	case "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			SendErrorResponse(w, "Invalid payload", http.StatusBadRequest, nil)
			return
		}
		s.handleSubscriptionCancelled(w, sub)

	default:
		log.Printf("[WEBHOOK] Unhandled event type %s", event.Type)
		SendJSON(w, http.StatusOK, map[string]any{"received": true, "handled": false})
	}
}

func (s *PaymentService) handleCheckoutCompleted(w http.ResponseWriter, session stripeCheckoutSession) {
	userID, err := strconv.ParseInt(session.Metadata["userId"], 10, 64)
	tickets, terr := strconv.ParseInt(session.Metadata["tickets"], 10, 64)
	if err != nil || terr != nil || session.PaymentIntent == "" || tickets <= 0 {
		log.Printf("[WEBHOOK] Checkout session %s missing metadata", session.ID)
		SendErrorResponse(w, "Missing session metadata", http.StatusBadRequest, nil)
		return
	}

	description := fmt.Sprintf("Purchased %s (%d tickets)", session.Metadata["packageId"], tickets)
	err = s.creditOnce(userID, tickets, models.EntryPurchase, description, session.PaymentIntent)
	if err == ErrAlreadyProcessed {
		log.Printf("[WEBHOOK] Replay of payment %s ignored", session.PaymentIntent)
		SendJSON(w, http.StatusOK, map[string]any{"received": true, "status": "already processed"})
		return
	}
	if err != nil {
		log.Printf("[WEBHOOK] Purchase credit failed for user %d payment %s: %v",
			userID, session.PaymentIntent, err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WEBHOOK] Credited %d tickets to user %d (payment %s)", tickets, userID, session.PaymentIntent)
	SendJSON(w, http.StatusOK, map[string]any{"received": true})
}

// creditOnce appends a ledger credit keyed by paymentID exactly once. The
// unique stripe_payment_id column backs the in-transaction existence check,
// so a replayed event cannot double-credit even across processes. Redis
// serves only as a fast path in front of the database check.
func (s *PaymentService) creditOnce(userID, amount int64, entryType, description, paymentID string) error {
	if s.redis != nil {
		cacheKey := fmt.Sprintf("stripe:payment:%s", paymentID)
		if seen, err := s.redis.Exists(context.Background(), cacheKey).Result(); err == nil && seen > 0 {
			return ErrAlreadyProcessed
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ledger.LockUserTx(tx, userID); err != nil {
		return err
	}

	var exists bool
	err = tx.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM ticket_transactions WHERE stripe_payment_id = $1)
	`, paymentID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyProcessed
	}

	if _, err := s.ledger.AppendTx(tx, models.LedgerEntry{
		UserID:          userID,
		Amount:          amount,
		Type:            entryType,
		Description:     description,
		StripePaymentID: paymentID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if s.redis != nil {
		cacheKey := fmt.Sprintf("stripe:payment:%s", paymentID)
		if err := s.redis.Set(context.Background(), cacheKey, "1", 72*time.Hour).Err(); err != nil {
			log.Printf("[WEBHOOK] Failed to cache payment id %s: %v", paymentID, err)
		}
	}
	return nil
}

func (s *PaymentService) handleSubscriptionUpdate(w http.ResponseWriter, sub stripeSubscription) {
	userID, err := strconv.ParseInt(sub.Metadata["userId"], 10, 64)
	if err != nil {
		log.Printf("[WEBHOOK] Subscription %s missing userId metadata", sub.ID)
		SendErrorResponse(w, "Missing subscription metadata", http.StatusBadRequest, nil)
		return
	}

	status := models.SubscriptionFree
	if sub.Status == "active" {
		status = models.SubscriptionPremium
	}
	if _, err := s.db.Exec(`
		UPDATE users SET subscription_status = $1 WHERE id = $2
	`, status, userID); err != nil {
		log.Printf("[WEBHOOK] Subscription status update failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process subscription", http.StatusInternalServerError, nil)
		return
	}

	if sub.Status == "active" {
		viper.SetDefault("subscription.monthly_tickets", 100)
		monthly := viper.GetInt64("subscription.monthly_tickets")

		// One grant per billing period: the period start disambiguates
		// renewal events from duplicate deliveries of the same event.
		grantKey := fmt.Sprintf("%s_%d", sub.ID, sub.CurrentPeriodStart)
		err := s.creditOnce(userID, monthly, models.EntrySubscription,
			"Monthly premium membership bonus tickets", grantKey)
		if err != nil && err != ErrAlreadyProcessed {
			log.Printf("[WEBHOOK] Subscription credit failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to process subscription", http.StatusInternalServerError, nil)
			return
		}
		if err == nil {
			log.Printf("[WEBHOOK] Subscription %s active: %d bonus tickets to user %d", sub.ID, monthly, userID)
		}
	}

	SendJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (s *PaymentService) handleSubscriptionCancelled(w http.ResponseWriter, sub stripeSubscription) {
	userID, err := strconv.ParseInt(sub.Metadata["userId"], 10, 64)
	if err != nil {
		log.Printf("[WEBHOOK] Subscription %s missing userId metadata", sub.ID)
		SendErrorResponse(w, "Missing subscription metadata", http.StatusBadRequest, nil)
		return
	}

	if _, err := s.db.Exec(`
		UPDATE users SET subscription_status = $1 WHERE id = $2
	`, models.SubscriptionFree, userID); err != nil {
		log.Printf("[WEBHOOK] Subscription cancel failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process subscription", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WEBHOOK] Subscription %s cancelled for user %d", sub.ID, userID)
	SendJSON(w, http.StatusOK, map[string]any{"received": true})
}
