package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/librarydrive/donation-desk/models"
	"github.com/librarydrive/donation-desk/services"
	"github.com/librarydrive/donation-desk/utils"
	"github.com/rs/zerolog"
)

// OrderGateway is the part of the payment gateway the handlers use.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req services.OrderRequest) (json.RawMessage, error)
	FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error)
}

// Deps collects what the HTTP handlers are built from. Hub may be nil, in
// which case /ws is not mounted.
type Deps struct {
	Gateway   OrderGateway
	Verifier  *services.SignatureVerifier
	Donations *services.DonationService
	Admin     *services.AdminAuth
	Hub       *Hub
	Log       zerolog.Logger
	DonateURL string

	// Served to the checkout page. A zero BundlePrice means the default.
	CheckoutKeyID string
	BundlePrice   float64
}

// APIRoutes holds the handlers for /api and the few root-level endpoints.
type APIRoutes struct {
	gateway        OrderGateway
	verifier       *services.SignatureVerifier
	donations      *services.DonationService
	admin          *services.AdminAuth
	hub            *Hub
	log            zerolog.Logger
	donateURL      string
	checkout       services.CheckoutConfig
	requestTimeout time.Duration
}

// NewAPIRoutes builds the handlers with a 15 second per-request timeout.
func NewAPIRoutes(deps Deps) *APIRoutes {
	bundlePrice := deps.BundlePrice
	if bundlePrice <= 0 {
		bundlePrice = services.DefaultBundlePrice
	}
	return &APIRoutes{
		gateway:   deps.Gateway,
		verifier:  deps.Verifier,
		donations: deps.Donations,
		admin:     deps.Admin,
		hub:       deps.Hub,
		log:       deps.Log,
		donateURL: deps.DonateURL,
		checkout: services.CheckoutConfig{
			KeyID:       deps.CheckoutKeyID,
			BundlePrice: bundlePrice,
			Currency:    "INR",
			CountryCode: services.DefaultCountryCode,
		},
		requestTimeout: 15 * time.Second,
	}
}

// SetupRoutes mounts every endpoint on router.
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	requireAdmin := RequireAdmin(ar.admin)

	api := router.Group("/api")
	{
		api.GET("/checkout/config", ar.GetCheckoutConfig)
		api.POST("/razorpay/order", ar.CreateOrder)
		api.POST("/razorpay/verify", ar.VerifyPayment)
		api.GET("/razorpay/orders/:id", requireAdmin, ar.FetchOrder)

		api.POST("/donations", ar.CreateDonation)
		api.GET("/donations", ar.ListDonations)
		api.PATCH("/donations", requireAdmin, ar.UpdateDonationStatus)
		api.DELETE("/donations", requireAdmin, ar.DeleteDonation)

		api.GET("/gpay", ar.GetGPay)
		api.PATCH("/gpay", requireAdmin, ar.UpdateGPay)

		api.GET("/stats", ar.GetStats)
		api.POST("/admin/login", ar.AdminLogin)
	}

	if ar.hub != nil {
		router.GET("/ws", ar.hub.HandleWS)
	}
	router.GET("/qrcode", ar.GenerateQRCode)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (ar *APIRoutes) withTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), ar.requestTimeout)
}

// respondError maps service errors onto status codes and JSON bodies.
func (ar *APIRoutes) respondError(c *gin.Context, err error, fallback string) {
	var (
		ve  *services.ValidationError
		nf  *services.NotFoundError
		ue  *services.UpstreamError
		cfg *services.ConfigError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "issues": ve.Issues})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.As(err, &ue):
		details := ue.Body
		if details == "" {
			details = ue.Error()
		}
		ar.log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback, "details": details})
	case errors.As(err, &cfg):
		ar.log.Error().Err(err).Msg("service misconfigured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Service misconfigured"})
	default:
		ar.log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// GetCheckoutConfig returns the public key and pricing the checkout page uses.
func (ar *APIRoutes) GetCheckoutConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ar.checkout)
}

// CreateOrder creates a Razorpay order for an amount in rupees.
func (ar *APIRoutes) CreateOrder(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}
	req, err := services.ParseOrderRequest(body)
	if err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) && len(ve.Issues) > 0 && (ve.Issues[0].Field == "amount" || ve.Issues[0].Field == "body") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
			return
		}
		ar.respondError(c, err, "Failed to create order")
		return
	}

	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	order, err := ar.gateway.CreateOrder(ctx, req)
	var cfg *services.ConfigError
	if errors.As(err, &cfg) {
		ar.log.Error().Err(err).Msg("razorpay keys not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Razorpay keys not configured"})
		return
	}
	if err != nil {
		ar.respondError(c, err, "Failed to create order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// VerifyPayment checks the checkout callback signature. A mismatch is ok:false,
// not an error.
func (ar *APIRoutes) VerifyPayment(c *gin.Context) {
	var result services.PaymentResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Missing fields"})
		return
	}
	if result.OrderID == "" || result.PaymentID == "" || result.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Missing fields"})
		return
	}

	ok, err := ar.verifier.VerifyPayment(c.Request.Context(), result)
	if err != nil {
		ar.log.Error().Err(err).Msg("payment verification unavailable")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Key not configured"})
		return
	}
	if !ok {
		ar.log.Warn().Str("order_id", result.OrderID).Str("payment_id", result.PaymentID).Msg("payment signature mismatch")
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

// FetchOrder returns the gateway's view of an order for manual reconciliation.
func (ar *APIRoutes) FetchOrder(c *gin.Context) {
	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	order, err := ar.gateway.FetchOrder(ctx, c.Param("id"))
	if err != nil {
		var ue *services.UpstreamError
		if errors.As(err, &ue) && ue.Status == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		ar.respondError(c, err, "Failed to fetch order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CreateDonation records a donation from the public donate page.
func (ar *APIRoutes) CreateDonation(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	id, err := ar.donations.CreateFromJSON(ctx, body)
	if err != nil {
		ar.respondError(c, err, "Failed to create donation")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "id": id})
}

// ListDonations lists donations newest first. Contact details are only
// returned to the admin.
func (ar *APIRoutes) ListDonations(c *gin.Context) {
	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	donations, err := ar.donations.List(ctx, c.Query("visibility"), c.Query("limit"))
	if err != nil {
		ar.respondError(c, err, "Failed to fetch donations")
		return
	}
	if !isAdmin(c, ar.admin) {
		for i := range donations {
			donations[i].Email = ""
			donations[i].Phone = ""
		}
	}
	if donations == nil {
		donations = []models.Donation{}
	}
	c.JSON(http.StatusOK, gin.H{"donations": donations})
}

// UpdateDonationStatus marks a donation new or read. Admin only.
func (ar *APIRoutes) UpdateDonationStatus(c *gin.Context) {
	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	donation, err := ar.donations.UpdateStatus(ctx, req.ID, req.Status)
	if err != nil {
		ar.respondError(c, err, "Failed to update donation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "donation": donation})
}

// DeleteDonation removes a donation. Admin only. The id comes from ?id= or
// from a JSON body.
func (ar *APIRoutes) DeleteDonation(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		var body struct {
			ID string `json:"id"`
		}
		if raw, err := c.GetRawData(); err == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
		id = body.ID
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing id"})
		return
	}

	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	if err := ar.donations.Delete(ctx, id); err != nil {
		ar.respondError(c, err, "Failed to delete donation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetGPay returns the funds received through GPay, 0 until first set.
func (ar *APIRoutes) GetGPay(c *gin.Context) {
	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	amount, err := ar.donations.GPayAmount(ctx)
	if err != nil {
		ar.respondError(c, err, "Failed to fetch GPay amount")
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

// UpdateGPay overwrites the GPay amount. Admin only.
func (ar *APIRoutes) UpdateGPay(c *gin.Context) {
	var req struct {
		Amount *float64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid input",
			"issues": []services.Issue{{Field: "amount", Code: "invalid_type", Message: "expected number"}},
		})
		return
	}
	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	amount, err := ar.donations.SetGPayAmount(ctx, *req.Amount)
	if err != nil {
		ar.respondError(c, err, "Failed to update GPay amount")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "amount": amount})
}

// GetStats returns recorded funds plus the gpay amount.
func (ar *APIRoutes) GetStats(c *gin.Context) {
	ctx, cancel := ar.withTimeout(c)
	defer cancel()

	summary, err := ar.donations.Summary(ctx)
	if err != nil {
		ar.respondError(c, err, "Failed to fetch stats")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// AdminLogin exchanges the admin email and password for a bearer token.
func (ar *APIRoutes) AdminLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	token, expiresAt, err := ar.admin.Login(req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrAdminNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Admin login is not configured"})
		return
	case errors.Is(err, services.ErrInvalidCredentials):
		ar.log.Warn().Str("email", req.Email).Msg("admin login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	case err != nil:
		ar.respondError(c, err, "Failed to sign in")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expiresAt.UTC()})
}

// GenerateQRCode renders the donate page link as a PNG.
func (ar *APIRoutes) GenerateQRCode(c *gin.Context) {
	if ar.donateURL == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Donate URL is not configured"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "256"))
	if err != nil || size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid size"})
		return
	}

	png, err := utils.GenerateQRCode(ar.donateURL, size)
	if err != nil {
		ar.log.Error().Err(err).Msg("generate qr code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate QR code"})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}
