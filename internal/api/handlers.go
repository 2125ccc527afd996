package api

import (
	"context"
	"net/http"
	"time"

	"github.com/24hmood24/checkserialnum/internal/core"
	"github.com/24hmood24/checkserialnum/internal/printer"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Probe is a named dependency check reported by /health.
type Probe func(ctx context.Context) error

// APIHandlers holds all HTTP handlers
type APIHandlers struct {
	services  *core.ServiceRegistry
	publicURL string
	checks    map[string]Probe
}

// NewAPIHandlers creates a new handler instance
func NewAPIHandlers(services *core.ServiceRegistry, publicURL string, checks map[string]Probe) *APIHandlers {
	return &APIHandlers{services: services, publicURL: publicURL, checks: checks}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request format",
		"code":    "invalid_request",
		"kind":    core.KindValidation,
		"details": err.Error(),
	})
}

// HealthCheck returns service health status
func (h *APIHandlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"timestamp":    time.Now(),
		"service":      "checkserial",
		"dependencies": deps,
	})
}

// --- Public endpoints ---

// checkResponse is the public view of a device check. It carries no owner
// or reporter identity.
type checkResponse struct {
	Status            core.DeviceStatus `json:"status"`
	SerialNumber      string            `json:"serialNumber"`
	DeviceType        core.DeviceType   `json:"deviceType,omitempty"`
	CertificateNumber string            `json:"certificateNumber,omitempty"`
	IssueDate         string            `json:"issueDate,omitempty"`
	ReportID          string            `json:"reportId,omitempty"`
	TheftDate         string            `json:"theftDate,omitempty"`
	ReportStatus      core.ReportStatus `json:"reportStatus,omitempty"`
}

func newCheckResponse(serial string, check *core.DeviceCheck) checkResponse {
	resp := checkResponse{Status: check.Status, SerialNumber: serial}
	if cert := check.Certificate; cert != nil {
		resp.SerialNumber = cert.SerialNumber
		resp.DeviceType = cert.DeviceType
		resp.CertificateNumber = cert.CertificateNumber
		resp.IssueDate = cert.IssueDate
	}
	if report := check.Device; report != nil {
		resp.SerialNumber = report.SerialNumber
		resp.DeviceType = report.DeviceType
		resp.ReportID = report.ReportID
		resp.TheftDate = report.TheftDate
		resp.ReportStatus = report.Status
	}
	return resp
}

// CheckDevice answers GET /check?serial= and POST /check.
func (h *APIHandlers) CheckDevice(c *gin.Context) {
	serial := c.Query("serial")
	if c.Request.Method == http.MethodPost {
		var req struct {
			SerialNumber string `json:"serialNumber"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		serial = req.SerialNumber
	}

	check, err := h.services.Resolver.CheckDevice(c.Request.Context(), serial)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newCheckResponse(serial, check))
}

// RecordPurchase registers a store purchase made by the buyer.
func (h *APIHandlers) RecordPurchase(c *gin.Context) {
	var req core.SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.CertificateID = ""

	cert, err := h.services.Transfers.Sell(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// FileReport files a theft report without a session.
func (h *APIHandlers) FileReport(c *gin.Context) {
	var req core.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	report, err := h.services.Theft.FileReport(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// UserExists tells a storefront whether an identity number has an account.
func (h *APIHandlers) UserExists(c *gin.Context) {
	lookup, err := h.services.Accounts.FindUserByNationalID(c.Request.Context(), c.Param("nationalId"))
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{"exists": lookup.Exists}
	if lookup.User != nil {
		resp["fullName"] = lookup.User.FullName
	}
	c.JSON(http.StatusOK, resp)
}

// --- Accounts ---

func (h *APIHandlers) RegisterUser(c *gin.Context) {
	var req core.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.services.Accounts.RegisterUser(c.Request.Context(), req, core.UserRegular)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *APIHandlers) Login(c *gin.Context) {
	var req struct {
		NationalID string `json:"nationalId"`
		Password   string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.services.Accounts.Login(c.Request.Context(), req.NationalID, req.Password)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// --- Owner endpoints ---

func (h *APIHandlers) MyDevices(c *gin.Context) {
	claims, _ := sessionFrom(c)
	devices, err := h.services.Accounts.UserDevices(c.Request.Context(), claims.NationalID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

func (h *APIHandlers) MyReports(c *gin.Context) {
	claims, _ := sessionFrom(c)
	reports, err := h.services.Accounts.UserReports(c.Request.Context(), claims.NationalID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (h *APIHandlers) MyProfile(c *gin.Context) {
	claims, _ := sessionFrom(c)
	user, err := h.services.Accounts.Profile(c.Request.Context(), claims.NationalID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile edits the caller's name, phone or password.
func (h *APIHandlers) UpdateProfile(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var req core.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.services.Accounts.UpdateProfile(c.Request.Context(), claims.NationalID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// AddDevice registers a device the caller already owns.
func (h *APIHandlers) AddDevice(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var req core.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.OwnerID = claims.NationalID

	cert, err := h.services.Transfers.RegisterDevice(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// SellCertificate sells a certificate the caller holds.
func (h *APIHandlers) SellCertificate(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var req struct {
		BuyerID       string          `json:"buyerId"`
		BuyerName     string          `json:"buyerName"`
		DeviceType    core.DeviceType `json:"deviceType"`
		PurchasePrice decimal.Decimal `json:"purchasePrice"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cert, err := h.services.Transfers.Sell(c.Request.Context(), core.SaleRequest{
		CertificateID: c.Param("id"),
		SellerID:      claims.NationalID,
		BuyerID:       req.BuyerID,
		BuyerName:     req.BuyerName,
		DeviceType:    req.DeviceType,
		PurchasePrice: req.PurchasePrice,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// ReportCertificate files a theft report for one of the caller's devices.
func (h *APIHandlers) ReportCertificate(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var req struct {
		ReporterPhone string `json:"reporterPhone"`
		TheftDate     string `json:"theftDate"`
		Location      string `json:"location"`
		TheftDetails  string `json:"theftDetails"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cert, err := h.services.Transfers.Certificate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if cert.BuyerID != claims.NationalID {
		c.Error(core.ErrNotCertificateOwner)
		return
	}

	report, err := h.services.Theft.FileReport(c.Request.Context(), core.ReportRequest{
		ReporterID:    claims.NationalID,
		ReporterPhone: req.ReporterPhone,
		DeviceType:    cert.DeviceType,
		SerialNumber:  cert.SerialNumber,
		TheftDate:     req.TheftDate,
		Location:      req.Location,
		TheftDetails:  req.TheftDetails,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (h *APIHandlers) RequestClosure(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var req core.ClosureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	report, err := h.services.Theft.RequestClosure(c.Request.Context(), c.Param("id"), claims.NationalID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CertificatePDF renders a printable certificate for its owner or an admin.
func (h *APIHandlers) CertificatePDF(c *gin.Context) {
	claims, _ := sessionFrom(c)
	cert, err := h.services.Transfers.Certificate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if cert.BuyerID != claims.NationalID && claims.UserType != string(core.UserAdmin) {
		c.Error(core.ErrNotCertificateOwner)
		return
	}

	pdf, err := printer.RenderCertificatePDF(cert, printer.VerifyURL(h.publicURL, cert.SerialNumber))
	if err != nil {
		c.Error(err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="certificate-`+cert.CertificateNumber+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// --- Admin endpoints ---

func (h *APIHandlers) CreateCertificate(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var req struct {
		SerialNumber     string          `json:"serialNumber"`
		DeviceType       core.DeviceType `json:"deviceType"`
		BuyerID          string          `json:"buyerId"`
		BuyerName        string          `json:"buyerName"`
		SellerNationalID string          `json:"sellerNationalId"`
		SellerPhone      string          `json:"sellerPhone"`
		PurchasePrice    decimal.Decimal `json:"purchasePrice"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cert, err := h.services.Transfers.CreatePurchaseCertificate(c.Request.Context(), core.CertificateDraft{
		SerialNumber:     req.SerialNumber,
		DeviceType:       req.DeviceType,
		BuyerID:          req.BuyerID,
		BuyerName:        req.BuyerName,
		SellerNationalID: req.SellerNationalID,
		SellerPhone:      req.SellerPhone,
		PurchasePrice:    req.PurchasePrice,
	}, claims.NationalID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

func (h *APIHandlers) Dashboard(c *gin.Context) {
	var q core.DashboardQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	data, err := h.services.Admin.GetAdminDashboardData(c.Request.Context(), q)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *APIHandlers) Stats(c *gin.Context) {
	stats, err := h.services.Admin.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *APIHandlers) History(c *gin.Context) {
	history, err := h.services.Admin.CertificateHistory(c.Request.Context(), c.Param("serial"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *APIHandlers) ApproveClosure(c *gin.Context) {
	claims, _ := sessionFrom(c)
	report, err := h.services.Theft.ApproveClosure(c.Request.Context(), c.Param("id"), claims.NationalID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *APIHandlers) RejectClosure(c *gin.Context) {
	claims, _ := sessionFrom(c)
	report, err := h.services.Theft.RejectClosure(c.Request.Context(), c.Param("id"), claims.NationalID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *APIHandlers) UpdateReport(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var upd core.ReportUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}

	report, err := h.services.Theft.UpdateReport(c.Request.Context(), c.Param("id"), claims.NationalID, upd)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}
