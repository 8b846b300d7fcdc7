package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rongwang/countersign-server/internal/models"
	"github.com/rongwang/countersign-server/internal/service"
	"github.com/rongwang/countersign-server/internal/storage"
	"go.uber.org/zap"
)

// Handler handles the HTTP requests
type Handler struct {
	service        service.Service
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, logger *zap.Logger, maxUploadBytes int64) *Handler {
	return &Handler{
		service:        svc,
		logger:         logger.With(zap.String("component", "api")),
		maxUploadBytes: maxUploadBytes,
	}
}

// SetupRoutes registers every route on router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/signup", h.SignUp)
	auth.POST("/login", h.Login)

	// the token in the path is the only credential of a signee
	sign := api.Group("/sign")
	sign.GET("/:token", h.GetSignPage)
	sign.POST("/:token", h.SignDocument)

	protected := api.Group("")
	protected.Use(AuthMiddleware())

	protected.POST("/signees", h.CreateSignee)
	protected.GET("/signees", h.ListSignees)

	protected.POST("/documents", h.CreateDocument)
	protected.GET("/documents", h.ListDocuments)
	protected.GET("/documents/:id", h.GetDocument)
	protected.GET("/documents/:id/download", h.DownloadDocument)
	protected.POST("/documents/:id/remind", h.RemindDocument)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Authentication handlers
func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.service.SignUp(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Signee handlers
func (h *Handler) CreateSignee(c *gin.Context) {
	var req models.CreateSigneeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.service.CreateSignee(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListSignees(c *gin.Context) {
	resp, err := h.service.ListSignees(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Document handlers

// CreateDocument expects a multipart form with name, comment, file and
// selections, the latter a JSON array of signee selections.
func (h *Handler) CreateDocument(c *gin.Context) {
	userID := c.GetString("userId")
	h.limitBody(c)

	req := models.CreateDocumentRequest{
		Name:    c.PostForm("name"),
		Comment: c.PostForm("comment"),
	}
	if raw := c.PostForm("selections"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Selections); err != nil {
			badRequest(c, "selections must be a JSON array: "+err.Error())
			return
		}
		if err := binding.Validator.ValidateStruct(req.Selections); err != nil {
			badRequest(c, "Invalid selections: "+err.Error())
			return
		}
	}

	var file io.Reader
	header, err := c.FormFile("file")
	switch {
	case err == nil:
		f, openErr := header.Open()
		if openErr != nil {
			badRequest(c, "Unreadable file upload")
			return
		}
		defer f.Close()
		file = f
		req.Filename = header.Filename
		req.Size = header.Size
	case !errors.Is(err, http.ErrMissingFile):
		uploadError(c, err, "Invalid multipart form: "+err.Error())
		return
	}

	resp, err := h.service.CreateDocument(c.Request.Context(), userID, req, file)
	if err != nil {
		if resp != nil && errors.Is(err, service.ErrDispatchFailure) {
			resp.Status = "warning"
			resp.Code = "DISPATCH_FAILED"
			c.JSON(http.StatusAccepted, resp)
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListDocuments(c *gin.Context) {
	resp, err := h.service.ListDocuments(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetDocument(c *gin.Context) {
	resp, err := h.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DownloadDocument(c *gin.Context) {
	rc, filename, err := h.service.OpenDocumentFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer rc.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	c.DataFromReader(http.StatusOK, -1, storage.ContentType(filename), rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

func (h *Handler) RemindDocument(c *gin.Context) {
	resp, err := h.service.SendReminder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Signing handlers
func (h *Handler) GetSignPage(c *gin.Context) {
	resp, err := h.service.GetSignPage(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) SignDocument(c *gin.Context) {
	h.limitBody(c)

	header, err := c.FormFile("signed_file")
	if err != nil {
		uploadError(c, err, "signed_file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		badRequest(c, "Unreadable file upload")
		return
	}
	defer f.Close()

	resp, err := h.service.SignDocument(c.Request.Context(), c.Param("token"), header.Filename, header.Size, f)
	if err != nil {
		if resp != nil && errors.Is(err, service.ErrDispatchFailure) {
			resp.Status = "warning"
			resp.Code = "DISPATCH_FAILED"
			c.JSON(http.StatusAccepted, resp)
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) limitBody(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
}

// writeError maps service errors to status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]string, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			details = append(details, p.Code+": "+p.Message)
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "VALIDATION_FAILED",
			Message: "The document could not be created",
			Details: details,
		})
	case errors.Is(err, service.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, service.ErrAlreadySigned):
		errorJSON(c, http.StatusConflict, "ALREADY_SIGNED", "This document was already signed")
	case errors.Is(err, service.ErrEmailTaken):
		errorJSON(c, http.StatusConflict, "EMAIL_TAKEN", "Email already registered")
	case errors.Is(err, service.ErrInvalidCredentials):
		errorJSON(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, service.ErrNothingToSend):
		errorJSON(c, http.StatusConflict, "NOTHING_TO_SEND", "Every signee has already signed")
	case errors.Is(err, service.ErrDispatchFailure):
		h.logger.Error("Notification failed", zap.Error(err))
		errorJSON(c, http.StatusBadGateway, "DISPATCH_FAILED", "The notification could not be sent")
	default:
		h.logger.Error("Request failed", zap.String("route", c.FullPath()), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// uploadError answers a failed multipart read. Gin's form accessors hide the
// body limit error until the file is requested, so it is checked here.
func uploadError(c *gin.Context, err error, message string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		errorJSON(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload too large")
		return
	}
	badRequest(c, message)
}

func badRequest(c *gin.Context, message string) {
	errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", message)
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}
