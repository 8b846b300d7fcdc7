package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rongwang/countersign-server/internal/api"
	"github.com/rongwang/countersign-server/internal/models"
	"github.com/rongwang/countersign-server/internal/notify"
	"github.com/rongwang/countersign-server/internal/repository"
	"github.com/rongwang/countersign-server/internal/service"
	"github.com/rongwang/countersign-server/internal/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	TestSiteURL    = "https://sign.example.com"
	TestAdminEmail = "office@example.com"
	testJWTSecret  = "test-secret-key"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router      *gin.Engine
	Repository  *repository.MemoryRepository
	Files       *storage.MemoryStore
	Sender      *notify.MemorySender
	Service     service.Service
	JWTSecret   []byte
	TestUserID  string
	TestUserJWT string
}

// SetupTestContext wires the API over the in-memory repository, file store
// and a recording mail sender.
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()
	logger := zap.NewNop()

	repo := repository.NewMemoryRepository()
	files := storage.NewMemoryStore()
	sender := notify.NewMemorySender()
	dispatcher := notify.NewDispatcher(sender, files, TestSiteURL, TestAdminEmail, logger)

	svc := service.NewDefaultService(repo, files, dispatcher, logger, testJWTSecret)
	handler := api.NewHandler(svc, logger, 1<<20)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.Recovery(logger), api.RequestLogger(logger), api.JWTSecretMiddleware([]byte(testJWTSecret)))
	handler.SetupRoutes(router)

	testUserID, token := createTestUser(t, repo)

	return &TestContext{
		Router:      router,
		Repository:  repo,
		Files:       files,
		Sender:      sender,
		Service:     svc,
		JWTSecret:   []byte(testJWTSecret),
		TestUserID:  testUserID,
		TestUserJWT: token,
	}
}

// AddSignee registers a signee directly in the repository
func (tc *TestContext) AddSignee(t *testing.T, name, email string) string {
	t.Helper()
	signee := &models.Signee{Name: name, Email: email}
	require.NoError(t, tc.Repository.CreateSignee(context.Background(), signee))
	return signee.ID
}

func createTestUser(t *testing.T, repo repository.Repository) (string, string) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("testpassword"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    "testuser@example.com",
		Name:     "Test User",
		Password: string(hashedPassword),
	}
	require.NoError(t, repo.CreateUser(context.Background(), user), "Failed to create test user")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	tokenString, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err, "Failed to generate JWT token")

	return user.ID, tokenString
}

// PerformRequest executes a JSON request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// FormFile is a file part of a multipart request
type FormFile struct {
	Field    string
	Filename string
	Content  string
}

// PerformMultipart posts a multipart form with optional file parts
func PerformMultipart(
	t *testing.T,
	r http.Handler,
	path string,
	fields map[string]string,
	files []FormFile,
	headers map[string]string,
) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.Field, f.Filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.Content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// DecodeJSON unmarshals a recorded response body into v
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}
