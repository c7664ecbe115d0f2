package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfchat/internal/config"
)

func testConfig(t *testing.T, secret string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("", map[string]string{
		"JWT_SECRET":     secret,
		"DB_DRIVER":      "sqlite",
		"DATABASE_URL":   filepath.Join(dir, "pdfchat.db"),
		"VECTOR_BACKEND": "chromem",
		"CHROMEM_PATH":   filepath.Join(dir, "chromem"),
		"UPLOAD_DIR":     filepath.Join(dir, "uploads"),
	})
	require.NoError(t, err)
	return cfg
}

func TestNewApp_LocalStackServesAPI(t *testing.T) {
	a, err := NewApp(context.Background(), testConfig(t, "test-secret"))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	h := a.Server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/signup",
		strings.NewReader(`{"email":"ada@example.com","password":"correct horse"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"email":"ada@example.com","password":"correct horse"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&login))
	require.NotEmpty(t, login.Token)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRun_RequiresSecret(t *testing.T) {
	err := Run(context.Background(), testConfig(t, ""))
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestServer_UnknownRootPathIsNotFound(t *testing.T) {
	a, err := NewApp(context.Background(), testConfig(t, "test-secret"))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
