package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appMiddleware "github.com/markdave123-py/pdfchat/internal/api/middlewares"
	"github.com/markdave123-py/pdfchat/internal/config"
	db "github.com/markdave123-py/pdfchat/internal/core/database"
	"github.com/markdave123-py/pdfchat/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/pdfchat/internal/core/object-client"
	"github.com/markdave123-py/pdfchat/internal/core/progress"
	"github.com/markdave123-py/pdfchat/internal/models"
	"github.com/markdave123-py/pdfchat/internal/services"
)

type queue struct {
	mu   sync.Mutex
	jobs []ingestion_engine.Job
}

func (q *queue) Start(context.Context, int) {}
func (q *queue) Enqueue(job ingestion_engine.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}
func (q *queue) ProcessOne(context.Context, ingestion_engine.Job) error { return nil }

type cannedAnswerer struct{}

func (cannedAnswerer) Answer(_ context.Context, query, docID string) (models.ChatAnswer, error) {
	return models.ChatAnswer{
		Response: "answer to " + query,
		Sources:  []models.Source{{PageNumber: 2, SourceDocumentID: docID, SimilarityScore: 0.7, TextPreview: "..."}},
	}, nil
}

type testEnv struct {
	router http.Handler
	db     *db.DatabaseClient
	queue  *queue
	hub    *progress.Hub
	jwt    *appMiddleware.JWT
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbc, err := db.NewDatabaseClient(context.Background(), &config.Config{
		DBDriver:    db.DriverSQLite,
		DatabaseURL: filepath.Join(dir, "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbc.Close() })

	store, err := objectclient.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	q := &queue{}
	hub := progress.NewHub(8)
	jwt := appMiddleware.NewJWT("test-secret", time.Hour)

	users := services.NewUserService(dbc)
	docs := services.NewDocumentService(dbc, store, q, hub)
	chat := services.NewChatService(dbc, cannedAnswerer{})

	auth := NewAuthHandler(users, jwt)
	docH := NewDocumentHandler(docs)
	chatH := NewChatHandler(chat)
	ws := NewProgressSocket(docs, nil)

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		api.Post("/signup", auth.Signup)
		api.Post("/login", auth.Login)
		api.With(jwt.QueryMiddleware).Get("/documents/{id}/progress/ws", ws.Serve)
		api.Group(func(p chi.Router) {
			p.Use(jwt.Middleware)
			p.Post("/documents/upload", docH.UploadDocument)
			p.Get("/documents", docH.GetDocuments)
			p.Get("/documents/{id}/file", docH.ViewFile)
			p.Get("/documents/{id}/progress", docH.GetProgress)
			p.Post("/chat/{id}/ask", chatH.Ask)
			p.Get("/chat/{id}/messages", chatH.Messages)
			p.Delete("/chat/{id}/messages", chatH.DeleteMessages)
			p.Post("/chat/messages/{messageID}/vote", chatH.Vote)
		})
	})

	return &testEnv{router: r, db: dbc, queue: q, hub: hub, jwt: jwt}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.jwt.Issue(userID)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, userID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedDocument(t *testing.T, id, userID string) {
	t.Helper()
	require.NoError(t, e.db.CreateDocument(context.Background(), &models.Document{
		ID: id, UserID: userID, FileName: "a.pdf", StoragePath: userID + "/" + id + "_a.pdf",
		ContentType: "application/pdf", Processed: true, ChunkCount: 3,
	}))
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)
	creds := map[string]string{"email": "ada@example.com", "password": "correct horse"}

	rec := env.do(t, http.MethodPost, "/api/signup", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/signup", "", creds)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	_, err := env.jwt.Parse(out["token"])
	assert.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "ada@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "u1", "notes.txt", "plain text")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.queue.jobs)

	rec = env.upload(t, "u1", "report.pdf", "%PDF-1.4")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out["document_id"])
	assert.NotEmpty(t, out["message"])

	require.Len(t, env.queue.jobs, 1)
	assert.Equal(t, out["document_id"], env.queue.jobs[0].DocumentID)

	rec = env.do(t, http.MethodGet, "/api/documents/"+out["document_id"]+"/progress", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ev models.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, 0, ev.Percent)
	assert.False(t, ev.Terminal)
}

func TestViewFileQuotesFilename(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "u1", `we"ird name.pdf`, "%PDF-1.4")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, env.queue.jobs, 1)
	job := env.queue.jobs[0]
	require.NoError(t, env.db.CreateDocument(context.Background(), &models.Document{
		ID: job.DocumentID, UserID: job.UserID, FileName: job.FileName, StoragePath: job.StoragePath,
		ContentType: job.ContentType, Processed: true, ChunkCount: 1,
	}))

	rec = env.do(t, http.MethodGet, "/api/documents/"+job.DocumentID+"/file", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "inline", disposition)
	assert.Equal(t, `we"ird_name.pdf`, params["filename"])

	rec = env.do(t, http.MethodGet, "/api/documents/"+job.DocumentID+"/file", "u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/documents/upload", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProgressSnapshotFromRecord(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "d1", "u1")

	rec := env.do(t, http.MethodGet, "/api/documents/d1/progress", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ev models.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, 100, ev.Percent)
	assert.True(t, ev.Terminal)
	assert.Equal(t, "/chat/d1", ev.Redirect)

	rec = env.do(t, http.MethodGet, "/api/documents/unknown/progress", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t, "d1", "u1")

	rec := env.do(t, http.MethodPost, "/api/chat/d1/ask", "u1", map[string]string{"query": "What is it?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res services.AskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "answer to What is it?", res.Response)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, 2, res.Sources[0].PageNumber)

	rec = env.do(t, http.MethodPost, "/api/chat/d1/ask", "u2", map[string]string{"query": "mine?"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat/missing/ask", "u1", map[string]string{"query": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/chat/d1/messages", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []models.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	rec = env.do(t, http.MethodPost, "/api/chat/messages/"+res.AssistantMessageID+"/vote", "u1", map[string]string{"vote_type": "upvote"})
	require.Equal(t, http.StatusOK, rec.Code)
	var voted models.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &voted))
	assert.Equal(t, 1, voted.Upvotes)

	rec = env.do(t, http.MethodPost, "/api/chat/messages/"+res.AssistantMessageID+"/vote", "u1", map[string]string{"vote_type": "meh"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/chat/d1/messages", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/chat/d1/messages?limit=5", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestProgressWebsocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/documents/d9/progress/ws?token=" + env.token(t, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers("d9", "u1") == 1 }, time.Second, 5*time.Millisecond)

	env.hub.Publish(models.Progress{DocumentID: "d9", UserID: "u1", Percent: 10, Status: "Starting PDF processing..."})
	env.hub.Publish(models.Progress{DocumentID: "d9", UserID: "u2", Percent: 50, Status: "someone else"})
	env.hub.Publish(models.Progress{DocumentID: "d9", UserID: "u1", Percent: 100, Status: "Complete", Redirect: "/chat/d9", Terminal: true})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, last models.Progress
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, 10, first.Percent)
	assert.Equal(t, 100, last.Percent)
	assert.True(t, last.Terminal)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestProgressWebsocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/documents/d9/progress/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
