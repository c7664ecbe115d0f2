package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/progress"
	"github.com/markdave123-py/pdfchat/internal/models"
)

func TestUserService_SignupAndAuthenticate(t *testing.T) {
	svc := NewUserService(newMemDB())
	ctx := context.Background()

	u, err := svc.Signup(ctx, " Ada@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = svc.Signup(ctx, "ada@example.com", "another password")
	assert.ErrorIs(t, err, core.ErrUserExists)

	got, err := svc.Authenticate(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "ghost@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_SignupValidation(t *testing.T) {
	svc := NewUserService(newMemDB())
	_, err := svc.Signup(context.Background(), "not-an-email", "long enough")
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = svc.Signup(context.Background(), "a@b.co", "short")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestDocumentService_Upload(t *testing.T) {
	store := newMemStore()
	q := &queue{}
	hub := progress.NewHub(4)
	svc := NewDocumentService(newMemDB(), store, q, hub)

	id, err := svc.Upload(context.Background(), "u1", "My Report.PDF", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	key := "u1/" + id + "_My_Report.PDF"
	assert.Contains(t, store.files, key)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, id, q.jobs[0].DocumentID)
	assert.Equal(t, "u1", q.jobs[0].UserID)
	assert.Equal(t, key, q.jobs[0].StoragePath)

	ev, ok := svc.Progress(id, "u1")
	require.True(t, ok)
	assert.Equal(t, 0, ev.Percent)
	assert.False(t, ev.Terminal)
}

func TestDocumentService_UploadRejectsNonPDF(t *testing.T) {
	store := newMemStore()
	q := &queue{}
	svc := NewDocumentService(newMemDB(), store, q, progress.NewHub(4))

	for _, name := range []string{"notes.txt", "archive.pdf.zip", ""} {
		_, err := svc.Upload(context.Background(), "u1", name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrNotPDF, name)
	}
	assert.Empty(t, store.files)
	assert.Empty(t, q.jobs)
}

func TestDocumentService_StoreDoesNotSchedule(t *testing.T) {
	store := newMemStore()
	q := &queue{}
	hub := progress.NewHub(4)
	svc := NewDocumentService(newMemDB(), store, q, hub)

	job, err := svc.Store(context.Background(), "u1", "/tmp/dir/paper.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", job.FileName)
	assert.Equal(t, "application/pdf", job.ContentType)
	assert.Contains(t, store.files, job.StoragePath)

	assert.Empty(t, q.jobs)
	_, ok := svc.Progress(job.DocumentID, "u1")
	assert.False(t, ok)
}

func TestDocumentService_OwnerCheck(t *testing.T) {
	db := newMemDB()
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, db.CreateDocument(ctx, &models.Document{ID: "d1", UserID: "u1", StoragePath: "u1/d1_a.pdf"}))
	require.NoError(t, store.Save(ctx, "u1/d1_a.pdf", strings.NewReader("%PDF"), "application/pdf"))
	svc := NewDocumentService(db, store, &queue{}, progress.NewHub(4))

	_, f, err := svc.OpenFile(ctx, "u1", "d1")
	require.NoError(t, err)
	b, err := io.ReadAll(io.NewSectionReader(f, 0, f.Size()))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(b))
	require.NoError(t, f.Close())

	_, _, err = svc.OpenFile(ctx, "u2", "d1")
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = svc.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestChatService_AskPersistsExchange(t *testing.T) {
	db := newMemDB()
	ctx := context.Background()
	require.NoError(t, db.CreateDocument(ctx, &models.Document{ID: "d1", UserID: "u1"}))

	ans := &cannedAnswerer{answer: models.ChatAnswer{
		Response: "It grew 12%.",
		Sources:  []models.Source{{PageNumber: 4, SourceDocumentID: "d1", SimilarityScore: 0.9}},
	}}
	svc := NewChatService(db, ans)

	res, err := svc.Ask(ctx, "u1", "d1", "  How much did revenue grow?  ")
	require.NoError(t, err)
	assert.Equal(t, "It grew 12%.", res.Response)
	assert.Equal(t, []string{"How much did revenue grow?"}, ans.asked)

	history, err := svc.History(ctx, "u1", "d1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, res.UserMessageID, history[0].ID)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, res.AssistantMessageID, history[1].ID)
	assert.Equal(t, 4, history[1].Sources[0].PageNumber)

	require.NoError(t, svc.DeleteHistory(ctx, "u1", "d1"))
	history, err = svc.History(ctx, "u1", "d1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatService_AskErrors(t *testing.T) {
	db := newMemDB()
	ctx := context.Background()
	require.NoError(t, db.CreateDocument(ctx, &models.Document{ID: "d1", UserID: "u1"}))

	svc := NewChatService(db, &cannedAnswerer{err: errors.New("index down")})

	_, err := svc.Ask(ctx, "u1", "d1", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Ask(ctx, "u2", "d1", "hi")
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = svc.Ask(ctx, "u1", "nope", "hi")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)

	_, err = svc.Ask(ctx, "u1", "d1", "hi")
	assert.Error(t, err)

	history, err := svc.History(ctx, "u1", "d1", 0)
	require.NoError(t, err)
	assert.Empty(t, history, "a failed answer must not leave the question behind")
}

func TestChatService_Vote(t *testing.T) {
	db := newMemDB()
	ctx := context.Background()
	require.NoError(t, db.CreateChatMessage(ctx, &models.ChatMessage{ID: "m1", DocumentID: "d1", UserID: "u1", Role: models.RoleAssistant}))
	svc := NewChatService(db, &cannedAnswerer{})

	msg, err := svc.Vote(ctx, "u1", "m1", models.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Upvotes)

	msg, err = svc.Vote(ctx, "u1", "m1", models.VoteDown)
	require.NoError(t, err)
	assert.Equal(t, 0, msg.Upvotes)
	assert.Equal(t, 1, msg.Downvotes)

	_, err = svc.Vote(ctx, "u1", "m1", "sideways")
	assert.ErrorIs(t, err, ErrInvalidVoteType)

	_, err = svc.Vote(ctx, "u2", "m1", models.VoteUp)
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = svc.Vote(ctx, "u1", "missing", models.VoteUp)
	assert.ErrorIs(t, err, core.ErrMessageNotFound)
}
