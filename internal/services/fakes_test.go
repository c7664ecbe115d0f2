package services

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/pdfchat/internal/models"
)

type memDB struct {
	mu       sync.Mutex
	users    map[string]*models.User
	docs     map[string]*models.Document
	messages []*models.ChatMessage
	votes    map[[2]string]string
}

func newMemDB() *memDB {
	return &memDB{
		users: map[string]*models.User{},
		docs:  map[string]*models.Document{},
		votes: map[[2]string]string{},
	}
}

func (m *memDB) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return core.ErrUserExists
	}
	cp := *u
	m.users[u.Email] = &cp
	return nil
}

func (m *memDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memDB) CreateDocument(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *memDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDB) ListDocumentsByUser(_ context.Context, userID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Document{}
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDB) CreateChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *memDB) GetChatMessage(_ context.Context, id string) (*models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, core.ErrMessageNotFound
}

func (m *memDB) ListChatMessages(_ context.Context, docID, userID string, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ChatMessage{}
	for _, msg := range m.messages {
		if msg.DocumentID == docID && msg.UserID == userID {
			out = append(out, *msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memDB) DeleteChatMessages(_ context.Context, docID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.DocumentID != docID || msg.UserID != userID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *memDB) CastVote(_ context.Context, v *models.Vote) (*models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID != v.MessageID {
			continue
		}
		k := [2]string{v.UserID, v.MessageID}
		prev := m.votes[k]
		if prev != v.VoteType {
			switch prev {
			case models.VoteUp:
				msg.Upvotes--
			case models.VoteDown:
				msg.Downvotes--
			}
			if v.VoteType == models.VoteUp {
				msg.Upvotes++
			} else {
				msg.Downvotes++
			}
			m.votes[k] = v.VoteType
		}
		cp := *msg
		return &cp, nil
	}
	return nil, core.ErrMessageNotFound
}

func (m *memDB) Close() error { return nil }

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore { return &memStore{files: map[string][]byte{}} }

func (s *memStore) Save(_ context.Context, key string, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = b
	return nil
}

func (s *memStore) Open(_ context.Context, key string) (core.StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return memFile{Reader: bytes.NewReader(b)}, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

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

type cannedAnswerer struct {
	answer models.ChatAnswer
	err    error
	asked  []string
}

func (c *cannedAnswerer) Answer(_ context.Context, query, _ string) (models.ChatAnswer, error) {
	c.asked = append(c.asked, query)
	return c.answer, c.err
}
