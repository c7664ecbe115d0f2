package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

var (
	ErrEmptyQuery      = errors.New("query must not be empty")
	ErrInvalidVoteType = errors.New("vote_type must be upvote or downvote")
)

// AskResult is the persisted exchange for one question.
type AskResult struct {
	models.ChatAnswer
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
}

type ChatService struct {
	db       core.DbClient
	answerer core.Answerer
}

func NewChatService(db core.DbClient, answerer core.Answerer) *ChatService {
	return &ChatService{db: db, answerer: answerer}
}

func (s *ChatService) ownedDocument(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, core.ErrForbidden
	}
	return doc, nil
}

// Ask answers query against an owned document and stores both sides of the
// exchange once the answer is in.
func (s *ChatService) Ask(ctx context.Context, userID, docID, query string) (*AskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := s.ownedDocument(ctx, userID, docID); err != nil {
		return nil, err
	}

	userMsg := &models.ChatMessage{
		ID:         uuid.NewString(),
		DocumentID: docID,
		UserID:     userID,
		Role:       models.RoleUser,
		Content:    query,
		CreatedAt:  time.Now().UTC(),
	}

	// nothing is stored unless the question gets an answer
	answer, err := s.answerer.Answer(ctx, query, docID)
	if err != nil {
		log.Printf("ChatService: answering %q on document %s failed: %v", query, docID, err)
		return nil, fmt.Errorf("answer question: %w", err)
	}

	assistantMsg := &models.ChatMessage{
		ID:         uuid.NewString(),
		DocumentID: docID,
		UserID:     userID,
		Role:       models.RoleAssistant,
		Content:    answer.Response,
		Sources:    answer.Sources,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.CreateChatMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("store question: %w", err)
	}
	if err := s.db.CreateChatMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("store answer: %w", err)
	}

	return &AskResult{
		ChatAnswer:         answer,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
	}, nil
}

// History lists the conversation on a document, oldest first.
func (s *ChatService) History(ctx context.Context, userID, docID string, limit int) ([]models.ChatMessage, error) {
	if _, err := s.ownedDocument(ctx, userID, docID); err != nil {
		return nil, err
	}
	return s.db.ListChatMessages(ctx, docID, userID, limit)
}

func (s *ChatService) DeleteHistory(ctx context.Context, userID, docID string) error {
	if _, err := s.ownedDocument(ctx, userID, docID); err != nil {
		return err
	}
	return s.db.DeleteChatMessages(ctx, docID, userID)
}

// Vote records an upvote or downvote on a message of the user's own
// conversation and returns the updated message.
func (s *ChatService) Vote(ctx context.Context, userID, messageID, voteType string) (*models.ChatMessage, error) {
	if voteType != models.VoteUp && voteType != models.VoteDown {
		return nil, ErrInvalidVoteType
	}
	msg, err := s.db.GetChatMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.UserID != userID {
		return nil, core.ErrForbidden
	}
	return s.db.CastVote(ctx, &models.Vote{
		UserID:    userID,
		MessageID: messageID,
		VoteType:  voteType,
		CreatedAt: time.Now().UTC(),
	})
}
