package store

import (
	"context"
	"errors"
	"time"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

var (
	// ErrDuplicatePhone is returned when an active user already owns the phone.
	ErrDuplicatePhone = errors.New("phone already registered")
	// ErrDuplicateEmail is returned when another user already owns the email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateDocument is returned when the user already ingested the same bytes.
	ErrDuplicateDocument = errors.New("document already ingested")
	// ErrUnknownUser is returned when a row would reference a missing user.
	ErrUnknownUser = errors.New("unknown user")
)

// Store is the Conversation Store: users, their channel identities, the
// append-only conversation log, ingested documents and weather subscriptions.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error
	DeactivateUser(ctx context.Context, id string) error
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByPhone(ctx context.Context, phone string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	TouchChannel(ctx context.Context, userID string, channel domain.Channel, recipient string) error

	// identities
	LinkIdentity(ctx context.Context, id domain.Identity) error
	GetIdentity(ctx context.Context, channel domain.Channel, externalID string) (domain.Identity, bool, error)

	// conversations
	AppendConversation(ctx context.Context, c domain.Conversation) error
	ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
	CountConversations(ctx context.Context, userID string) (int64, error)

	// documents
	SaveDocument(ctx context.Context, d domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	GetDocumentByHash(ctx context.Context, userID, hash string) (domain.Document, bool, error)
	ListDocuments(ctx context.Context, userID string) ([]domain.Document, error)
	CountDocuments(ctx context.Context, userID string) (int64, error)

	// weather subscriptions
	SaveSubscription(ctx context.Context, s domain.WeatherSubscription) error
	ListSubscriptions(ctx context.Context, userID string) ([]domain.WeatherSubscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]domain.WeatherSubscription, error)
	CountActiveSubscriptions(ctx context.Context, userID string) (int64, error)
	SetSubscriptionActive(ctx context.Context, userID, id string, active bool) (bool, error)
}

// SessionStore issues and validates web session tokens.
type SessionStore interface {
	NewSession(ctx context.Context, userID string) (string, error)
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteSession(ctx context.Context, token string) error
	RevokeUserSessions(ctx context.Context, userID string, since time.Time) error
}
