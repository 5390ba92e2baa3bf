package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Phone and Email are pointers so users
// reached only through chat platforms store NULL and stay out of the unique
// indexes.
type UserModel struct {
	ID                string  `gorm:"primaryKey"`
	Name              string  `gorm:"not null"`
	Phone             *string `gorm:"uniqueIndex"`
	Email             *string `gorm:"uniqueIndex"`
	PasswordHash      string
	Location          string
	PreferredLanguage string         `gorm:"not null;default:en"`
	FarmingInterests  datatypes.JSON `gorm:"type:jsonb"`
	FarmSize          string
	FarmingExperience string
	PreferredProvider string
	Status            string `gorm:"not null;default:active"`
	LastChannel       string
	LastRecipient     string
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

type IdentityModel struct {
	Channel    string     `gorm:"primaryKey"`
	ExternalID string     `gorm:"primaryKey"`
	UserID     string     `gorm:"not null;index"`
	User       *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	CreatedAt  time.Time  `gorm:"not null"`
}

type ConversationModel struct {
	ID           string     `gorm:"primaryKey"`
	UserID       string     `gorm:"not null;index:idx_conversation_user_time,priority:1"`
	User         *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	SessionID    string     `gorm:"index"`
	Channel      string     `gorm:"not null;default:web"`
	Message      string     `gorm:"type:text;not null"`
	Reply        string     `gorm:"type:text;not null"`
	Language     string     `gorm:"not null"`
	Intent       string
	Confidence   float64
	ProcessingMs int64
	ModelUsed    string
	RAGSources   datatypes.JSON `gorm:"type:jsonb"`
	Failed       bool           `gorm:"not null;default:false"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_conversation_user_time,priority:2"`
}

type DocumentModel struct {
	ID                string     `gorm:"primaryKey"`
	UserID            string     `gorm:"not null;uniqueIndex:idx_document_user_hash,priority:1"`
	User              *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	Filename          string     `gorm:"not null"`
	OriginalName      string     `gorm:"not null"`
	FileType          string     `gorm:"not null"`
	SizeBytes         int64      `gorm:"not null"`
	ContentHash       string     `gorm:"not null;uniqueIndex:idx_document_user_hash,priority:2"`
	StorageKey        string
	ChunkCount        int
	AgriculturalScore float64
	Summary           string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"not null"`
}

type SubscriptionModel struct {
	ID         string         `gorm:"primaryKey"`
	UserID     string         `gorm:"not null;index"`
	User       *UserModel     `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	Location   string         `gorm:"not null"`
	AlertTypes datatypes.JSON `gorm:"type:jsonb"`
	Frequency  string         `gorm:"not null;default:daily"`
	Active     bool           `gorm:"not null;default:true;index"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}
