package domain

import "time"

// Language is one of the five supported reply languages.
type Language string

const (
	LangEnglish  Language = "en"
	LangHausa    Language = "ha"
	LangYoruba   Language = "yo"
	LangIgbo     Language = "ig"
	LangFulfulde Language = "ff"
)

// DefaultLanguage answers when nothing else decides the language.
const DefaultLanguage = LangEnglish

// SupportedLanguages lists every language the detector may return.
var SupportedLanguages = []Language{LangEnglish, LangHausa, LangYoruba, LangIgbo, LangFulfulde}

var languageNames = map[Language]string{
	LangEnglish:  "English",
	LangHausa:    "Hausa",
	LangYoruba:   "Yoruba",
	LangIgbo:     "Igbo",
	LangFulfulde: "Fulfulde",
}

// ParseLanguage accepts a language code in any case.
func ParseLanguage(code string) (Language, bool) {
	l := Language(normalizeCode(code))
	_, ok := languageNames[l]
	return l, ok
}

// Name returns the English name of the language.
func (l Language) Name() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return languageNames[DefaultLanguage]
}

// Channel identifies the platform a message arrived on.
type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelSMS       Channel = "sms"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTelegram  Channel = "telegram"
	ChannelDiscord   Channel = "discord"
	ChannelInstagram Channel = "instagram"
	ChannelEmail     Channel = "email"
)

// Channels is the fixed set of supported channels.
var Channels = []Channel{ChannelWeb, ChannelSMS, ChannelWhatsApp, ChannelTelegram, ChannelDiscord, ChannelInstagram, ChannelEmail}

// ParseChannel accepts a channel tag in any case.
func ParseChannel(tag string) (Channel, bool) {
	c := Channel(normalizeCode(tag))
	for _, known := range Channels {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// PhoneAddressed reports whether the channel's sender id is a phone number.
func (c Channel) PhoneAddressed() bool {
	return c == ChannelSMS || c == ChannelWhatsApp
}

type UserStatus string

const (
	UserActive      UserStatus = "active"
	UserDeactivated UserStatus = "deactivated"
)

// User is a farmer known to the system. Users are deactivated, never deleted.
type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Phone             string     `json:"phone,omitempty"`
	Email             string     `json:"email,omitempty"`
	PasswordHash      string     `json:"-"`
	Location          string     `json:"location,omitempty"`
	PreferredLanguage Language   `json:"preferredLanguage,omitempty"`
	FarmingInterests  []string   `json:"farmingInterests,omitempty"`
	FarmSize          string     `json:"farmSize,omitempty"`
	FarmingExperience string     `json:"farmingExperience,omitempty"`
	PreferredProvider string     `json:"preferredAiProvider,omitempty"`
	Status            UserStatus `json:"status"`
	LastChannel       Channel    `json:"lastChannel,omitempty"`
	LastRecipient     string     `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Active reports whether the user has not been deactivated.
func (u User) Active() bool {
	return u.Status != UserDeactivated
}

// Identity links a platform-specific sender id to a User.
type Identity struct {
	Channel    Channel   `json:"channel"`
	ExternalID string    `json:"externalId"`
	UserID     string    `json:"userId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Conversation is one inbound message and the reply it received.
// Rows are append-only.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId,omitempty"`
	Channel      Channel   `json:"channel"`
	Message      string    `json:"message"`
	Reply        string    `json:"reply"`
	Language     Language  `json:"language"`
	Intent       string    `json:"intent,omitempty"`
	Confidence   float64   `json:"confidence"`
	ProcessingMs int64     `json:"processingMs"`
	ModelUsed    string    `json:"modelUsed,omitempty"`
	RAGSources   []string  `json:"ragSources,omitempty"`
	Failed       bool      `json:"failed,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Document is an ingested file. Its chunks live in the vector index.
type Document struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Filename          string    `json:"filename"`
	OriginalName      string    `json:"originalName"`
	FileType          string    `json:"fileType"`
	SizeBytes         int64     `json:"sizeBytes"`
	ContentHash       string    `json:"contentHash"`
	StorageKey        string    `json:"-"`
	ChunkCount        int       `json:"chunkCount"`
	AgriculturalScore float64   `json:"agriculturalScore"`
	Summary           string    `json:"summary,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// DocumentStatus is reported by the upload and status endpoints.
type DocumentStatus string

const (
	DocumentProcessed  DocumentStatus = "processed"
	DocumentQueued     DocumentStatus = "queued"
	DocumentProcessing DocumentStatus = "processing"
	DocumentFailed     DocumentStatus = "failed"
)

// AlertType names one weather condition a subscriber wants to hear about.
type AlertType string

const (
	AlertHeavyRain AlertType = "heavy_rain"
	AlertHeat      AlertType = "heat"
	AlertCold      AlertType = "cold"
	AlertHighWind  AlertType = "high_wind"
	AlertDrought   AlertType = "drought"
)

// AlertTypes lists every known alert type.
var AlertTypes = []AlertType{AlertHeavyRain, AlertHeat, AlertCold, AlertHighWind, AlertDrought}

// ParseAlertType validates an alert type name.
func ParseAlertType(name string) (AlertType, bool) {
	a := AlertType(normalizeCode(name))
	for _, known := range AlertTypes {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// Subscription delivery frequencies.
const (
	FrequencyDaily      = "daily"
	FrequencyTwiceDaily = "twice_daily"
)

// WeatherSubscription asks for weather alerts for a location.
type WeatherSubscription struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId"`
	Location   string      `json:"location"`
	AlertTypes []AlertType `json:"alertTypes"`
	Frequency  string      `json:"frequency"`
	Active     bool        `json:"active"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Attachment is a file carried by an inbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	// Ref is a platform file handle that still has to be downloaded into Data.
	Ref string
}

// InboundMessage is the channel-independent form of an inbound event.
type InboundMessage struct {
	Channel     Channel
	SenderID    string
	DisplayName string
	Text        string
	Attachments []Attachment
	// Language is an explicit override, set only by the web chat.
	Language  Language
	SessionID string
}

// OutboundReply is what the router hands back to a channel adapter.
type OutboundReply struct {
	Channel     Channel
	Recipient   string
	UserID      string
	Text        string
	Language    Language
	WantVoice   bool
	VoiceURL    string
	DocumentID  string
	Failed      bool
	Model       string
	Suggestions []string
}
