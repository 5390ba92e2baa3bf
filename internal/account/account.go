// Package account registers farmers for the web client and manages their
// profiles and sessions.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/auth"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/store"
)

const (
	maxInterests      = 20
	maxInterestRunes  = 50
	maxShortFieldSize = 100
)

// ProviderCatalog lists the language models a user may choose from;
// *completion.Engine implements it.
type ProviderCatalog interface {
	Providers() []string
	DefaultProvider() string
	HasProvider(id string) bool
}

// Service implements registration, login and profile edits.
type Service struct {
	store     store.Store
	sessions  store.SessionStore
	providers ProviderCatalog
	now       func() time.Time
}

type Option func(*Service)

// WithProviders enables provider selection. Without it only the default
// provider can be chosen.
func WithProviders(c ProviderCatalog) Option {
	return func(s *Service) { s.providers = c }
}

// New builds the service. sessions may be nil, in which case Login fails
// with ErrNoSessions and registration returns no token.
func New(st store.Store, sessions store.SessionStore, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("store required")
	}
	s := &Service{store: st, sessions: sessions, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Name              string   `json:"name"`
	Phone             string   `json:"phone"`
	Password          string   `json:"password,omitempty"`
	Email             string   `json:"email,omitempty"`
	Location          string   `json:"location,omitempty"`
	PreferredLanguage string   `json:"preferred_language,omitempty"`
	FarmingInterests  []string `json:"farming_interests,omitempty"`
	FarmSize          string   `json:"farm_size,omitempty"`
	FarmingExperience string   `json:"farming_experience,omitempty"`
}

// Register creates a user. The phone number is stored in E.164 form so later
// SMS and WhatsApp messages from the same number resolve to this user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.User, string, error) {
	name, err := ValidateName(in.Name)
	if err != nil {
		return domain.User{}, "", err
	}
	phone, err := domain.NormalizePhone(in.Phone)
	if err != nil {
		return domain.User{}, "", invalid("phone", "must be a valid phone number")
	}
	email, err := validateEmail(in.Email)
	if err != nil {
		return domain.User{}, "", err
	}
	lang := domain.DefaultLanguage
	if strings.TrimSpace(in.PreferredLanguage) != "" {
		l, ok := domain.ParseLanguage(in.PreferredLanguage)
		if !ok {
			return domain.User{}, "", invalid("preferred_language", "must be one of en, ha, yo, ig, ff")
		}
		lang = l
	}
	interests, err := validateInterests(in.FarmingInterests)
	if err != nil {
		return domain.User{}, "", err
	}
	for field, v := range map[string]string{"location": in.Location, "farm_size": in.FarmSize, "farming_experience": in.FarmingExperience} {
		if utf8.RuneCountInString(strings.TrimSpace(v)) > maxShortFieldSize {
			return domain.User{}, "", invalid(field, fmt.Sprintf("must be at most %d characters", maxShortFieldSize))
		}
	}
	var hash string
	if in.Password != "" {
		if err := auth.ValidatePassword(in.Password); err != nil {
			return domain.User{}, "", invalid("password", err.Error())
		}
		if hash, err = auth.HashPassword(in.Password); err != nil {
			return domain.User{}, "", err
		}
	}

	existing, found, err := s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return domain.User{}, "", err
	}
	if found && existing.Active() {
		return domain.User{}, "", ErrPhoneTaken
	}

	now := s.now()
	user := domain.User{
		ID:                util.NewID(),
		Name:              name,
		Phone:             phone,
		Email:             email,
		PasswordHash:      hash,
		Location:          strings.TrimSpace(in.Location),
		PreferredLanguage: lang,
		FarmingInterests:  interests,
		FarmSize:          strings.TrimSpace(in.FarmSize),
		FarmingExperience: strings.TrimSpace(in.FarmingExperience),
		Status:            domain.UserActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if found {
		// A deactivated owner gives the number back: the row is reclaimed
		// with the new registration details.
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
		user.LastChannel = existing.LastChannel
		user.LastRecipient = existing.LastRecipient
		err = s.store.UpdateUser(ctx, user)
	} else {
		err = s.store.CreateUser(ctx, user)
	}
	if err != nil {
		return domain.User{}, "", registrationErr(err)
	}
	if found {
		util.LoggerFromContext(ctx).Info("user reactivated", "user_id", user.ID)
	} else {
		util.LoggerFromContext(ctx).Info("user registered", "user_id", user.ID)
	}

	var token string
	if s.sessions != nil && hash != "" {
		if token, err = s.sessions.NewSession(ctx, user.ID); err != nil {
			return domain.User{}, "", err
		}
	}
	return user, token, nil
}

// Login exchanges a phone number and password for a session token.
func (s *Service) Login(ctx context.Context, phone, password string) (domain.User, string, error) {
	if s.sessions == nil {
		return domain.User{}, "", ErrNoSessions
	}
	normalized, err := domain.NormalizePhone(phone)
	if err != nil || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := s.store.GetUserByPhone(ctx, normalized)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.Active() {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := s.sessions.NewSession(ctx, user.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// Logout revokes one session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if s.sessions == nil {
		return ErrNoSessions
	}
	return s.sessions.DeleteSession(ctx, token)
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.User, error) {
	if s.sessions == nil {
		return domain.User{}, ErrNoSessions
	}
	userID, ok, err := s.sessions.GetUserIDByToken(ctx, token)
	if err != nil || !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	user, found, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !found {
		return domain.User{}, ErrUserNotFound
	}
	if !user.Active() {
		return domain.User{}, ErrUserDisabled
	}
	return user, nil
}

// Profile returns the user record.
func (s *Service) Profile(ctx context.Context, userID string) (domain.User, error) {
	user, ok, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// ProfileUpdate carries the fields a user may change; nil means unchanged.
type ProfileUpdate struct {
	Name              *string   `json:"name,omitempty"`
	Email             *string   `json:"email,omitempty"`
	Location          *string   `json:"location,omitempty"`
	PreferredLanguage *string   `json:"preferred_language,omitempty"`
	FarmingInterests  *[]string `json:"farming_interests,omitempty"`
	FarmSize          *string   `json:"farm_size,omitempty"`
	FarmingExperience *string   `json:"farming_experience,omitempty"`
	Password          *string   `json:"password,omitempty"`
}

// UpdateProfile applies upd and returns the stored user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (domain.User, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if upd.Name != nil {
		if user.Name, err = ValidateName(*upd.Name); err != nil {
			return domain.User{}, err
		}
	}
	if upd.Email != nil {
		if user.Email, err = validateEmail(*upd.Email); err != nil {
			return domain.User{}, err
		}
	}
	if upd.PreferredLanguage != nil {
		lang, ok := domain.ParseLanguage(*upd.PreferredLanguage)
		if !ok {
			return domain.User{}, invalid("preferred_language", "must be one of en, ha, yo, ig, ff")
		}
		user.PreferredLanguage = lang
	}
	if upd.FarmingInterests != nil {
		if user.FarmingInterests, err = validateInterests(*upd.FarmingInterests); err != nil {
			return domain.User{}, err
		}
	}
	short := []struct {
		field string
		src   *string
		dst   *string
	}{
		{"location", upd.Location, &user.Location},
		{"farm_size", upd.FarmSize, &user.FarmSize},
		{"farming_experience", upd.FarmingExperience, &user.FarmingExperience},
	}
	for _, f := range short {
		if f.src == nil {
			continue
		}
		v := strings.TrimSpace(*f.src)
		if utf8.RuneCountInString(v) > maxShortFieldSize {
			return domain.User{}, invalid(f.field, fmt.Sprintf("must be at most %d characters", maxShortFieldSize))
		}
		*f.dst = v
	}
	if upd.Password != nil {
		if err := auth.ValidatePassword(*upd.Password); err != nil {
			return domain.User{}, invalid("password", err.Error())
		}
		if user.PasswordHash, err = auth.HashPassword(*upd.Password); err != nil {
			return domain.User{}, err
		}
	}
	user.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return domain.User{}, registrationErr(err)
	}
	if upd.Password != nil && s.sessions != nil {
		if err := s.sessions.RevokeUserSessions(ctx, userID, s.now()); err != nil {
			util.LoggerFromContext(ctx).Warn("revoke sessions after password change failed", "user_id", userID, "err", err)
		}
	}
	return user, nil
}

// Providers is the provider list shown to clients.
type Providers struct {
	Providers []string `json:"providers"`
	Default   string   `json:"default"`
	Current   string   `json:"current"`
}

// AvailableProviders lists the selectable providers and which one answers
// for user.
func (s *Service) AvailableProviders(user domain.User) Providers {
	out := Providers{Providers: []string{}}
	if s.providers != nil {
		out.Providers = s.providers.Providers()
		out.Default = s.providers.DefaultProvider()
	}
	out.Current = out.Default
	if user.PreferredProvider != "" && s.providers != nil && s.providers.HasProvider(user.PreferredProvider) {
		out.Current = user.PreferredProvider
	}
	return out
}

// SetPreferredProvider stores the user's provider choice. An empty value
// returns the user to the default provider.
func (s *Service) SetPreferredProvider(ctx context.Context, userID, provider string) (domain.User, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != "" && (s.providers == nil || !s.providers.HasProvider(provider)) {
		return domain.User{}, invalid("provider", "is not an available AI provider")
	}
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if s.providers != nil && provider == s.providers.DefaultProvider() {
		provider = ""
	}
	user.PreferredProvider = provider
	user.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	util.LoggerFromContext(ctx).Info("ai provider preference set", "user_id", userID, "provider", provider)
	return user, nil
}

// Stats summarizes a user's activity for the dashboard.
type Stats struct {
	Conversations int64 `json:"conversations"`
	Documents     int64 `json:"documents"`
	ActiveAlerts  int64 `json:"active_alerts"`
}

func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	var st Stats
	var err error
	if st.Conversations, err = s.store.CountConversations(ctx, userID); err != nil {
		return Stats{}, fmt.Errorf("count conversations: %w", err)
	}
	if st.Documents, err = s.store.CountDocuments(ctx, userID); err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}
	if st.ActiveAlerts, err = s.store.CountActiveSubscriptions(ctx, userID); err != nil {
		return Stats{}, fmt.Errorf("count subscriptions: %w", err)
	}
	return st, nil
}

// Deactivate soft-deletes the user and ends every session.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUnknownUser) {
			return ErrUserNotFound
		}
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeUserSessions(ctx, userID, s.now()); err != nil {
			return err
		}
	}
	util.LoggerFromContext(ctx).Info("user deactivated", "user_id", userID)
	return nil
}

func registrationErr(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicateEmail):
		return ErrEmailTaken
	case errors.Is(err, store.ErrDuplicatePhone):
		return ErrPhoneTaken
	}
	return err
}

// ValidateName accepts 2-100 letters, spaces, apostrophes, hyphens and dots.
func ValidateName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 100 {
		return "", invalid("name", "must be between 2 and 100 characters")
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !strings.ContainsRune(" '-.", r) {
			return "", invalid("name", "may only contain letters, spaces, apostrophes, hyphens and dots")
		}
	}
	return name, nil
}

func validateEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", invalid("email", "must be a valid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func validateInterests(in []string) ([]string, error) {
	if len(in) > maxInterests {
		return nil, invalid("farming_interests", fmt.Sprintf("at most %d entries", maxInterests))
	}
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		if utf8.RuneCountInString(v) > maxInterestRunes {
			return nil, invalid("farming_interests", fmt.Sprintf("entries must be at most %d characters", maxInterestRunes))
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}
