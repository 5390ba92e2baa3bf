package account

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/store"
)

const testPassword = "Maize-Harvest-2024"

func newTestService(t *testing.T) (*Service, *store.GormStore) {
	t.Helper()
	st, err := store.NewGormStore("sqlite://" + filepath.Join(t.TempDir(), "account.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sessions, err := store.NewJWTSessionStore(strings.Repeat("s", 32), time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	svc, err := New(st, sessions)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, st
}

func TestRegisterNormalizesPhone(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	user, token, err := svc.Register(ctx, RegisterInput{
		Name:              "Ahmad  Ibrahim",
		Phone:             "8012345678",
		Location:          "taruni",
		PreferredLanguage: "HA",
		FarmingInterests:  []string{"Maize", "maize", " sorghum "},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token != "" {
		t.Fatalf("expected no token without password")
	}
	if user.Phone != "+2348012345678" || user.Name != "Ahmad Ibrahim" || user.PreferredLanguage != domain.LangHausa {
		t.Fatalf("unexpected user: %+v", user)
	}
	if len(user.FarmingInterests) != 2 {
		t.Fatalf("expected deduplicated interests, got %v", user.FarmingInterests)
	}
	stored, ok, err := st.GetUserByPhone(ctx, "+2348012345678")
	if err != nil || !ok || stored.ID != user.ID {
		t.Fatalf("stored user mismatch: %+v ok=%v err=%v", stored, ok, err)
	}

	_, _, err = svc.Register(ctx, RegisterInput{Name: "Someone Else", Phone: "0801 234 5678"})
	if !errors.Is(err, ErrPhoneTaken) {
		t.Fatalf("expected ErrPhoneTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	cases := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"short name", RegisterInput{Name: "A", Phone: "8012345678"}, "name"},
		{"digits in name", RegisterInput{Name: "Agent 007", Phone: "8012345678"}, "name"},
		{"bad phone", RegisterInput{Name: "Amina Bello", Phone: "12"}, "phone"},
		{"bad language", RegisterInput{Name: "Amina Bello", Phone: "8012345678", PreferredLanguage: "fr"}, "preferred_language"},
		{"bad email", RegisterInput{Name: "Amina Bello", Phone: "8012345678", Email: "amina"}, "email"},
		{"weak password", RegisterInput{Name: "Amina Bello", Phone: "8012345678", Password: "short"}, "password"},
	}
	for _, tc := range cases {
		_, _, err := svc.Register(context.Background(), tc.in)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != tc.field {
			t.Fatalf("%s: expected validation error on %s, got %v", tc.name, tc.field, err)
		}
	}
	if name, err := ValidateName("Ngozi O'Neil-Okafor Jr."); err != nil || name != "Ngozi O'Neil-Okafor Jr." {
		t.Fatalf("valid name rejected: %q %v", name, err)
	}
}

func TestLoginAndDeactivate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	user, token, err := svc.Register(ctx, RegisterInput{Name: "Amina Bello", Phone: "+234 803 111 2222", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a session token after registering with a password")
	}

	if _, _, err := svc.Login(ctx, "08031112222", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "08039999999", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown phone, got %v", err)
	}
	_, token, err = svc.Login(ctx, "08031112222", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got, err := svc.Authenticate(ctx, token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("authenticate: %+v %v", got, err)
	}

	if err := svc.Deactivate(ctx, user.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, token); err == nil {
		t.Fatalf("token still valid after deactivation")
	}
	if _, _, err := svc.Login(ctx, "08031112222", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("deactivated user logged in: %v", err)
	}
	profile, err := svc.Profile(ctx, user.ID)
	if err != nil || profile.Status != domain.UserDeactivated {
		t.Fatalf("expected soft-deactivated profile, got %+v %v", profile, err)
	}
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	user, _, err := svc.Register(ctx, RegisterInput{Name: "Chinedu Eze", Phone: "8055555555"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	loc := "Nsukka"
	lang := "ig"
	updated, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Location: &loc, PreferredLanguage: &lang})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Location != "Nsukka" || updated.PreferredLanguage != domain.LangIgbo || updated.Name != "Chinedu Eze" {
		t.Fatalf("unexpected profile: %+v", updated)
	}
	bad := "x"
	var verr *ValidationError
	if _, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Name: &bad}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "missing", ProfileUpdate{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRegisterReclaimsDeactivatedPhone(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	first, _, err := svc.Register(ctx, RegisterInput{Name: "Ahmad Ibrahim", Phone: "8012345678"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	// Revocation cutoffs are compared with second-precision token times.
	svc.now = func() time.Time { return time.Now().UTC().Add(-time.Minute) }
	if err := svc.Deactivate(ctx, first.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	again, token, err := svc.Register(ctx, RegisterInput{Name: "Musa Ibrahim", Phone: "08012345678", Password: testPassword})
	if err != nil {
		t.Fatalf("register after deactivation: %v", err)
	}
	if again.ID != first.ID || !again.Active() || again.Name != "Musa Ibrahim" {
		t.Fatalf("expected the deactivated row to be reclaimed, got %+v", again)
	}
	stored, ok, err := st.GetUserByPhone(ctx, "+2348012345678")
	if err != nil || !ok || !stored.Active() || stored.Name != "Musa Ibrahim" {
		t.Fatalf("stored user = %+v ok=%v err=%v", stored, ok, err)
	}
	if got, err := svc.Authenticate(ctx, token); err != nil || got.ID != first.ID {
		t.Fatalf("authenticate reclaimed user: %+v %v", got, err)
	}
	if _, _, err := svc.Register(ctx, RegisterInput{Name: "Someone Else", Phone: "8012345678"}); !errors.Is(err, ErrPhoneTaken) {
		t.Fatalf("active phone must stay taken, got %v", err)
	}
}

func TestRegisterRejectsTakenEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	if _, _, err := svc.Register(ctx, RegisterInput{Name: "Amina Bello", Phone: "8031112222", Email: "amina@example.com"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _, err := svc.Register(ctx, RegisterInput{Name: "Amina Musa", Phone: "8034445555", Email: "amina@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

type staticCatalog struct {
	ids []string
}

func (c staticCatalog) Providers() []string     { return c.ids }
func (c staticCatalog) DefaultProvider() string { return c.ids[0] }
func (c staticCatalog) HasProvider(id string) bool {
	for _, v := range c.ids {
		if v == strings.ToLower(strings.TrimSpace(id)) {
			return true
		}
	}
	return false
}

func TestSetPreferredProvider(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	svc.providers = staticCatalog{ids: []string{"openai", "gemini", "rules"}}
	user, _, err := svc.Register(ctx, RegisterInput{Name: "Ngozi Okafor", Phone: "08031234567"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if got := svc.AvailableProviders(user); got.Current != "openai" || len(got.Providers) != 3 {
		t.Fatalf("unexpected providers %+v", got)
	}
	var verr *ValidationError
	if _, err := svc.SetPreferredProvider(ctx, user.ID, "mistral"); !errors.As(err, &verr) || verr.Field != "provider" {
		t.Fatalf("expected provider validation error, got %v", err)
	}
	updated, err := svc.SetPreferredProvider(ctx, user.ID, " Gemini ")
	if err != nil || updated.PreferredProvider != "gemini" {
		t.Fatalf("set provider: %+v %v", updated, err)
	}
	stored, _, _ := st.GetUserByID(ctx, user.ID)
	if stored.PreferredProvider != "gemini" || svc.AvailableProviders(stored).Current != "gemini" {
		t.Fatalf("preference not persisted: %+v", stored)
	}
	if _, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Location: ptr("Enugu")}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if stored, _, _ = st.GetUserByID(ctx, user.ID); stored.PreferredProvider != "gemini" {
		t.Fatalf("profile edit dropped the provider preference")
	}
	if updated, err = svc.SetPreferredProvider(ctx, user.ID, "openai"); err != nil || updated.PreferredProvider != "" {
		t.Fatalf("choosing the default should clear the preference: %+v %v", updated, err)
	}

	bare, _ := newTestService(t)
	if _, err := bare.SetPreferredProvider(ctx, user.ID, "gemini"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error without a catalog, got %v", err)
	}
}

func TestStatsCountsActivity(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	user, _, err := svc.Register(ctx, RegisterInput{Name: "Musa Bello", Phone: "08051234567"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now().UTC()
	for id, failed := range map[string]bool{"c1": false, "c2": true} {
		err := st.AppendConversation(ctx, domain.Conversation{
			ID: id, UserID: user.ID, Channel: domain.ChannelWeb,
			Message: "maize?", Reply: "plant early", Language: domain.LangEnglish, Failed: failed, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := st.SaveDocument(ctx, domain.Document{ID: "d1", UserID: user.ID, Filename: "guide.txt", ContentHash: "h1", CreatedAt: now}); err != nil {
		t.Fatalf("save document: %v", err)
	}
	for _, sub := range []domain.WeatherSubscription{
		{ID: "s1", UserID: user.ID, Location: "Kano", Frequency: "daily", Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "s2", UserID: user.ID, Location: "Zaria", Frequency: "daily", Active: false, CreatedAt: now, UpdatedAt: now},
	} {
		if err := st.SaveSubscription(ctx, sub); err != nil {
			t.Fatalf("save subscription: %v", err)
		}
	}

	stats, err := svc.Stats(ctx, user.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats != (Stats{Conversations: 2, Documents: 1, ActiveAlerts: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func ptr[T any](v T) *T { return &v }
