package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 41720915

const sqliteScheme = "sqlite://"

// GormStore implements Store on Postgres, or on SQLite for local runs and
// tests (DSN "sqlite://path/to/file.db").
type GormStore struct {
	db       *gorm.DB
	postgres bool
}

// NewGormStore opens the database named by dsn and migrates the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database url required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{Logger: gormLog, TranslateError: true}

	var (
		db  *gorm.DB
		err error
		pg  bool
	)
	if path, ok := strings.CutPrefix(dsn, sqliteScheme); ok {
		db, err = gorm.Open(sqlite.Open(sqliteDSN(path)), cfg)
	} else {
		pg = true
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if !pg {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &IdentityModel{}, &ConversationModel{}, &DocumentModel{}, &SubscriptionModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if pg {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, postgres: pg}, nil
}

// DB exposes the connection so the pgvector index can share it.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Postgres reports whether the store runs on Postgres.
func (s *GormStore) Postgres() bool {
	return s.postgres
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user. A phone owned by another user yields
// ErrDuplicatePhone, an email owned by another user ErrDuplicateEmail.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
	if isUniqueViolation(err) {
		return s.duplicateUserErr(ctx, model)
	}
	return err
}

// UpdateUser rewrites the mutable profile fields. A non-empty Status is
// written too, which is how a deactivated user is reactivated.
func (s *GormStore) UpdateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	fields := map[string]any{
		"name":               model.Name,
		"phone":              model.Phone,
		"email":              model.Email,
		"password_hash":      model.PasswordHash,
		"location":           model.Location,
		"preferred_language": model.PreferredLanguage,
		"farming_interests":  model.FarmingInterests,
		"farm_size":          model.FarmSize,
		"farming_experience": model.FarmingExperience,
		"preferred_provider": model.PreferredProvider,
		"updated_at":         time.Now().UTC(),
	}
	if model.Status != "" {
		fields["status"] = model.Status
	}
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", u.ID).Updates(fields)
	if isUniqueViolation(res.Error) {
		return s.duplicateUserErr(ctx, model)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownUser
	}
	return nil
}

// DeactivateUser marks the user inactive. Rows are never deleted.
func (s *GormStore) DeactivateUser(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(domain.UserDeactivated),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownUser
	}
	return nil
}

// duplicateUserErr names the unique index a write collided with. Translated
// driver errors no longer carry the constraint name, so the email owner is
// looked up directly.
func (s *GormStore) duplicateUserErr(ctx context.Context, model UserModel) error {
	if model.Email != nil {
		var n int64
		err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ? AND id <> ?", *model.Email, model.ID).Count(&n).Error
		if err == nil && n > 0 {
			return ErrDuplicateEmail
		}
	}
	return ErrDuplicatePhone
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.findUser(ctx, "id = ?", id)
}

// GetUserByPhone looks up a user by E.164 phone.
func (s *GormStore) GetUserByPhone(ctx context.Context, phone string) (domain.User, bool, error) {
	return s.findUser(ctx, "phone = ?", phone)
}

// GetUserByEmail looks up a user by lower-cased email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.findUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *GormStore) findUser(ctx context.Context, query string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// TouchChannel remembers where the user last wrote from, used for alerts.
func (s *GormStore) TouchChannel(ctx context.Context, userID string, channel domain.Channel, recipient string) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).Updates(map[string]any{
		"last_channel":   string(channel),
		"last_recipient": recipient,
	}).Error
}

// LinkIdentity records that externalID on channel belongs to a user.
// Linking an already linked identity is a no-op.
func (s *GormStore) LinkIdentity(ctx context.Context, id domain.Identity) error {
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	model := IdentityModel{
		Channel:    string(id.Channel),
		ExternalID: id.ExternalID,
		UserID:     id.UserID,
		CreatedAt:  id.CreatedAt,
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
	if isForeignKeyViolation(err) {
		return ErrUnknownUser
	}
	return err
}

// GetIdentity resolves a platform sender id.
func (s *GormStore) GetIdentity(ctx context.Context, channel domain.Channel, externalID string) (domain.Identity, bool, error) {
	var model IdentityModel
	err := s.db.WithContext(ctx).Where("channel = ? AND external_id = ?", string(channel), externalID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, err
	}
	return domain.Identity{
		Channel:    domain.Channel(model.Channel),
		ExternalID: model.ExternalID,
		UserID:     model.UserID,
		CreatedAt:  model.CreatedAt,
	}, true, nil
}

// AppendConversation inserts one exchange. There is no update path.
func (s *GormStore) AppendConversation(ctx context.Context, c domain.Conversation) error {
	model := conversationToModel(c)
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
	if isForeignKeyViolation(err) {
		return ErrUnknownUser
	}
	return err
}

// ListConversations returns the newest exchanges first.
func (s *GormStore) ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	var models []ConversationModel
	tx := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// CountConversations counts every stored exchange, failed ones included.
func (s *GormStore) CountConversations(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ConversationModel{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SaveDocument inserts an ingested document.
func (s *GormStore) SaveDocument(ctx context.Context, d domain.Document) error {
	model := documentToModel(d)
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
	switch {
	case isUniqueViolation(err):
		return ErrDuplicateDocument
	case isForeignKeyViolation(err):
		return ErrUnknownUser
	}
	return err
}

// GetDocument returns a document by ID.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	return s.findDocument(ctx, "id = ?", id)
}

// GetDocumentByHash finds the user's document with the given content hash.
func (s *GormStore) GetDocumentByHash(ctx context.Context, userID, hash string) (domain.Document, bool, error) {
	return s.findDocument(ctx, "user_id = ? AND content_hash = ?", userID, hash)
}

func (s *GormStore) findDocument(ctx context.Context, query string, args ...any) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns the user's documents, oldest first.
func (s *GormStore) ListDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// CountDocuments returns how many documents the user has ingested.
func (s *GormStore) CountDocuments(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) CountActiveSubscriptions(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SubscriptionModel{}).Where("user_id = ? AND active = ?", userID, true).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SaveSubscription inserts or updates a weather subscription.
func (s *GormStore) SaveSubscription(ctx context.Context, sub domain.WeatherSubscription) error {
	model := subscriptionToModel(sub)
	err := s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"location", "alert_types", "frequency", "active", "updated_at"}),
	}).Create(&model).Error
	if isForeignKeyViolation(err) {
		return ErrUnknownUser
	}
	return err
}

// ListSubscriptions returns all of a user's subscriptions.
func (s *GormStore) ListSubscriptions(ctx context.Context, userID string) ([]domain.WeatherSubscription, error) {
	return s.listSubscriptions(ctx, "user_id = ?", userID)
}

// ListActiveSubscriptions returns active subscriptions of active users.
func (s *GormStore) ListActiveSubscriptions(ctx context.Context) ([]domain.WeatherSubscription, error) {
	return s.listSubscriptions(ctx,
		"active = ? AND user_id IN (?)", true,
		s.db.Model(&UserModel{}).Select("id").Where("status = ?", string(domain.UserActive)),
	)
}

func (s *GormStore) listSubscriptions(ctx context.Context, query string, args ...any) ([]domain.WeatherSubscription, error) {
	var models []SubscriptionModel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.WeatherSubscription, 0, len(models))
	for _, m := range models {
		res = append(res, subscriptionFromModel(m))
	}
	return res, nil
}

// SetSubscriptionActive toggles a subscription owned by userID. It reports
// false when no such subscription exists.
func (s *GormStore) SetSubscriptionActive(ctx context.Context, userID, id string, active bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&SubscriptionModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                u.ID,
		Name:              u.Name,
		Phone:             nullable(u.Phone),
		Email:             nullable(strings.ToLower(u.Email)),
		PasswordHash:      u.PasswordHash,
		Location:          u.Location,
		PreferredLanguage: string(u.PreferredLanguage),
		FarmingInterests:  marshalJSON(u.FarmingInterests),
		FarmSize:          u.FarmSize,
		FarmingExperience: u.FarmingExperience,
		PreferredProvider: u.PreferredProvider,
		Status:            string(u.Status),
		LastChannel:       string(u.LastChannel),
		LastRecipient:     u.LastRecipient,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	u := domain.User{
		ID:                m.ID,
		Name:              m.Name,
		PasswordHash:      m.PasswordHash,
		Location:          m.Location,
		PreferredLanguage: domain.Language(m.PreferredLanguage),
		FarmSize:          m.FarmSize,
		FarmingExperience: m.FarmingExperience,
		PreferredProvider: m.PreferredProvider,
		Status:            domain.UserStatus(m.Status),
		LastChannel:       domain.Channel(m.LastChannel),
		LastRecipient:     m.LastRecipient,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.Phone != nil {
		u.Phone = *m.Phone
	}
	if m.Email != nil {
		u.Email = *m.Email
	}
	unmarshalJSON(m.FarmingInterests, &u.FarmingInterests)
	return u
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:           c.ID,
		UserID:       c.UserID,
		SessionID:    c.SessionID,
		Channel:      string(c.Channel),
		Message:      c.Message,
		Reply:        c.Reply,
		Language:     string(c.Language),
		Intent:       c.Intent,
		Confidence:   c.Confidence,
		ProcessingMs: c.ProcessingMs,
		ModelUsed:    c.ModelUsed,
		RAGSources:   marshalJSON(c.RAGSources),
		Failed:       c.Failed,
		CreatedAt:    c.CreatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	c := domain.Conversation{
		ID:           m.ID,
		UserID:       m.UserID,
		SessionID:    m.SessionID,
		Channel:      domain.Channel(m.Channel),
		Message:      m.Message,
		Reply:        m.Reply,
		Language:     domain.Language(m.Language),
		Intent:       m.Intent,
		Confidence:   m.Confidence,
		ProcessingMs: m.ProcessingMs,
		ModelUsed:    m.ModelUsed,
		Failed:       m.Failed,
		CreatedAt:    m.CreatedAt,
	}
	unmarshalJSON(m.RAGSources, &c.RAGSources)
	return c
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:                d.ID,
		UserID:            d.UserID,
		Filename:          d.Filename,
		OriginalName:      d.OriginalName,
		FileType:          d.FileType,
		SizeBytes:         d.SizeBytes,
		ContentHash:       d.ContentHash,
		StorageKey:        d.StorageKey,
		ChunkCount:        d.ChunkCount,
		AgriculturalScore: d.AgriculturalScore,
		Summary:           d.Summary,
		CreatedAt:         d.CreatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:                m.ID,
		UserID:            m.UserID,
		Filename:          m.Filename,
		OriginalName:      m.OriginalName,
		FileType:          m.FileType,
		SizeBytes:         m.SizeBytes,
		ContentHash:       m.ContentHash,
		StorageKey:        m.StorageKey,
		ChunkCount:        m.ChunkCount,
		AgriculturalScore: m.AgriculturalScore,
		Summary:           m.Summary,
		CreatedAt:         m.CreatedAt,
	}
}

func subscriptionToModel(s domain.WeatherSubscription) SubscriptionModel {
	return SubscriptionModel{
		ID:         s.ID,
		UserID:     s.UserID,
		Location:   s.Location,
		AlertTypes: marshalJSON(s.AlertTypes),
		Frequency:  s.Frequency,
		Active:     s.Active,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func subscriptionFromModel(m SubscriptionModel) domain.WeatherSubscription {
	s := domain.WeatherSubscription{
		ID:        m.ID,
		UserID:    m.UserID,
		Location:  m.Location,
		Frequency: m.Frequency,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	unmarshalJSON(m.AlertTypes, &s.AlertTypes)
	return s
}

// Drivers without an error translator still surface the raw constraint text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func marshalJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func unmarshalJSON[T any](raw datatypes.JSON, dst *T) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
