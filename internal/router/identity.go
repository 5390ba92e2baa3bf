package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Darknivht/agrisense-ai/internal/langdetect"
	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/store"
)

const defaultFarmerName = "Farmer"

// resolveUser finds the farmer behind an inbound message, creating one on
// first contact. Phone channels key on the normalized number, email on the
// address, and the remaining platforms on a linked identity.
func (r *Router) resolveUser(ctx context.Context, msg domain.InboundMessage, detected langdetect.Result) (domain.User, bool, error) {
	sender := strings.TrimSpace(msg.SenderID)
	if sender == "" {
		return domain.User{}, false, fmt.Errorf("%w: sender required", ErrValidation)
	}
	switch msg.Channel {
	case domain.ChannelWeb:
		user, ok, err := r.store.GetUserByID(ctx, sender)
		if err != nil {
			return domain.User{}, false, persistenceErr(ctx, "load user", err)
		}
		if !ok || !user.Active() {
			return domain.User{}, false, fmt.Errorf("%w: unknown user", ErrValidation)
		}
		return user, false, nil
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		if msg.Channel == domain.ChannelWhatsApp && !strings.HasPrefix(sender, "+") {
			sender = "+" + sender
		}
		phone, err := domain.NormalizePhone(sender)
		if err != nil {
			return domain.User{}, false, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return r.findOrCreate(ctx,
			func() (domain.User, bool, error) { return r.store.GetUserByPhone(ctx, phone) },
			func(u *domain.User) { u.Phone = phone },
			msg, detected)
	case domain.ChannelEmail:
		email := strings.ToLower(sender)
		return r.findOrCreate(ctx,
			func() (domain.User, bool, error) { return r.store.GetUserByEmail(ctx, email) },
			func(u *domain.User) { u.Email = email },
			msg, detected)
	default:
		return r.resolveByIdentity(ctx, msg, sender, detected)
	}
}

func (r *Router) findOrCreate(
	ctx context.Context,
	lookup func() (domain.User, bool, error),
	fill func(*domain.User),
	msg domain.InboundMessage,
	detected langdetect.Result,
) (domain.User, bool, error) {
	user, ok, err := lookup()
	if err != nil {
		return domain.User{}, false, persistenceErr(ctx, "load user", err)
	}
	if ok {
		return activeUser(user)
	}
	user = r.newUser(msg, detected)
	fill(&user)
	err = r.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicatePhone) {
		// Another message from the same contact created the user first.
		user, ok, err = lookup()
		if err == nil && ok {
			return activeUser(user)
		}
	}
	if err != nil {
		return domain.User{}, false, persistenceErr(ctx, "create user", err)
	}
	util.LoggerFromContext(ctx).Info("user created from inbound message", "user_id", user.ID)
	return user, true, nil
}

func (r *Router) resolveByIdentity(ctx context.Context, msg domain.InboundMessage, sender string, detected langdetect.Result) (domain.User, bool, error) {
	identity, ok, err := r.store.GetIdentity(ctx, msg.Channel, sender)
	if err != nil {
		return domain.User{}, false, persistenceErr(ctx, "load identity", err)
	}
	if ok {
		user, found, err := r.store.GetUserByID(ctx, identity.UserID)
		if err != nil {
			return domain.User{}, false, persistenceErr(ctx, "load user", err)
		}
		if found {
			return activeUser(user)
		}
	}
	user := r.newUser(msg, detected)
	if err := r.store.CreateUser(ctx, user); err != nil {
		return domain.User{}, false, persistenceErr(ctx, "create user", err)
	}
	if err := r.store.LinkIdentity(ctx, domain.Identity{Channel: msg.Channel, ExternalID: sender, UserID: user.ID}); err != nil {
		return domain.User{}, false, persistenceErr(ctx, "link identity", err)
	}
	// A concurrent first message may have linked the identity to another user.
	identity, ok, err = r.store.GetIdentity(ctx, msg.Channel, sender)
	if err != nil {
		return domain.User{}, false, persistenceErr(ctx, "load identity", err)
	}
	if ok && identity.UserID != user.ID {
		winner, found, err := r.store.GetUserByID(ctx, identity.UserID)
		if err != nil {
			return domain.User{}, false, persistenceErr(ctx, "load user", err)
		}
		if found {
			return activeUser(winner)
		}
	}
	util.LoggerFromContext(ctx).Info("user created from inbound message", "user_id", user.ID)
	return user, true, nil
}

// activeUser refuses users who deactivated their account; they come back
// by registering again on the web.
func activeUser(u domain.User) (domain.User, bool, error) {
	if !u.Active() {
		return domain.User{}, false, ErrDeactivated
	}
	return u, false, nil
}

func (r *Router) newUser(msg domain.InboundMessage, detected langdetect.Result) domain.User {
	now := r.now()
	name := strings.TrimSpace(msg.DisplayName)
	if name == "" {
		name = defaultFarmerName
	}
	lang := domain.DefaultLanguage
	if !detected.Ambiguous {
		lang = detected.Language
	}
	return domain.User{
		ID:                util.NewID(),
		Name:              name,
		PreferredLanguage: lang,
		Status:            domain.UserActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func persistenceErr(ctx context.Context, op string, err error) error {
	util.LoggerFromContext(ctx).Error(op+" failed", "err", err)
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
