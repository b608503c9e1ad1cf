package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func (l *Ledger) RegisterMember(ctx context.Context, displayName, phone string) (models.Member, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return models.Member{}, invalid("display_name", "display name is required")
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		var err error
		if phone, err = normalizePhone("phone", phone); err != nil {
			return models.Member{}, err
		}
	}
	m := models.Member{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		Phone:       phone,
		Status:      models.MemberActive,
		CreatedAt:   l.clock(),
	}
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		return tx.SaveMember(ctx, m)
	})
	if err != nil {
		return models.Member{}, fmt.Errorf("register member: %w", err)
	}
	return m, nil
}

// DeactivateMember soft-deletes a member. Existing entries are untouched;
// new ones are refused.
func (l *Ledger) DeactivateMember(ctx context.Context, id string) (models.Member, error) {
	var m models.Member
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		m, err = tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		m.Status = models.MemberInactive
		return tx.SaveMember(ctx, m)
	})
	if err != nil {
		return models.Member{}, fmt.Errorf("deactivate member %s: %w", id, err)
	}
	return m, nil
}

func (l *Ledger) GetMember(ctx context.Context, id string) (models.Member, error) {
	var m models.Member
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		m, err = tx.GetMember(ctx, id)
		return err
	})
	return m, err
}

func (l *Ledger) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, invalid("name", "group name is required")
	}
	g := models.Group{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    models.GroupActive,
		CreatedAt: l.clock(),
	}
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		return tx.SaveGroup(ctx, g)
	})
	if errors.Is(err, models.ErrDuplicate) {
		return models.Group{}, invalid("name", "group %q already exists", name)
	}
	if err != nil {
		return models.Group{}, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

func (l *Ledger) CloseGroup(ctx context.Context, id string) (models.Group, error) {
	var g models.Group
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		g, err = tx.GetGroup(ctx, id)
		if err != nil {
			return err
		}
		g.Status = models.GroupClosed
		return tx.SaveGroup(ctx, g)
	})
	if err != nil {
		return models.Group{}, fmt.Errorf("close group %s: %w", id, err)
	}
	return g, nil
}

func (l *Ledger) AddMemberToGroup(ctx context.Context, groupID, memberID string) error {
	return l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return unknown("group", groupID, err)
		}
		if g.Status != models.GroupActive {
			return invalid("group", "group %s is closed", groupID)
		}
		m, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return unknown("member", memberID, err)
		}
		if m.Status != models.MemberActive {
			return invalid("member", "member %s is inactive", memberID)
		}
		return tx.AddGroupMember(ctx, groupID, memberID, l.clock())
	})
}

func (l *Ledger) ListGroupMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	var members []models.Member
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return err
		}
		var err error
		members, err = tx.ListGroupMembers(ctx, groupID)
		return err
	})
	return members, err
}

// checkParties verifies that the member belongs to the group and both are
// active.
func checkParties(ctx context.Context, tx interfaces.Tx, groupID, memberID string) (models.Member, error) {
	g, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return models.Member{}, unknown("group", groupID, err)
	}
	if g.Status != models.GroupActive {
		return models.Member{}, invalid("group", "group %s is closed", groupID)
	}
	m, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return models.Member{}, unknown("member", memberID, err)
	}
	if m.Status != models.MemberActive {
		return models.Member{}, invalid("member", "member %s is inactive", memberID)
	}
	ok, err := tx.IsGroupMember(ctx, groupID, memberID)
	if err != nil {
		return models.Member{}, err
	}
	if !ok {
		return models.Member{}, invalid("member", "member %s is not in group %s", memberID, groupID)
	}
	return m, nil
}
