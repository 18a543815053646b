package repository

import (
	"context"
	"fmt"

	"catch-hub/internal/models"

	"gorm.io/gorm"
)

// FriendRepository reads accepted friendships. It satisfies the hub's
// AudienceResolver.
type FriendRepository interface {
	FriendsOf(ctx context.Context, userID string) ([]string, error)
	AreFriends(ctx context.Context, userID, otherID string) (bool, error)
}

type friendRepository struct {
	db *gorm.DB
}

func NewFriendRepository(db *gorm.DB) FriendRepository {
	return &friendRepository{db: db}
}

// FriendsOf returns the users on the other side of every accepted friendship
// involving userID, in either direction.
func (r *friendRepository) FriendsOf(ctx context.Context, userID string) ([]string, error) {
	var rows []models.Friendship
	err := r.db.WithContext(ctx).
		Select("requester_id", "accepter_id").
		Where("status = ? AND (requester_id = ? OR accepter_id = ?)", models.FriendshipAccepted, userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query friends of %s: %w", userID, err)
	}

	seen := make(map[string]struct{}, len(rows))
	friends := make([]string, 0, len(rows))
	for _, f := range rows {
		id := f.Other(userID)
		if id == userID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		friends = append(friends, id)
	}
	return friends, nil
}

func (r *friendRepository) AreFriends(ctx context.Context, userID, otherID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("status = ? AND ((requester_id = ? AND accepter_id = ?) OR (requester_id = ? AND accepter_id = ?))",
			models.FriendshipAccepted, userID, otherID, otherID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("query friendship %s/%s: %w", userID, otherID, err)
	}
	return count > 0, nil
}
