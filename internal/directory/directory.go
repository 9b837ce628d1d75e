// Package directory adapts the user directory owned by the user service to
// the two questions the messaging core asks of it: which ids belong to
// existing, active users, and how a user should be displayed.
package directory

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// Directory is the read-only participant lookup consumed by the services.
type Directory interface {
	// ValidUsers returns the subset of ids that exist and are active.
	ValidUsers(ctx context.Context, ids ...string) (map[string]struct{}, error)
	// Profiles returns a display projection for every id. Unknown ids get a
	// placeholder whose display name is the id itself.
	Profiles(ctx context.Context, ids ...string) (map[string]domain.Profile, error)
}

// UserDirectory implements Directory over the users table.
type UserDirectory struct {
	DB *gorm.DB
}

// NewUserDirectory returns a UserDirectory bound to db.
func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{DB: db}
}

// ValidUsers implements Directory.
func (d *UserDirectory) ValidUsers(ctx context.Context, ids ...string) (map[string]struct{}, error) {
	users, err := repo.FindActiveUsers(ctx, d.DB, clean(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(users))
	for _, u := range users {
		out[u.ID] = struct{}{}
	}
	return out, nil
}

// Profiles implements Directory.
func (d *UserDirectory) Profiles(ctx context.Context, ids ...string) (map[string]domain.Profile, error) {
	ids = clean(ids)
	users, err := repo.FindUsers(ctx, d.DB, ids)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(users, func(u domain.User) string { return u.ID })

	out := make(map[string]domain.Profile, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			out[id] = Placeholder(id)
			continue
		}
		out[id] = ProfileOf(u)
	}
	return out, nil
}

// ProfileOf projects a directory user.
func ProfileOf(u domain.User) domain.Profile {
	name := strings.TrimSpace(u.DisplayName)
	if name == "" {
		name = u.Handle
	}
	if name == "" {
		name = u.ID
	}
	return domain.Profile{ID: u.ID, DisplayName: name, AvatarURL: u.AvatarURL, Handle: u.Handle}
}

// Placeholder is the projection used for ids the directory does not know.
func Placeholder(id string) domain.Profile {
	return domain.Profile{ID: id, DisplayName: id}
}

// clean drops blanks and duplicates while keeping first-seen order.
func clean(ids []string) []string {
	ids = lo.Map(ids, func(id string, _ int) string { return strings.TrimSpace(id) })
	return lo.Uniq(lo.Compact(ids))
}
