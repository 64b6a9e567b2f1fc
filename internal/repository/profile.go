package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/menu-safety/internal/entity"
)

// ProfileRepository reads stored allergy profiles from the user_profile table.
// A user without a row gets an empty context, not an error.
type ProfileRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewProfileRepository(pool *pgxpool.Pool, logger *slog.Logger) *ProfileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileRepository{pool: pool, logger: logger}
}

func (r *ProfileRepository) FetchContext(ctx context.Context, userID string) (entity.UserContext, error) {
	uc := entity.UserContext{UserID: userID}
	if userID == "" {
		return uc, nil
	}
	err := r.pool.QueryRow(ctx,
		`SELECT allergies, diets, language FROM user_profile WHERE user_id = $1`,
		userID,
	).Scan(&uc.Allergies, &uc.Diets, &uc.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("profile not found", "user_id", userID)
		return entity.UserContext{UserID: userID}, nil
	}
	if err != nil {
		r.logger.Error("failed to fetch profile", "user_id", userID, "error", err)
		return entity.UserContext{}, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	return uc, nil
}

// Upsert stores a profile, replacing any previous one.
func (r *ProfileRepository) Upsert(ctx context.Context, uc entity.UserContext) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_profile (user_id, allergies, diets, language)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET allergies = EXCLUDED.allergies, diets = EXCLUDED.diets, language = EXCLUDED.language`,
		uc.UserID, nonNil(uc.Allergies), nonNil(uc.Diets), uc.Language,
	)
	if err != nil {
		r.logger.Error("failed to upsert profile", "user_id", uc.UserID, "error", err)
		return err
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// StaticProfiles serves profiles from memory, for development and tests.
type StaticProfiles map[string]entity.UserContext

// LoadStaticProfiles reads a JSON object of user id -> profile from path.
func LoadStaticProfiles(path string) (StaticProfiles, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byUser map[string]entity.UserContext
	if err := json.Unmarshal(raw, &byUser); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	out := make(StaticProfiles, len(byUser))
	for id, uc := range byUser {
		id = strings.TrimSpace(id)
		uc.UserID = id
		out[id] = uc
	}
	return out, nil
}

func (p StaticProfiles) FetchContext(ctx context.Context, userID string) (entity.UserContext, error) {
	if err := ctx.Err(); err != nil {
		return entity.UserContext{}, err
	}
	uc, ok := p[userID]
	if !ok {
		return entity.UserContext{UserID: userID}, nil
	}
	uc.Allergies = append([]string(nil), uc.Allergies...)
	uc.Diets = append([]string(nil), uc.Diets...)
	return uc, nil
}
