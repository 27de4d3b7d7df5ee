package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"imagetovideo/internal/ledger"
	"imagetovideo/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

const userColumns = `id, name, email, credits, video_ids, bucket_links, created_at, updated_at, deleted_at`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserRepository is the SQLite implementation of ledger.Store.
type UserRepository struct {
	db *DB
}

var _ ledger.Store = (*UserRepository)(nil)

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUser(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, ErrNotFound) {
		return nil, ledger.ErrUserNotFound
	}
	return user, err
}

func (r *UserRepository) ApplyDelta(ctx context.Context, email string, delta int64, videoID string) (int64, error) {
	return applyDelta(ctx, r.db, email, delta, videoID)
}

// applyDelta is a single upsert so concurrent callers never lose an update
// or a video ID append.
func applyDelta(ctx context.Context, q querier, email string, delta int64, videoID string) (int64, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return 0, fmt.Errorf("generating user ID: %w", err)
	}
	now := time.Now().UTC()

	var balance int64
	err = q.QueryRowContext(ctx, `
        INSERT INTO users (id, email, credits, video_ids, bucket_links, created_at, updated_at)
        VALUES (?1, ?2, max(0, ?3), CASE WHEN ?4 = '' THEN '[]' ELSE json_array(?4) END, '[]', ?5, ?5)
        ON CONFLICT(email) DO UPDATE SET
            credits = max(0, users.credits + ?3),
            video_ids = CASE WHEN ?4 = '' THEN users.video_ids ELSE json_insert(users.video_ids, '$[#]', ?4) END,
            updated_at = ?5
        RETURNING credits`,
		id, email, delta, videoID, now,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("upserting user credits: %w", err)
	}

	return balance, nil
}

func (r *UserRepository) AppendBucketLink(ctx context.Context, email, link string, minBalance int64) error {
	result, err := r.db.ExecContext(ctx, `
        UPDATE users
        SET bucket_links = json_insert(bucket_links, '$[#]', ?1), updated_at = ?2
        WHERE email = ?3 AND credits >= ?4`,
		link, time.Now().UTC(), email, minBalance,
	)
	if err != nil {
		return fmt.Errorf("appending bucket link: %w", err)
	}

	if err := checkRowsAffected(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return r.missReason(ctx, email)
		}
		return err
	}
	return nil
}

func (r *UserRepository) SpendForBucketLink(ctx context.Context, email, link string, cost int64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `
        UPDATE users
        SET credits = credits - ?4,
            bucket_links = json_insert(bucket_links, '$[#]', ?1),
            updated_at = ?2
        WHERE email = ?3 AND credits >= ?4
        RETURNING credits`,
		link, time.Now().UTC(), email, cost,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.missReason(ctx, email)
	}
	if IsCheckConstraintError(err) {
		return 0, ledger.ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("spending credits for bucket link: %w", err)
	}

	return balance, nil
}

// missReason explains why a guarded update matched no row.
func (r *UserRepository) missReason(ctx context.Context, email string) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&count); err != nil {
		return fmt.Errorf("checking user existence: %w", err)
	}
	if count == 0 {
		return ledger.ErrUserNotFound
	}
	return ledger.ErrInsufficientCredits
}

// Import inserts a complete record, keeping its ID and timestamps.
func (r *UserRepository) Import(ctx context.Context, u *models.User) error {
	videoIDs, err := encodeList(u.VideoIDs)
	if err != nil {
		return err
	}
	bucketLinks, err := encodeList(u.BucketLinks)
	if err != nil {
		return err
	}

	id := u.ID
	if id == "" {
		if id, err = GenerateID("usr"); err != nil {
			return fmt.Errorf("generating user ID: %w", err)
		}
	}
	credits := u.Credits
	if credits < 0 {
		credits = 0
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, u.Name, u.Email, credits, videoIDs, bucketLinks, u.CreatedAt.UTC(), u.UpdatedAt.UTC(), u.DeletedAt,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("importing user: %w", err)
	}
	return nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var name sql.NullString
	var deletedAt sql.NullTime
	var videoIDs, bucketLinks string

	err := row.Scan(
		&u.ID,
		&name,
		&u.Email,
		&u.Credits,
		&videoIDs,
		&bucketLinks,
		&u.CreatedAt,
		&u.UpdatedAt,
		&deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.Name = nullStringToPtr(name)
	u.DeletedAt = nullTimeToPtr(deletedAt)
	if u.VideoIDs, err = decodeList(videoIDs); err != nil {
		return nil, err
	}
	if u.BucketLinks, err = decodeList(bucketLinks); err != nil {
		return nil, err
	}

	return &u, nil
}

// checkRowsAffected verifies at least one row was affected, returns ErrNotFound if not
func checkRowsAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
