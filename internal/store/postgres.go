package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quorum/api/internal/vote"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Profiles

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, email, password_hash, avatar_url, role, reputation, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, profile.ID, profile.Username, profile.Email, profile.PasswordHash, profile.AvatarURL,
		profile.Role, profile.Reputation, profile.IsEmailVerified, profile.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

const profileColumns = `id, username, email, password_hash, COALESCE(avatar_url,''), role, reputation, is_email_verified, COALESCE(verification_token,''), created_at, updated_at`

func (s *PostgresStore) scanProfile(row *sql.Row) (Profile, error) {
	var profile Profile
	err := row.Scan(
		&profile.ID,
		&profile.Username,
		&profile.Email,
		&profile.PasswordHash,
		&profile.AvatarURL,
		&profile.Role,
		&profile.Reputation,
		&profile.IsEmailVerified,
		&profile.VerificationToken,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, id string) (Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, id))
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) GetProfileByUsername(ctx context.Context, username string) (Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username=$1`, username))
}

func (s *PostgresStore) UpdateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyProfileEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify profile email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify profile email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID, username, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET username=$2, avatar_url=$3, updated_at=NOW() WHERE id=$1
	`, userID, username, avatarURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProfileRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE profiles SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set profile role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set profile role rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AdjustReputation applies a signed delta, flooring at zero.
func (s *PostgresStore) AdjustReputation(ctx context.Context, userID string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET reputation=GREATEST(0, reputation + $2), updated_at=NOW() WHERE id=$1
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("adjust reputation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLeaderboard(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, COALESCE(avatar_url,''), role, reputation
		FROM profiles
		WHERE role != 'banned'
		ORDER BY reputation DESC, username ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		var item Profile
		if err := rows.Scan(&item.ID, &item.Username, &item.AvatarURL, &item.Role, &item.Reputation); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProfiles(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, COALESCE(avatar_url,''), role, reputation, created_at
		FROM profiles
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		var item Profile
		if err := rows.Scan(&item.ID, &item.Username, &item.Email, &item.AvatarURL, &item.Role, &item.Reputation, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProfilePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update profile password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Refresh sessions and token revocation (Postgres fallback when Redis is
// not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Profile, error) {
	const query = `
		SELECT p.id, p.username, p.email, p.role, p.reputation
		FROM refresh_sessions rs
		JOIN profiles p ON p.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var profile Profile
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&profile.ID, &profile.Username, &profile.Email, &profile.Role, &profile.Reputation)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Questions

func (s *PostgresStore) InsertQuestion(ctx context.Context, item Question) error {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal question tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO questions (id, title, description, tags, author_id)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, item.ID, item.Title, item.Description, string(encodedTags), item.AuthorID)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

const questionColumns = `
	q.id, q.title, q.description, q.tags, q.author_id,
	q.view_count, q.answer_count, q.vote_count, q.created_at, q.updated_at,
	COALESCE(p.username,''), COALESCE(p.avatar_url,''), COALESCE(p.reputation,0)`

func scanQuestion(scan func(...any) error) (Question, error) {
	var item Question
	var tagsRaw []byte
	if err := scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&tagsRaw,
		&item.AuthorID,
		&item.ViewCount,
		&item.AnswerCount,
		&item.VoteCount,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.AuthorUsername,
		&item.AuthorAvatarURL,
		&item.AuthorReputation,
	); err != nil {
		return Question{}, err
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &item.Tags); err != nil {
			return Question{}, fmt.Errorf("unmarshal question tags: %w", err)
		}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions q
		LEFT JOIN profiles p ON p.id = q.author_id
		WHERE q.id=$1
	`, questionID)
	return scanQuestion(row.Scan)
}

// ListQuestions composes search, sort and pagination into one query and
// returns the page plus the unpaginated total.
func (s *PostgresStore) ListQuestions(ctx context.Context, filter QuestionFilter) ([]Question, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}

	orderClause := `q.created_at DESC`
	unansweredOnly := false
	switch filter.Sort {
	case "", "newest":
	case "unanswered":
		unansweredOnly = true
	case "most-voted":
		orderClause = `q.vote_count DESC, q.created_at DESC`
	default:
		return nil, 0, fmt.Errorf("unknown sort %q", filter.Sort)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+`, COUNT(*) OVER() AS total
		FROM questions q
		LEFT JOIN profiles p ON p.id = q.author_id
		WHERE ($1 = '' OR q.title ILIKE '%'||$1||'%' OR q.description ILIKE '%'||$1||'%' OR q.tags::text ILIKE '%'||$1||'%')
			AND (NOT $2::boolean OR q.answer_count = 0)
		ORDER BY `+orderClause+`
		LIMIT $3 OFFSET $4
	`, filter.Query, unansweredOnly, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0, pageSize)
	total := 0
	for rows.Next() {
		var item Question
		var tagsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Description,
			&tagsRaw,
			&item.AuthorID,
			&item.ViewCount,
			&item.AnswerCount,
			&item.VoteCount,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.AuthorUsername,
			&item.AuthorAvatarURL,
			&item.AuthorReputation,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan question row: %w", err)
		}
		if len(tagsRaw) > 0 {
			if err := json.Unmarshal(tagsRaw, &item.Tags); err != nil {
				return nil, 0, fmt.Errorf("unmarshal question tags: %w", err)
			}
		}
		if item.Tags == nil {
			item.Tags = []string{}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate questions: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) ListQuestionsByAuthor(ctx context.Context, authorID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions q
		LEFT JOIN profiles p ON p.id = q.author_id
		WHERE q.author_id=$1
		ORDER BY q.created_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list questions by author: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan question row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions by author: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, questionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementViewCount bumps the counter atomically and returns the new value.
func (s *PostgresStore) IncrementViewCount(ctx context.Context, questionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE questions SET view_count = view_count + 1 WHERE id=$1 RETURNING view_count
	`, questionID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) AdjustAnswerCount(ctx context.Context, questionID string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE questions SET answer_count = GREATEST(0, answer_count + $2), updated_at=NOW() WHERE id=$1
	`, questionID, delta)
	if err != nil {
		return fmt.Errorf("adjust answer count: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Answers

func (s *PostgresStore) InsertAnswer(ctx context.Context, item Answer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (id, question_id, author_id, body)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.QuestionID, item.AuthorID, item.Body)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

const answerColumns = `
	a.id, a.question_id, a.author_id, a.body, a.vote_count, a.is_accepted, a.created_at,
	COALESCE(p.username,''), COALESCE(p.reputation,0)`

func (s *PostgresStore) GetAnswer(ctx context.Context, answerID string) (Answer, error) {
	var item Answer
	err := s.db.QueryRowContext(ctx, `
		SELECT `+answerColumns+`
		FROM answers a
		LEFT JOIN profiles p ON p.id = a.author_id
		WHERE a.id=$1
	`, answerID).Scan(
		&item.ID, &item.QuestionID, &item.AuthorID, &item.Body,
		&item.VoteCount, &item.IsAccepted, &item.CreatedAt,
		&item.AuthorUsername, &item.AuthorReputation,
	)
	if err != nil {
		return Answer{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAnswers(ctx context.Context, questionID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+answerColumns+`
		FROM answers a
		LEFT JOIN profiles p ON p.id = a.author_id
		WHERE a.question_id=$1
		ORDER BY a.is_accepted DESC, a.vote_count DESC, a.created_at ASC
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	items := make([]Answer, 0)
	for rows.Next() {
		var item Answer
		if err := rows.Scan(
			&item.ID, &item.QuestionID, &item.AuthorID, &item.Body,
			&item.VoteCount, &item.IsAccepted, &item.CreatedAt,
			&item.AuthorUsername, &item.AuthorReputation,
		); err != nil {
			return nil, fmt.Errorf("scan answer row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListRecentAnswers(ctx context.Context, limit int) ([]Answer, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+answerColumns+`
		FROM answers a
		LEFT JOIN profiles p ON p.id = a.author_id
		ORDER BY a.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent answers: %w", err)
	}
	defer rows.Close()

	items := make([]Answer, 0)
	for rows.Next() {
		var item Answer
		if err := rows.Scan(
			&item.ID, &item.QuestionID, &item.AuthorID, &item.Body,
			&item.VoteCount, &item.IsAccepted, &item.CreatedAt,
			&item.AuthorUsername, &item.AuthorReputation,
		); err != nil {
			return nil, fmt.Errorf("scan answer row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent answers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAnswer(ctx context.Context, answerID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE id=$1`, answerID)
	if err != nil {
		return fmt.Errorf("delete answer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete answer rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AcceptAnswer marks one answer accepted and clears the flag on the
// question's other answers.
func (s *PostgresStore) AcceptAnswer(ctx context.Context, questionID, answerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accept answer tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE answers SET is_accepted=FALSE WHERE question_id=$1 AND is_accepted
	`, questionID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear accepted answers: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE answers SET is_accepted=TRUE WHERE id=$1 AND question_id=$2
	`, answerID, questionID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("accept answer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("accept answer rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accept answer: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Votes. One row per (target, user); the reconciler is the only writer.

func (s *PostgresStore) FindVote(ctx context.Context, target vote.Target, userID string) (*vote.Record, error) {
	var direction string
	err := s.db.QueryRowContext(ctx, `
		SELECT direction FROM votes WHERE target_kind=$1 AND target_id=$2 AND user_id=$3
	`, string(target.Kind), target.ID, userID).Scan(&direction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup vote: %w", err)
	}
	return &vote.Record{Target: target, UserID: userID, Direction: vote.Direction(direction)}, nil
}

func (s *PostgresStore) CreateVote(ctx context.Context, target vote.Target, userID string, direction vote.Direction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (target_kind, target_id, user_id, direction)
		VALUES ($1, $2, $3, $4)
	`, string(target.Kind), target.ID, userID, string(direction))
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateVote(ctx context.Context, target vote.Target, userID string, direction vote.Direction) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE votes SET direction=$4, updated_at=NOW()
		WHERE target_kind=$1 AND target_id=$2 AND user_id=$3
	`, string(target.Kind), target.ID, userID, string(direction))
	if err != nil {
		return fmt.Errorf("update vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteVote(ctx context.Context, target vote.Target, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM votes WHERE target_kind=$1 AND target_id=$2 AND user_id=$3
	`, string(target.Kind), target.ID, userID)
	if err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetVoteCount(ctx context.Context, target vote.Target, count int) error {
	table := "questions"
	if target.Kind == vote.KindAnswer {
		table = "answers"
	}
	_, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET vote_count=$2 WHERE id=$1`, target.ID, count)
	if err != nil {
		return fmt.Errorf("set vote count: %w", err)
	}
	return nil
}

// ListUserVotes batch-reads the user's votes on a set of targets for listing
// annotation. Returns a map keyed by target ID.
func (s *PostgresStore) ListUserVotes(ctx context.Context, kind vote.Kind, targetIDs []string, userID string) (map[string]vote.Direction, error) {
	result := make(map[string]vote.Direction)
	if len(targetIDs) == 0 || userID == "" {
		return result, nil
	}
	encodedIDs, err := json.Marshal(targetIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal target ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, direction
		FROM votes
		WHERE target_kind=$1 AND user_id=$2
			AND target_id IN (SELECT jsonb_array_elements_text($3::jsonb))
	`, string(kind), userID, string(encodedIDs))
	if err != nil {
		return nil, fmt.Errorf("list user votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var targetID, direction string
		if err := rows.Scan(&targetID, &direction); err != nil {
			return nil, fmt.Errorf("scan user vote: %w", err)
		}
		result[targetID] = vote.Direction(direction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user votes: %w", err)
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Badges

func (s *PostgresStore) ListUserBadges(ctx context.Context, userID string) ([]UserBadge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.name, b.description, b.icon, b.tier, b.min_reputation, ub.awarded_at
		FROM user_badges ub
		JOIN badges b ON b.id = ub.badge_id
		WHERE ub.user_id=$1
		ORDER BY b.min_reputation DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	defer rows.Close()

	items := make([]UserBadge, 0)
	for rows.Next() {
		var item UserBadge
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Icon, &item.Tier, &item.MinReputation, &item.AwardedAt); err != nil {
			return nil, fmt.Errorf("scan user badge: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user badges: %w", err)
	}
	return items, nil
}

// AwardReputationBadges grants every badge whose threshold the user's current
// reputation meets. Already-held badges are left alone.
func (s *PostgresStore) AwardReputationBadges(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id)
		SELECT p.id, b.id
		FROM profiles p, badges b
		WHERE p.id=$1 AND b.min_reputation <= p.reputation
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("award reputation badges: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Announcements

func (s *PostgresStore) InsertAnnouncement(ctx context.Context, item Announcement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO announcements (id, title, body, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Title, item.Body, item.IsActive, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAnnouncement(ctx context.Context, announcementID, title, body string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE announcements SET title=$2, body=$3, updated_at=NOW() WHERE id=$1
	`, announcementID, title, body)
	if err != nil {
		return fmt.Errorf("update announcement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update announcement rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetAnnouncementActive(ctx context.Context, announcementID string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE announcements SET is_active=$2, updated_at=NOW() WHERE id=$1
	`, announcementID, active)
	if err != nil {
		return fmt.Errorf("set announcement active: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set announcement active rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteAnnouncement(ctx context.Context, announcementID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM announcements WHERE id=$1`, announcementID)
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete announcement rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListAnnouncements(ctx context.Context, activeOnly bool) ([]Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, is_active, created_by, created_at, updated_at
		FROM announcements
		WHERE (NOT $1::boolean OR is_active)
		ORDER BY created_at DESC
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	items := make([]Announcement, 0)
	for rows.Next() {
		var item Announcement
		if err := rows.Scan(&item.ID, &item.Title, &item.Body, &item.IsActive, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Notifications

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, message)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.UserID, item.Type, item.Message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, message, is_read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Type, &item.Message, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE user_id=$1 AND NOT is_read`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Admin dashboard

func (s *PostgresStore) SummaryCounts(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM profiles),
			(SELECT COUNT(*) FROM questions),
			(SELECT COUNT(*) FROM answers),
			(SELECT COUNT(*) FROM questions WHERE created_at >= date_trunc('day', NOW()))
	`).Scan(&stats.TotalUsers, &stats.TotalQuestions, &stats.TotalAnswers, &stats.TodayQuestions)
	if err != nil {
		return Stats{}, fmt.Errorf("summary counts: %w", err)
	}
	return stats, nil
}
