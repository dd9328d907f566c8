package store

import "time"

type Profile struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	AvatarURL             string
	Role                  string
	Reputation            int
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Question struct {
	ID          string
	Title       string
	Description string
	Tags        []string
	AuthorID    string
	ViewCount   int
	AnswerCount int
	VoteCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined author fields for list/detail responses. Absent (zero) when the
	// author profile was deleted.
	AuthorUsername   string
	AuthorAvatarURL  string
	AuthorReputation int
}

type Answer struct {
	ID         string
	QuestionID string
	AuthorID   string
	Body       string
	VoteCount  int
	IsAccepted bool
	CreatedAt  time.Time
	// Joined author fields.
	AuthorUsername   string
	AuthorReputation int
}

type Badge struct {
	ID            string
	Name          string
	Description   string
	Icon          string
	Tier          string
	MinReputation int
}

type UserBadge struct {
	Badge
	AwardedAt time.Time
}

type Announcement struct {
	ID        string
	Title     string
	Body      string
	IsActive  bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

// Stats are the admin dashboard summary counts.
type Stats struct {
	TotalUsers     int
	TotalQuestions int
	TotalAnswers   int
	TodayQuestions int
}

// QuestionFilter composes search, sort and pagination for question listings.
type QuestionFilter struct {
	Page     int
	PageSize int
	Query    string
	Sort     string // newest, unanswered, most-voted
}
