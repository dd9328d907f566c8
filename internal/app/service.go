package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quorum/api/internal/adminsession"
	"quorum/api/internal/auth"
	"quorum/api/internal/authpw"
	"quorum/api/internal/avatars"
	"quorum/api/internal/config"
	"quorum/api/internal/email"
	"quorum/api/internal/notify"
	"quorum/api/internal/rbac"
	"quorum/api/internal/search"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
	"quorum/api/internal/vote"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateQuestionInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type CreateAnswerInput struct {
	Body string `json:"body"`
}

type VoteInput struct {
	Direction string `json:"direction"`
}

type UpdateProfileInput struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type QuestionListInput struct {
	Page     int
	PageSize int
	Query    string
	Sort     string
}

type AnnouncementInput struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	IsActive *bool  `json:"isActive"`
}

var allowedSorts = map[string]struct{}{
	"":           {},
	"newest":     {},
	"unanswered": {},
	"most-voted": {},
}

type dataStore interface {
	// profiles
	GetProfileByID(context.Context, string) (store.Profile, error)
	GetProfileByUsername(context.Context, string) (store.Profile, error)
	UpdateProfile(context.Context, string, string, string) error
	SetProfileRole(context.Context, string, string) error
	AdjustReputation(context.Context, string, int) error
	ListLeaderboard(context.Context, int) ([]store.Profile, error)
	ListProfiles(context.Context, int) ([]store.Profile, error)
	ListUserBadges(context.Context, string) ([]store.UserBadge, error)
	AwardReputationBadges(context.Context, string) error

	// access token revocation
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	// questions
	InsertQuestion(context.Context, store.Question) error
	GetQuestion(context.Context, string) (store.Question, error)
	ListQuestions(context.Context, store.QuestionFilter) ([]store.Question, int, error)
	ListQuestionsByAuthor(context.Context, string) ([]store.Question, error)
	DeleteQuestion(context.Context, string) error
	IncrementViewCount(context.Context, string) (int, error)
	AdjustAnswerCount(context.Context, string, int) error

	// answers
	InsertAnswer(context.Context, store.Answer) error
	GetAnswer(context.Context, string) (store.Answer, error)
	ListAnswers(context.Context, string) ([]store.Answer, error)
	ListRecentAnswers(context.Context, int) ([]store.Answer, error)
	DeleteAnswer(context.Context, string) error
	AcceptAnswer(context.Context, string, string) error

	// votes
	vote.Store
	ListUserVotes(context.Context, vote.Kind, []string, string) (map[string]vote.Direction, error)

	// announcements
	InsertAnnouncement(context.Context, store.Announcement) error
	UpdateAnnouncement(context.Context, string, string, string) error
	SetAnnouncementActive(context.Context, string, bool) error
	DeleteAnnouncement(context.Context, string) error
	ListAnnouncements(context.Context, bool) ([]store.Announcement, error)

	// notifications
	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) error
	MarkAllNotificationsRead(context.Context, string) error

	SummaryCounts(context.Context) (store.Stats, error)
	Ping(ctx context.Context) error
}

type refreshSessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Profile, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshSessionStore
	votes     *vote.Reconciler
	authpw    *authpw.Service
	adminGate *adminsession.Guard
	search    *search.Service
	notifier  *notify.Notifier
	avatars   *avatars.Service
	email     *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, adminGate *adminsession.Guard, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		votes:     vote.NewReconciler(dataStore),
		authpw:    authpw.NewService(dataStore),
		adminGate: adminGate,
		search:    searchService,
		email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}
}

// NewWithSessionStore uses a dedicated refresh session backend (Redis) instead
// of the Postgres tables.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshSessionStore, adminGate *adminsession.Guard, searchService *search.Service) *Service {
	service := New(cfg, dataStore, adminGate, searchService)
	service.sessions = sessions
	return service
}

// SetNotifier wires the Redis change feed. Optional; a nil notifier drops
// all events.
func (s *Service) SetNotifier(notifier *notify.Notifier) {
	s.notifier = notifier
}

// SetAvatars wires the object storage backend for avatar uploads. Optional.
func (s *Service) SetAvatars(avatarSvc *avatars.Service) {
	s.avatars = avatarSvc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) AvatarService() *avatars.Service {
	return s.avatars
}

func (s *Service) Notifier() *notify.Notifier {
	return s.notifier
}

func (s *Service) SMTPConfigured() bool {
	return s.email.IsConfigured()
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

func (s *Service) AppBaseURL() string {
	return s.cfg.AppBaseURL
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---------------------------------------------------------------------------
// Sessions

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	sparse, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Role or reputation may have changed since the refresh token was minted.
	profile, err := s.store.GetProfileByID(ctx, sparse.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      profile.ID,
		Username: profile.Username,
		Role:     profile.Role,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       profile.ID,
		Username:     profile.Username,
		Role:         profile.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    profile.ID,
		Username:  profile.Username,
		Role:      profile.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Questions

func (s *Service) ListQuestions(ctx context.Context, viewer Session, input QuestionListInput) (map[string]any, error) {
	if _, ok := allowedSorts[input.Sort]; !ok {
		return nil, validationError(fmt.Sprintf("unknown sort %q", input.Sort))
	}

	questions, total, err := s.store.ListQuestions(ctx, store.QuestionFilter{
		Page:     input.Page,
		PageSize: input.PageSize,
		Query:    strings.TrimSpace(input.Query),
		Sort:     input.Sort,
	})
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	// Vote annotation is a single batch read for the page; guests get no
	// annotation at all, never an error.
	var userVotes map[string]vote.Direction
	if viewer.UserID != "" {
		ids := make([]string, len(questions))
		for i, q := range questions {
			ids[i] = q.ID
		}
		userVotes, err = s.store.ListUserVotes(ctx, vote.KindQuestion, ids, viewer.UserID)
		if err != nil {
			return nil, fmt.Errorf("annotate question votes: %w", err)
		}
	}

	items := make([]map[string]any, len(questions))
	for i, q := range questions {
		items[i] = questionPayload(q)
		if userVotes != nil {
			items[i]["userVote"] = voteAnnotation(userVotes, q.ID)
		}
	}

	return map[string]any{
		"questions":  items,
		"totalCount": total,
		"page":       max(input.Page, 1),
	}, nil
}

func (s *Service) GetQuestion(ctx context.Context, viewer Session, questionID string) (map[string]any, error) {
	// Every detail read counts as a view; concurrent reads may interleave but
	// the increment itself is a single statement.
	viewCount, err := s.store.IncrementViewCount(ctx, questionID)
	if err != nil {
		return nil, err
	}

	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	question.ViewCount = viewCount

	answers, err := s.store.ListAnswers(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	var questionVotes, answerVotes map[string]vote.Direction
	if viewer.UserID != "" {
		questionVotes, err = s.store.ListUserVotes(ctx, vote.KindQuestion, []string{questionID}, viewer.UserID)
		if err != nil {
			return nil, fmt.Errorf("annotate question vote: %w", err)
		}
		answerIDs := make([]string, len(answers))
		for i, a := range answers {
			answerIDs[i] = a.ID
		}
		answerVotes, err = s.store.ListUserVotes(ctx, vote.KindAnswer, answerIDs, viewer.UserID)
		if err != nil {
			return nil, fmt.Errorf("annotate answer votes: %w", err)
		}
	}

	payload := questionPayload(question)
	if questionVotes != nil {
		payload["userVote"] = voteAnnotation(questionVotes, questionID)
	}

	answerItems := make([]map[string]any, len(answers))
	for i, a := range answers {
		answerItems[i] = answerPayload(a)
		if answerVotes != nil {
			answerItems[i]["userVote"] = voteAnnotation(answerVotes, a.ID)
		}
	}
	payload["answers"] = answerItems

	return payload, nil
}

func (s *Service) CreateQuestion(ctx context.Context, session Session, input CreateQuestionInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionPost) {
		return nil, forbidden()
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" {
		return nil, validationError("title is required")
	}
	if len(title) > 200 {
		return nil, validationError("title must be at most 200 characters")
	}
	if description == "" {
		return nil, validationError("description is required")
	}
	tags := normalizeTags(input.Tags)
	if len(tags) > 5 {
		return nil, validationError("at most 5 tags allowed")
	}

	question := store.Question{
		ID:          util.NewID("q"),
		Title:       title,
		Description: description,
		Tags:        tags,
		AuthorID:    session.UserID,
	}
	if err := s.store.InsertQuestion(ctx, question); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}

	if s.search != nil {
		s.search.IndexQuestion(search.QuestionRecord{
			ID:             question.ID,
			Title:          question.Title,
			Description:    question.Description,
			Tags:           question.Tags,
			AuthorUsername: session.Username,
		})
	}
	s.notifier.Publish(ctx, "questions", "created", question.ID)

	created, err := s.store.GetQuestion(ctx, question.ID)
	if err != nil {
		return nil, err
	}
	return questionPayload(created), nil
}

func (s *Service) DeleteQuestion(ctx context.Context, session Session, questionID string) error {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if question.AuthorID != session.UserID && !s.Can(session.Role, rbac.ActionModerate) {
		return forbidden()
	}

	if err := s.store.DeleteQuestion(ctx, questionID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteQuestion(questionID)
	}
	s.notifier.Publish(ctx, "questions", "deleted", questionID)
	return nil
}

func (s *Service) SearchQuestions(ctx context.Context, query, tag string, limit, offset int) search.Response {
	return s.search.Search(search.Query{
		Text:   strings.TrimSpace(query),
		Tag:    strings.TrimSpace(tag),
		Limit:  limit,
		Offset: offset,
	})
}

// ---------------------------------------------------------------------------
// Answers

func (s *Service) ListAnswers(ctx context.Context, viewer Session, questionID string) ([]map[string]any, error) {
	if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswers(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	var userVotes map[string]vote.Direction
	if viewer.UserID != "" {
		ids := make([]string, len(answers))
		for i, a := range answers {
			ids[i] = a.ID
		}
		userVotes, err = s.store.ListUserVotes(ctx, vote.KindAnswer, ids, viewer.UserID)
		if err != nil {
			return nil, fmt.Errorf("annotate answer votes: %w", err)
		}
	}

	items := make([]map[string]any, len(answers))
	for i, a := range answers {
		items[i] = answerPayload(a)
		if userVotes != nil {
			items[i]["userVote"] = voteAnnotation(userVotes, a.ID)
		}
	}
	return items, nil
}

func (s *Service) CreateAnswer(ctx context.Context, session Session, questionID string, input CreateAnswerInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionPost) {
		return nil, forbidden()
	}

	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, validationError("body is required")
	}

	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	answer := store.Answer{
		ID:         util.NewID("a"),
		QuestionID: questionID,
		AuthorID:   session.UserID,
		Body:       body,
	}
	if err := s.store.InsertAnswer(ctx, answer); err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := s.store.AdjustAnswerCount(ctx, questionID, 1); err != nil {
		return nil, fmt.Errorf("bump answer count: %w", err)
	}

	if question.AuthorID != session.UserID {
		s.pushNotification(ctx, question.AuthorID, "answer",
			fmt.Sprintf("%s answered your question %q", session.Username, question.Title))
	}
	s.notifier.Publish(ctx, "answers:"+questionID, "created", answer.ID)

	created, err := s.store.GetAnswer(ctx, answer.ID)
	if err != nil {
		return nil, err
	}
	return answerPayload(created), nil
}

func (s *Service) DeleteAnswer(ctx context.Context, session Session, answerID string) error {
	answer, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return err
	}
	if answer.AuthorID != session.UserID && !s.Can(session.Role, rbac.ActionModerate) {
		return forbidden()
	}

	if err := s.store.DeleteAnswer(ctx, answerID); err != nil {
		return err
	}
	if err := s.store.AdjustAnswerCount(ctx, answer.QuestionID, -1); err != nil {
		return fmt.Errorf("drop answer count: %w", err)
	}
	s.notifier.Publish(ctx, "answers:"+answer.QuestionID, "deleted", answerID)
	return nil
}

func (s *Service) AcceptAnswer(ctx context.Context, session Session, questionID, answerID string) (map[string]any, error) {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	// Only the asker decides which answer resolved the question.
	if question.AuthorID != session.UserID {
		return nil, forbidden()
	}

	answer, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	if answer.QuestionID != questionID {
		return nil, notFound("Answer not found on this question")
	}

	if err := s.store.AcceptAnswer(ctx, questionID, answerID); err != nil {
		return nil, err
	}

	if answer.AuthorID != session.UserID {
		s.pushNotification(ctx, answer.AuthorID, "accepted",
			fmt.Sprintf("Your answer to %q was accepted", question.Title))
	}
	s.notifier.Publish(ctx, "answers:"+questionID, "accepted", answerID)

	accepted, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	return answerPayload(accepted), nil
}

// ---------------------------------------------------------------------------
// Votes

func (s *Service) VoteQuestion(ctx context.Context, session Session, questionID string, input VoteInput) (map[string]any, error) {
	return s.applyVote(ctx, session, vote.Target{Kind: vote.KindQuestion, ID: questionID}, input)
}

func (s *Service) VoteAnswer(ctx context.Context, session Session, answerID string, input VoteInput) (map[string]any, error) {
	return s.applyVote(ctx, session, vote.Target{Kind: vote.KindAnswer, ID: answerID}, input)
}

func (s *Service) applyVote(ctx context.Context, session Session, target vote.Target, input VoteInput) (map[string]any, error) {
	if session.UserID != "" && !s.Can(session.Role, rbac.ActionVote) {
		return nil, forbidden()
	}

	var priorCount int
	var authorID string
	switch target.Kind {
	case vote.KindQuestion:
		question, err := s.store.GetQuestion(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		priorCount = question.VoteCount
		authorID = question.AuthorID
	case vote.KindAnswer:
		answer, err := s.store.GetAnswer(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		priorCount = answer.VoteCount
		authorID = answer.AuthorID
	}

	result, err := s.votes.Apply(ctx, target, session.UserID, vote.Direction(input.Direction), priorCount)
	if err != nil {
		return nil, err
	}

	s.applyReputationEffects(ctx, authorID, vote.Direction(input.Direction), result, priorCount)
	s.notifier.Publish(ctx, "votes:"+string(target.Kind), "changed", target.ID)

	return map[string]any{
		"voteCount": result.Count,
		"userVote":  voteStatePayload(result.State),
	}, nil
}

// applyReputationEffects adjusts the target author's reputation after a vote
// reconciliation: +10 for a landed upvote, -2 for a landed downvote, reversed
// when the vote is removed, both at once on a flip. Best effort; the vote
// itself has already committed.
func (s *Service) applyReputationEffects(ctx context.Context, authorID string, requested vote.Direction, result vote.Result, priorCount int) {
	if authorID == "" {
		return
	}

	effect := func(d vote.Direction) int {
		if d == vote.DirectionUp {
			return 10
		}
		return -2
	}

	var repDelta int
	counterDelta := result.Count - priorCount
	switch {
	case result.State == vote.StateNone:
		repDelta = -effect(requested)
	case counterDelta == 2 || counterDelta == -2:
		opposite := vote.DirectionUp
		if requested == vote.DirectionUp {
			opposite = vote.DirectionDown
		}
		repDelta = effect(requested) - effect(opposite)
	default:
		repDelta = effect(requested)
	}

	if repDelta == 0 {
		return
	}
	if err := s.store.AdjustReputation(ctx, authorID, repDelta); err != nil {
		return
	}
	if repDelta > 0 {
		_ = s.store.AwardReputationBadges(ctx, authorID)
	}
}

// ---------------------------------------------------------------------------
// Profiles

func (s *Service) GetProfile(ctx context.Context, username string) (map[string]any, error) {
	profile, err := s.store.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	badges, err := s.store.ListUserBadges(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}

	questions, err := s.store.ListQuestionsByAuthor(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("list author questions: %w", err)
	}

	badgeItems := make([]map[string]any, len(badges))
	for i, b := range badges {
		badgeItems[i] = map[string]any{
			"id":          b.ID,
			"name":        b.Name,
			"description": b.Description,
			"icon":        b.Icon,
			"tier":        b.Tier,
			"awardedAt":   b.AwardedAt,
		}
	}

	questionItems := make([]map[string]any, len(questions))
	for i, q := range questions {
		questionItems[i] = questionPayload(q)
	}

	return map[string]any{
		"id":         profile.ID,
		"username":   profile.Username,
		"avatarUrl":  profile.AvatarURL,
		"role":       profile.Role,
		"reputation": profile.Reputation,
		"createdAt":  profile.CreatedAt,
		"badges":     badgeItems,
		"questions":  questionItems,
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input UpdateProfileInput) (map[string]any, error) {
	if session.UserID == "" {
		return nil, authRequired()
	}

	username := strings.TrimSpace(input.Username)
	if username == "" {
		username = session.Username
	}
	if username != session.Username {
		if _, err := s.store.GetProfileByUsername(ctx, username); err == nil {
			return nil, validationError("username already taken")
		}
	}

	if err := s.store.UpdateProfile(ctx, session.UserID, username, strings.TrimSpace(input.AvatarURL)); err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfileByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         profile.ID,
		"username":   profile.Username,
		"avatarUrl":  profile.AvatarURL,
		"role":       profile.Role,
		"reputation": profile.Reputation,
	}, nil
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]map[string]any, error) {
	profiles, err := s.store.ListLeaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(profiles))
	for i, p := range profiles {
		items[i] = map[string]any{
			"rank":       i + 1,
			"id":         p.ID,
			"username":   p.Username,
			"avatarUrl":  p.AvatarURL,
			"reputation": p.Reputation,
		}
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Announcements and notifications (member-facing)

func (s *Service) ActiveAnnouncements(ctx context.Context) ([]map[string]any, error) {
	announcements, err := s.store.ListAnnouncements(ctx, true)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(announcements))
	for i, a := range announcements {
		items[i] = announcementPayload(a)
	}
	return items, nil
}

func (s *Service) ListNotifications(ctx context.Context, session Session, limit int) ([]map[string]any, error) {
	if session.UserID == "" {
		return nil, authRequired()
	}
	notifications, err := s.store.ListNotifications(ctx, session.UserID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(notifications))
	for i, n := range notifications {
		items[i] = map[string]any{
			"id":        n.ID,
			"type":      n.Type,
			"message":   n.Message,
			"isRead":    n.IsRead,
			"createdAt": n.CreatedAt,
		}
	}
	return items, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	if session.UserID == "" {
		return authRequired()
	}
	return s.store.MarkNotificationRead(ctx, notificationID, session.UserID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) error {
	if session.UserID == "" {
		return authRequired()
	}
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

func (s *Service) pushNotification(ctx context.Context, userID, kind, message string) {
	notification := store.Notification{
		ID:      util.NewID("ntf"),
		UserID:  userID,
		Type:    kind,
		Message: message,
	}
	if err := s.store.InsertNotification(ctx, notification); err != nil {
		return
	}
	s.notifier.Publish(ctx, "notifications:"+userID, kind, notification.ID)
}

// ---------------------------------------------------------------------------
// Payload helpers

func questionPayload(q store.Question) map[string]any {
	payload := map[string]any{
		"id":          q.ID,
		"title":       q.Title,
		"description": q.Description,
		"tags":        q.Tags,
		"authorId":    q.AuthorID,
		"viewCount":   q.ViewCount,
		"answerCount": q.AnswerCount,
		"voteCount":   q.VoteCount,
		"createdAt":   q.CreatedAt,
		"updatedAt":   q.UpdatedAt,
	}
	if q.AuthorUsername != "" {
		payload["author"] = map[string]any{
			"username":   q.AuthorUsername,
			"avatarUrl":  q.AuthorAvatarURL,
			"reputation": q.AuthorReputation,
		}
	}
	return payload
}

func answerPayload(a store.Answer) map[string]any {
	payload := map[string]any{
		"id":         a.ID,
		"questionId": a.QuestionID,
		"authorId":   a.AuthorID,
		"body":       a.Body,
		"voteCount":  a.VoteCount,
		"isAccepted": a.IsAccepted,
		"createdAt":  a.CreatedAt,
	}
	if a.AuthorUsername != "" {
		payload["author"] = map[string]any{
			"username":   a.AuthorUsername,
			"reputation": a.AuthorReputation,
		}
	}
	return payload
}

func announcementPayload(a store.Announcement) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"title":     a.Title,
		"body":      a.Body,
		"isActive":  a.IsActive,
		"createdAt": a.CreatedAt,
		"updatedAt": a.UpdatedAt,
	}
}

func voteAnnotation(userVotes map[string]vote.Direction, targetID string) any {
	if direction, ok := userVotes[targetID]; ok {
		return string(direction)
	}
	return nil
}

func voteStatePayload(state vote.State) any {
	if state == vote.StateNone {
		return nil
	}
	return string(state)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	return normalized
}
