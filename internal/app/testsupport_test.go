package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"quorum/api/internal/adminsession"
	"quorum/api/internal/authpw"
	"quorum/api/internal/config"
	"quorum/api/internal/email"
	"quorum/api/internal/store"
	"quorum/api/internal/vote"
)

// fakeStore is an in-memory stand-in for the Postgres store, shared by the
// service and HTTP tests.
type fakeStore struct {
	mu sync.Mutex

	profiles      map[string]store.Profile
	questions     map[string]store.Question
	answers       map[string]store.Answer
	votes         map[string]vote.Direction
	refresh       map[string]refreshRecord
	revokedJTIs   map[string]bool
	resets        map[string]resetRecord
	notifications []store.Notification
	announcements []store.Announcement
	badges        map[string][]store.UserBadge

	badgeAwardCalls int
	pingErr         error
	resetErr        error
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

type resetRecord struct {
	userID string
	used   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    map[string]store.Profile{},
		questions:   map[string]store.Question{},
		answers:     map[string]store.Answer{},
		votes:       map[string]vote.Direction{},
		refresh:     map[string]refreshRecord{},
		revokedJTIs: map[string]bool{},
		resets:      map[string]resetRecord{},
		badges:      map[string][]store.UserBadge{},
	}
}

func voteKey(target vote.Target, userID string) string {
	return fmt.Sprintf("%s|%s|%s", target.Kind, target.ID, userID)
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

// --- profiles

func (f *fakeStore) CreateProfile(_ context.Context, profile store.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile.CreatedAt = time.Now()
	f.profiles[profile.ID] = profile
	return nil
}

func (f *fakeStore) GetProfileByID(_ context.Context, id string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[id]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return profile, nil
}

func (f *fakeStore) GetProfileByEmail(_ context.Context, address string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, profile := range f.profiles {
		if strings.EqualFold(profile.Email, address) {
			return profile, nil
		}
	}
	return store.Profile{}, sql.ErrNoRows
}

func (f *fakeStore) GetProfileByUsername(_ context.Context, username string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, profile := range f.profiles {
		if profile.Username == username {
			return profile, nil
		}
	}
	return store.Profile{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return sql.ErrNoRows
	}
	profile.VerificationToken = token
	profile.VerificationExpiresAt = &expiresAt
	f.profiles[userID] = profile
	return nil
}

func (f *fakeStore) VerifyProfileEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, profile := range f.profiles {
		if profile.VerificationToken == token && token != "" {
			profile.IsEmailVerified = true
			profile.VerificationToken = ""
			f.profiles[id] = profile
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateProfile(_ context.Context, userID, username, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return sql.ErrNoRows
	}
	profile.Username = username
	if avatarURL != "" {
		profile.AvatarURL = avatarURL
	}
	f.profiles[userID] = profile
	return nil
}

func (f *fakeStore) SetProfileRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return sql.ErrNoRows
	}
	profile.Role = role
	f.profiles[userID] = profile
	return nil
}

func (f *fakeStore) AdjustReputation(_ context.Context, userID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return sql.ErrNoRows
	}
	profile.Reputation += delta
	if profile.Reputation < 0 {
		profile.Reputation = 0
	}
	f.profiles[userID] = profile
	return nil
}

func (f *fakeStore) UpdateProfilePassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return sql.ErrNoRows
	}
	profile.PasswordHash = passwordHash
	f.profiles[userID] = profile
	return nil
}

func (f *fakeStore) ListLeaderboard(_ context.Context, limit int) ([]store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var profiles []store.Profile
	for _, profile := range f.profiles {
		if profile.Role == "banned" {
			continue
		}
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Reputation != profiles[j].Reputation {
			return profiles[i].Reputation > profiles[j].Reputation
		}
		return profiles[i].Username < profiles[j].Username
	})
	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

func (f *fakeStore) ListProfiles(_ context.Context, limit int) ([]store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var profiles []store.Profile
	for _, profile := range f.profiles {
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

// --- password resets

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets[token] = resetRecord{userID: userID}
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.resets[token]
	if !ok || record.used {
		return "", sql.ErrNoRows
	}
	return record.userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.resets[token]
	if !ok {
		return sql.ErrNoRows
	}
	record.used = true
	f.resets[token] = record
	return nil
}

// --- refresh sessions and revocation

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.Profile, error) {
	f.mu.Lock()
	record, ok := f.refresh[tokenHash]
	f.mu.Unlock()
	if !ok || time.Now().After(record.expiresAt) {
		return store.Profile{}, sql.ErrNoRows
	}
	return f.GetProfileByID(context.Background(), record.userID)
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

// --- questions

func (f *fakeStore) InsertQuestion(_ context.Context, item store.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	if author, ok := f.profiles[item.AuthorID]; ok {
		item.AuthorUsername = author.Username
	}
	f.questions[item.ID] = item
	return nil
}

func (f *fakeStore) GetQuestion(_ context.Context, questionID string) (store.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	question, ok := f.questions[questionID]
	if !ok {
		return store.Question{}, sql.ErrNoRows
	}
	return question, nil
}

func (f *fakeStore) ListQuestions(_ context.Context, filter store.QuestionFilter) ([]store.Question, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Question
	for _, question := range f.questions {
		if filter.Query != "" && !strings.Contains(strings.ToLower(question.Title), strings.ToLower(filter.Query)) {
			continue
		}
		if filter.Sort == "unanswered" && question.AnswerCount > 0 {
			continue
		}
		items = append(items, question)
	}
	if filter.Sort == "most-voted" {
		sort.Slice(items, func(i, j int) bool { return items[i].VoteCount > items[j].VoteCount })
	} else {
		sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	}
	return items, len(items), nil
}

func (f *fakeStore) ListQuestionsByAuthor(_ context.Context, authorID string) ([]store.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Question
	for _, question := range f.questions {
		if question.AuthorID == authorID {
			items = append(items, question)
		}
	}
	return items, nil
}

func (f *fakeStore) DeleteQuestion(_ context.Context, questionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.questions[questionID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.questions, questionID)
	return nil
}

func (f *fakeStore) IncrementViewCount(_ context.Context, questionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	question, ok := f.questions[questionID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	question.ViewCount++
	f.questions[questionID] = question
	return question.ViewCount, nil
}

func (f *fakeStore) AdjustAnswerCount(_ context.Context, questionID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	question, ok := f.questions[questionID]
	if !ok {
		return sql.ErrNoRows
	}
	question.AnswerCount += delta
	if question.AnswerCount < 0 {
		question.AnswerCount = 0
	}
	f.questions[questionID] = question
	return nil
}

// --- answers

func (f *fakeStore) InsertAnswer(_ context.Context, item store.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now()
	if author, ok := f.profiles[item.AuthorID]; ok {
		item.AuthorUsername = author.Username
	}
	f.answers[item.ID] = item
	return nil
}

func (f *fakeStore) GetAnswer(_ context.Context, answerID string) (store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	answer, ok := f.answers[answerID]
	if !ok {
		return store.Answer{}, sql.ErrNoRows
	}
	return answer, nil
}

func (f *fakeStore) ListAnswers(_ context.Context, questionID string) ([]store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Answer
	for _, answer := range f.answers {
		if answer.QuestionID == questionID {
			items = append(items, answer)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsAccepted != items[j].IsAccepted {
			return items[i].IsAccepted
		}
		if items[i].VoteCount != items[j].VoteCount {
			return items[i].VoteCount > items[j].VoteCount
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (f *fakeStore) ListRecentAnswers(_ context.Context, limit int) ([]store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Answer
	for _, answer := range f.answers {
		items = append(items, answer)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) DeleteAnswer(_ context.Context, answerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.answers[answerID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.answers, answerID)
	return nil
}

func (f *fakeStore) AcceptAnswer(_ context.Context, questionID, answerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.answers[answerID]
	if !ok || target.QuestionID != questionID {
		return sql.ErrNoRows
	}
	for id, answer := range f.answers {
		if answer.QuestionID == questionID && answer.IsAccepted {
			answer.IsAccepted = false
			f.answers[id] = answer
		}
	}
	target.IsAccepted = true
	f.answers[answerID] = target
	return nil
}

// --- votes

func (f *fakeStore) FindVote(_ context.Context, target vote.Target, userID string) (*vote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	direction, ok := f.votes[voteKey(target, userID)]
	if !ok {
		return nil, nil
	}
	return &vote.Record{Target: target, UserID: userID, Direction: direction}, nil
}

func (f *fakeStore) CreateVote(_ context.Context, target vote.Target, userID string, direction vote.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[voteKey(target, userID)] = direction
	return nil
}

func (f *fakeStore) UpdateVote(_ context.Context, target vote.Target, userID string, direction vote.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[voteKey(target, userID)] = direction
	return nil
}

func (f *fakeStore) DeleteVote(_ context.Context, target vote.Target, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.votes, voteKey(target, userID))
	return nil
}

func (f *fakeStore) SetVoteCount(_ context.Context, target vote.Target, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch target.Kind {
	case vote.KindQuestion:
		question, ok := f.questions[target.ID]
		if !ok {
			return sql.ErrNoRows
		}
		question.VoteCount = count
		f.questions[target.ID] = question
	case vote.KindAnswer:
		answer, ok := f.answers[target.ID]
		if !ok {
			return sql.ErrNoRows
		}
		answer.VoteCount = count
		f.answers[target.ID] = answer
	}
	return nil
}

func (f *fakeStore) ListUserVotes(_ context.Context, kind vote.Kind, targetIDs []string, userID string) (map[string]vote.Direction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := map[string]vote.Direction{}
	for _, id := range targetIDs {
		if direction, ok := f.votes[voteKey(vote.Target{Kind: kind, ID: id}, userID)]; ok {
			result[id] = direction
		}
	}
	return result, nil
}

// --- badges

func (f *fakeStore) ListUserBadges(_ context.Context, userID string) ([]store.UserBadge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.badges[userID], nil
}

func (f *fakeStore) AwardReputationBadges(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badgeAwardCalls++
	return nil
}

// --- announcements

func (f *fakeStore) InsertAnnouncement(_ context.Context, item store.Announcement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now()
	f.announcements = append(f.announcements, item)
	return nil
}

func (f *fakeStore) UpdateAnnouncement(_ context.Context, announcementID, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.announcements {
		if a.ID == announcementID {
			f.announcements[i].Title = title
			f.announcements[i].Body = body
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) SetAnnouncementActive(_ context.Context, announcementID string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.announcements {
		if a.ID == announcementID {
			f.announcements[i].IsActive = active
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) DeleteAnnouncement(_ context.Context, announcementID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.announcements {
		if a.ID == announcementID {
			f.announcements = append(f.announcements[:i], f.announcements[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListAnnouncements(_ context.Context, activeOnly bool) ([]store.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Announcement
	for _, a := range f.announcements {
		if activeOnly && !a.IsActive {
			continue
		}
		items = append(items, a)
	}
	return items, nil
}

// --- notifications

func (f *fakeStore) InsertNotification(_ context.Context, item store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now()
	f.notifications = append(f.notifications, item)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, limit int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Notification
	for i := len(f.notifications) - 1; i >= 0; i-- {
		if f.notifications[i].UserID == userID {
			items = append(items, f.notifications[i])
		}
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, notificationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.ID == notificationID && n.UserID == userID {
			f.notifications[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.UserID == userID {
			f.notifications[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) SummaryCounts(_ context.Context) (store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return store.Stats{
		TotalUsers:     len(f.profiles),
		TotalQuestions: len(f.questions),
		TotalAnswers:   len(f.answers),
	}, nil
}

// --- service wiring

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	return newTestServiceWithGuard(t, fs, adminsession.NewGuard(
		filepath.Join(t.TempDir(), "admin_session.json"), "admin", "admin123", 24*time.Hour,
	))
}

func newTestServiceWithGuard(t *testing.T, fs *fakeStore, guard *adminsession.Guard) *Service {
	t.Helper()
	return &Service{
		cfg: config.Config{
			JWTSecret:     "test-secret",
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
			AdminUsername: "admin",
		},
		store:     fs,
		sessions:  fs,
		votes:     vote.NewReconciler(fs),
		authpw:    authpw.NewService(fs),
		adminGate: guard,
		email:     email.NewService(email.Config{}),
	}
}

func seedProfile(fs *fakeStore, id, username, role string) store.Profile {
	profile := store.Profile{
		ID:              id,
		Username:        username,
		Email:           username + "@example.com",
		Role:            role,
		IsEmailVerified: true,
		CreatedAt:       time.Now(),
	}
	fs.profiles[id] = profile
	return profile
}

func seedQuestion(fs *fakeStore, id, authorID, title string) store.Question {
	question := store.Question{
		ID:          id,
		Title:       title,
		Description: "details for " + title,
		Tags:        []string{"go"},
		AuthorID:    authorID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if author, ok := fs.profiles[authorID]; ok {
		question.AuthorUsername = author.Username
	}
	fs.questions[id] = question
	return question
}

func seedAnswer(fs *fakeStore, id, questionID, authorID, body string) store.Answer {
	answer := store.Answer{
		ID:         id,
		QuestionID: questionID,
		AuthorID:   authorID,
		Body:       body,
		CreatedAt:  time.Now(),
	}
	if author, ok := fs.profiles[authorID]; ok {
		answer.AuthorUsername = author.Username
	}
	fs.answers[id] = answer
	return answer
}

func sessionFor(profile store.Profile) Session {
	return Session{
		UserID:   profile.ID,
		Username: profile.Username,
		Role:     profile.Role,
	}
}

func newAuthedRequest(t *testing.T, method, path, body, token string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func doRequest(server *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodePayload(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}
