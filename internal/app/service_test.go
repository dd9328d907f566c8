package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"quorum/api/internal/vote"
)

func TestListQuestionsGuestHasNoVoteAnnotation(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	seedQuestion(fs, "q_1", author.ID, "How do goroutines work?")
	svc := newTestService(t, fs)

	payload, err := svc.ListQuestions(context.Background(), Session{}, QuestionListInput{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}

	items := payload["questions"].([]map[string]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 question, got %d", len(items))
	}
	if _, present := items[0]["userVote"]; present {
		t.Fatalf("guest listing must not carry a userVote annotation")
	}
}

func TestListQuestionsAnnotatesViewerVotes(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	viewer := seedProfile(fs, "usr_2", "bob", "user")
	seedQuestion(fs, "q_1", author.ID, "How do goroutines work?")
	seedQuestion(fs, "q_2", author.ID, "What is an interface?")
	fs.votes[voteKey(vote.Target{Kind: vote.KindQuestion, ID: "q_1"}, viewer.ID)] = vote.DirectionUp
	svc := newTestService(t, fs)

	payload, err := svc.ListQuestions(context.Background(), sessionFor(viewer), QuestionListInput{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}

	byID := map[string]map[string]any{}
	for _, item := range payload["questions"].([]map[string]any) {
		byID[item["id"].(string)] = item
	}
	if got := byID["q_1"]["userVote"]; got != "up" {
		t.Fatalf("expected userVote up on q_1, got %v", got)
	}
	if got := byID["q_2"]["userVote"]; got != nil {
		t.Fatalf("expected nil userVote on q_2, got %v", got)
	}
}

func TestListQuestionsRejectsUnknownSort(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	_, err := svc.ListQuestions(context.Background(), Session{}, QuestionListInput{Sort: "spiciest"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestListQuestionsUnansweredFilter(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	base := time.Now()
	for i, id := range []string{"q_1", "q_2", "q_3"} {
		seedQuestion(fs, id, author.ID, "question "+id)
		question := fs.questions[id]
		question.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		fs.questions[id] = question
	}
	answered := fs.questions["q_2"]
	answered.AnswerCount = 2
	fs.questions["q_2"] = answered
	svc := newTestService(t, fs)

	payload, err := svc.ListQuestions(context.Background(), Session{}, QuestionListInput{Page: 1, PageSize: 10, Sort: "unanswered"})
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}

	items := payload["questions"].([]map[string]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 unanswered questions, got %d", len(items))
	}
	// Answered questions are excluded, the rest come back newest first.
	if items[0]["id"] != "q_3" || items[1]["id"] != "q_1" {
		t.Fatalf("unexpected order: %v, %v", items[0]["id"], items[1]["id"])
	}
	if payload["totalCount"].(int) != 2 {
		t.Fatalf("expected totalCount 2, got %v", payload["totalCount"])
	}
}

func TestListQuestionsMostVotedOrder(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	for id, count := range map[string]int{"q_1": 1, "q_2": 9, "q_3": 4} {
		seedQuestion(fs, id, author.ID, "question "+id)
		question := fs.questions[id]
		question.VoteCount = count
		fs.questions[id] = question
	}
	svc := newTestService(t, fs)

	payload, err := svc.ListQuestions(context.Background(), Session{}, QuestionListInput{Page: 1, PageSize: 10, Sort: "most-voted"})
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}

	items := payload["questions"].([]map[string]any)
	got := make([]string, len(items))
	for i, item := range items {
		got[i] = item["id"].(string)
	}
	want := []string{"q_2", "q_3", "q_1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestGetQuestionBumpsViewCount(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	seedQuestion(fs, "q_1", author.ID, "How do goroutines work?")
	svc := newTestService(t, fs)

	for range 3 {
		if _, err := svc.GetQuestion(context.Background(), Session{}, "q_1"); err != nil {
			t.Fatalf("get question: %v", err)
		}
	}

	payload, err := svc.GetQuestion(context.Background(), Session{}, "q_1")
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if got := payload["viewCount"].(int); got != 4 {
		t.Fatalf("expected viewCount 4, got %d", got)
	}
}

func TestCreateQuestionValidation(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	svc := newTestService(t, fs)
	session := sessionFor(author)

	cases := []struct {
		name  string
		input CreateQuestionInput
	}{
		{"missing title", CreateQuestionInput{Description: "body"}},
		{"missing description", CreateQuestionInput{Title: "title"}},
		{"too many tags", CreateQuestionInput{Title: "t", Description: "d", Tags: []string{"a", "b", "c", "d", "e", "f"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateQuestion(context.Background(), session, tc.input)
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestCreateQuestionNormalizesTags(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	svc := newTestService(t, fs)

	payload, err := svc.CreateQuestion(context.Background(), sessionFor(author), CreateQuestionInput{
		Title:       "Generics in Go",
		Description: "How do type parameters work?",
		Tags:        []string{" Go ", "generics", "go"},
	})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}

	tags := payload["tags"].([]string)
	if len(tags) != 2 || tags[0] != "go" || tags[1] != "generics" {
		t.Fatalf("expected deduplicated lowercase tags [go generics], got %v", tags)
	}
}

func TestCreateQuestionForbiddenForBanned(t *testing.T) {
	fs := newFakeStore()
	banned := seedProfile(fs, "usr_1", "mallory", "banned")
	svc := newTestService(t, fs)

	_, err := svc.CreateQuestion(context.Background(), sessionFor(banned), CreateQuestionInput{
		Title: "t", Description: "d",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestDeleteQuestionOwnership(t *testing.T) {
	fs := newFakeStore()
	author := seedProfile(fs, "usr_1", "alice", "user")
	other := seedProfile(fs, "usr_2", "bob", "user")
	admin := seedProfile(fs, "usr_3", "root", "admin")
	seedQuestion(fs, "q_1", author.ID, "first")
	seedQuestion(fs, "q_2", author.ID, "second")
	svc := newTestService(t, fs)

	err := svc.DeleteQuestion(context.Background(), sessionFor(other), "q_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for non-author, got %v", err)
	}

	if err := svc.DeleteQuestion(context.Background(), sessionFor(author), "q_1"); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if err := svc.DeleteQuestion(context.Background(), sessionFor(admin), "q_2"); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestCreateAnswerNotifiesQuestionAuthor(t *testing.T) {
	fs := newFakeStore()
	asker := seedProfile(fs, "usr_1", "alice", "user")
	responder := seedProfile(fs, "usr_2", "bob", "user")
	seedQuestion(fs, "q_1", asker.ID, "How do channels close?")
	svc := newTestService(t, fs)

	if _, err := svc.CreateAnswer(context.Background(), sessionFor(responder), "q_1", CreateAnswerInput{Body: "With close()."}); err != nil {
		t.Fatalf("create answer: %v", err)
	}

	question, _ := fs.GetQuestion(context.Background(), "q_1")
	if question.AnswerCount != 1 {
		t.Fatalf("expected answerCount 1, got %d", question.AnswerCount)
	}
	notifications, _ := fs.ListNotifications(context.Background(), asker.ID, 10)
	if len(notifications) != 1 || notifications[0].Type != "answer" {
		t.Fatalf("expected one answer notification for the asker, got %v", notifications)
	}
}

func TestCreateAnswerSelfAnswerSkipsNotification(t *testing.T) {
	fs := newFakeStore()
	asker := seedProfile(fs, "usr_1", "alice", "user")
	seedQuestion(fs, "q_1", asker.ID, "Answered my own question")
	svc := newTestService(t, fs)

	if _, err := svc.CreateAnswer(context.Background(), sessionFor(asker), "q_1", CreateAnswerInput{Body: "Figured it out."}); err != nil {
		t.Fatalf("create answer: %v", err)
	}
	notifications, _ := fs.ListNotifications(context.Background(), asker.ID, 10)
	if len(notifications) != 0 {
		t.Fatalf("expected no self-notification, got %v", notifications)
	}
}

func TestAcceptAnswerOnlyByAsker(t *testing.T) {
	fs := newFakeStore()
	asker := seedProfile(fs, "usr_1", "alice", "user")
	responder := seedProfile(fs, "usr_2", "bob", "user")
	seedQuestion(fs, "q_1", asker.ID, "Which answer wins?")
	seedAnswer(fs, "a_1", "q_1", responder.ID, "first")
	seedAnswer(fs, "a_2", "q_1", responder.ID, "second")
	svc := newTestService(t, fs)

	_, err := svc.AcceptAnswer(context.Background(), sessionFor(responder), "q_1", "a_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for non-asker, got %v", err)
	}

	if _, err := svc.AcceptAnswer(context.Background(), sessionFor(asker), "q_1", "a_1"); err != nil {
		t.Fatalf("accept a_1: %v", err)
	}
	// Accepting a second answer moves the flag rather than duplicating it.
	if _, err := svc.AcceptAnswer(context.Background(), sessionFor(asker), "q_1", "a_2"); err != nil {
		t.Fatalf("accept a_2: %v", err)
	}
	first, _ := fs.GetAnswer(context.Background(), "a_1")
	second, _ := fs.GetAnswer(context.Background(), "a_2")
	if first.IsAccepted || !second.IsAccepted {
		t.Fatalf("expected accepted flag to move from a_1 to a_2")
	}
}

func TestVoteQuestionReputationEffects(t *testing.T) {
	ctx := context.Background()

	setup := func() (*Service, *fakeStore, Session) {
		fs := newFakeStore()
		seedProfile(fs, "usr_author", "alice", "user")
		voter := seedProfile(fs, "usr_voter", "bob", "user")
		seedQuestion(fs, "q_1", "usr_author", "scored question")
		return newTestService(t, fs), fs, sessionFor(voter)
	}

	rep := func(fs *fakeStore) int {
		profile, _ := fs.GetProfileByID(ctx, "usr_author")
		return profile.Reputation
	}

	t.Run("upvote lands +10", func(t *testing.T) {
		svc, fs, voter := setup()
		payload, err := svc.VoteQuestion(ctx, voter, "q_1", VoteInput{Direction: "up"})
		if err != nil {
			t.Fatalf("vote: %v", err)
		}
		if payload["voteCount"].(int) != 1 || payload["userVote"] != "up" {
			t.Fatalf("unexpected payload %v", payload)
		}
		if got := rep(fs); got != 10 {
			t.Fatalf("expected reputation 10, got %d", got)
		}
	})

	t.Run("toggle removes the upvote and its reputation", func(t *testing.T) {
		svc, fs, voter := setup()
		if _, err := svc.VoteQuestion(ctx, voter, "q_1", VoteInput{Direction: "up"}); err != nil {
			t.Fatalf("first vote: %v", err)
		}
		payload, err := svc.VoteQuestion(ctx, voter, "q_1", VoteInput{Direction: "up"})
		if err != nil {
			t.Fatalf("toggle: %v", err)
		}
		if payload["voteCount"].(int) != 0 || payload["userVote"] != nil {
			t.Fatalf("unexpected payload %v", payload)
		}
		if got := rep(fs); got != 0 {
			t.Fatalf("expected reputation back to 0, got %d", got)
		}
	})

	t.Run("downvote costs 2 but floors at zero", func(t *testing.T) {
		svc, fs, voter := setup()
		if _, err := svc.VoteQuestion(ctx, voter, "q_1", VoteInput{Direction: "down"}); err != nil {
			t.Fatalf("vote: %v", err)
		}
		if got := rep(fs); got != 0 {
			t.Fatalf("expected reputation floored at 0, got %d", got)
		}
		question, _ := fs.GetQuestion(ctx, "q_1")
		if question.VoteCount != -1 {
			t.Fatalf("expected voteCount -1, got %d", question.VoteCount)
		}
	})

	t.Run("flip from down to up swings the counter by 2", func(t *testing.T) {
		svc, fs, voter := setup()
		if _, err := svc.VoteQuestion(ctx, voter, "q_1", VoteInput{Direction: "down"}); err != nil {
			t.Fatalf("downvote: %v", err)
		}
		payload, err := svc.VoteQuestion(ctx, voter, "q_1", VoteInput{Direction: "up"})
		if err != nil {
			t.Fatalf("flip: %v", err)
		}
		if payload["voteCount"].(int) != 1 {
			t.Fatalf("expected voteCount 1 after flip, got %v", payload["voteCount"])
		}
		// -2 floored to 0, then +12 on the flip.
		if got := rep(fs); got != 12 {
			t.Fatalf("expected reputation 12 after flip, got %d", got)
		}
	})
}

func TestVoteRequiresAuthentication(t *testing.T) {
	fs := newFakeStore()
	seedProfile(fs, "usr_author", "alice", "user")
	seedQuestion(fs, "q_1", "usr_author", "no anonymous votes")
	svc := newTestService(t, fs)

	_, err := svc.VoteQuestion(context.Background(), Session{}, "q_1", VoteInput{Direction: "up"})
	if !errors.Is(err, vote.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if len(fs.votes) != 0 {
		t.Fatalf("anonymous vote must not touch the store")
	}
}

func TestVoteAnswerAdjustsAnswerAuthor(t *testing.T) {
	fs := newFakeStore()
	seedProfile(fs, "usr_author", "alice", "user")
	responder := seedProfile(fs, "usr_resp", "bob", "user")
	voter := seedProfile(fs, "usr_voter", "carol", "user")
	seedQuestion(fs, "q_1", "usr_author", "q")
	seedAnswer(fs, "a_1", "q_1", responder.ID, "answer body")
	svc := newTestService(t, fs)

	payload, err := svc.VoteAnswer(context.Background(), sessionFor(voter), "a_1", VoteInput{Direction: "up"})
	if err != nil {
		t.Fatalf("vote answer: %v", err)
	}
	if payload["voteCount"].(int) != 1 {
		t.Fatalf("expected voteCount 1, got %v", payload["voteCount"])
	}
	profile, _ := fs.GetProfileByID(context.Background(), responder.ID)
	if profile.Reputation != 10 {
		t.Fatalf("expected responder reputation 10, got %d", profile.Reputation)
	}
}

func TestSessionLifecycle(t *testing.T) {
	fs := newFakeStore()
	profile := seedProfile(fs, "usr_1", "alice", "user")
	svc := newTestService(t, fs)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, profile.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected access and refresh tokens")
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if parsed.UserID != profile.ID || parsed.Role != "user" {
		t.Fatalf("unexpected session %+v", parsed)
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken == session.RefreshToken {
		t.Fatalf("refresh must rotate the refresh token")
	}
	// The old refresh token is revoked by the rotation.
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatalf("expected old refresh token to be rejected")
	}

	if err := svc.Logout(ctx, refreshed, refreshed.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, refreshed.Token); err == nil {
		t.Fatalf("expected revoked access token to be rejected")
	}
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	fs := newFakeStore()
	profile := seedProfile(fs, "usr_1", "alice", "user")
	svc := newTestService(t, fs)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, profile.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := fs.SetProfileRole(ctx, profile.ID, "admin"); err != nil {
		t.Fatalf("set role: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Role != "admin" {
		t.Fatalf("expected refreshed role admin, got %q", refreshed.Role)
	}
}

func TestGetProfileIncludesBadgesAndQuestions(t *testing.T) {
	fs := newFakeStore()
	profile := seedProfile(fs, "usr_1", "alice", "user")
	seedQuestion(fs, "q_1", profile.ID, "her question")
	svc := newTestService(t, fs)

	payload, err := svc.GetProfile(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if payload["username"] != "alice" {
		t.Fatalf("unexpected username %v", payload["username"])
	}
	if len(payload["questions"].([]map[string]any)) != 1 {
		t.Fatalf("expected 1 question on profile")
	}
}

func TestLeaderboardExcludesBanned(t *testing.T) {
	fs := newFakeStore()
	alice := seedProfile(fs, "usr_1", "alice", "user")
	alice.Reputation = 50
	fs.profiles[alice.ID] = alice
	banned := seedProfile(fs, "usr_2", "mallory", "banned")
	banned.Reputation = 500
	fs.profiles[banned.ID] = banned
	svc := newTestService(t, fs)

	items, err := svc.Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(items) != 1 || items[0]["username"] != "alice" {
		t.Fatalf("expected only alice on the leaderboard, got %v", items)
	}
	if items[0]["rank"].(int) != 1 {
		t.Fatalf("expected rank 1, got %v", items[0]["rank"])
	}
}
