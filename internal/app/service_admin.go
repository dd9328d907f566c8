package app

import (
	"context"
	"strings"

	"quorum/api/internal/adminsession"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

// The admin dashboard sits behind its own credential gate, separate from the
// member identity system. Holding an admin role token does NOT open the
// dashboard, and holding the dashboard session does not grant member
// permissions; the two systems are deliberately not unified.

func (s *Service) AdminLogin(username, password string) (map[string]any, error) {
	if err := s.adminGate.Grant(username, password); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

func (s *Service) AdminLogout() error {
	return s.adminGate.Logout()
}

func (s *Service) AdminStatus() (map[string]any, error) {
	status, err := s.adminGate.Check()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"authenticated": status == adminsession.StatusValid,
		"status":        string(status),
	}, nil
}

// requireAdminGate rejects the request unless the dashboard session flag is
// present and inside its validity window.
func (s *Service) requireAdminGate() error {
	status, err := s.adminGate.Check()
	if err != nil {
		return err
	}
	if status != adminsession.StatusValid {
		return authRequired()
	}
	return nil
}

func (s *Service) AdminStats(ctx context.Context) (map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}
	stats, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"totalUsers":     stats.TotalUsers,
		"totalQuestions": stats.TotalQuestions,
		"totalAnswers":   stats.TotalAnswers,
		"todayQuestions": stats.TodayQuestions,
	}, nil
}

func (s *Service) AdminListUsers(ctx context.Context, limit int) ([]map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}
	profiles, err := s.store.ListProfiles(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(profiles))
	for i, p := range profiles {
		items[i] = map[string]any{
			"id":         p.ID,
			"username":   p.Username,
			"email":      p.Email,
			"role":       p.Role,
			"reputation": p.Reputation,
			"isVerified": p.IsEmailVerified,
			"createdAt":  p.CreatedAt,
		}
	}
	return items, nil
}

var adminAssignableRoles = map[string]struct{}{
	"user":   {},
	"admin":  {},
	"banned": {},
}

// AdminSetRole covers ban, unban and promote. Demoting the last admin is not
// prevented; the dashboard gate keeps working regardless of member roles.
func (s *Service) AdminSetRole(ctx context.Context, userID, role string) (map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}

	role = strings.TrimSpace(role)
	if _, ok := adminAssignableRoles[role]; !ok {
		return nil, validationError("role must be one of: user, admin, banned")
	}

	if err := s.store.SetProfileRole(ctx, userID, role); err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       profile.ID,
		"username": profile.Username,
		"role":     profile.Role,
	}, nil
}

func (s *Service) AdminListQuestions(ctx context.Context, input QuestionListInput) (map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}
	questions, total, err := s.store.ListQuestions(ctx, store.QuestionFilter{
		Page:     input.Page,
		PageSize: input.PageSize,
		Query:    strings.TrimSpace(input.Query),
		Sort:     "newest",
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(questions))
	for i, q := range questions {
		items[i] = questionPayload(q)
	}
	return map[string]any{"questions": items, "totalCount": total}, nil
}

func (s *Service) AdminListRecentAnswers(ctx context.Context, limit int) ([]map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}
	answers, err := s.store.ListRecentAnswers(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(answers))
	for i, a := range answers {
		items[i] = answerPayload(a)
	}
	return items, nil
}

func (s *Service) AdminDeleteQuestion(ctx context.Context, questionID string) error {
	if err := s.requireAdminGate(); err != nil {
		return err
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

func (s *Service) AdminDeleteAnswer(ctx context.Context, answerID string) error {
	if err := s.requireAdminGate(); err != nil {
		return err
	}
	answer, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAnswer(ctx, answerID); err != nil {
		return err
	}
	if err := s.store.AdjustAnswerCount(ctx, answer.QuestionID, -1); err != nil {
		return err
	}
	s.notifier.Publish(ctx, "answers:"+answer.QuestionID, "deleted", answerID)
	return nil
}

// ---------------------------------------------------------------------------
// Announcements

func (s *Service) AdminListAnnouncements(ctx context.Context) ([]map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}
	announcements, err := s.store.ListAnnouncements(ctx, false)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(announcements))
	for i, a := range announcements {
		items[i] = announcementPayload(a)
	}
	return items, nil
}

func (s *Service) AdminCreateAnnouncement(ctx context.Context, input AnnouncementInput) (map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	body := strings.TrimSpace(input.Body)
	if title == "" {
		return nil, validationError("title is required")
	}
	if body == "" {
		return nil, validationError("body is required")
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	announcement := store.Announcement{
		ID:        util.NewID("ann"),
		Title:     title,
		Body:      body,
		IsActive:  active,
		CreatedBy: s.cfg.AdminUsername,
	}
	if err := s.store.InsertAnnouncement(ctx, announcement); err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, "announcements", "created", announcement.ID)
	return announcementPayload(announcement), nil
}

func (s *Service) AdminUpdateAnnouncement(ctx context.Context, id string, input AnnouncementInput) (map[string]any, error) {
	if err := s.requireAdminGate(); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	body := strings.TrimSpace(input.Body)
	if title != "" || body != "" {
		if title == "" || body == "" {
			return nil, validationError("title and body must be updated together")
		}
		if err := s.store.UpdateAnnouncement(ctx, id, title, body); err != nil {
			return nil, err
		}
	}
	if input.IsActive != nil {
		if err := s.store.SetAnnouncementActive(ctx, id, *input.IsActive); err != nil {
			return nil, err
		}
	}

	announcements, err := s.store.ListAnnouncements(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, a := range announcements {
		if a.ID == id {
			s.notifier.Publish(ctx, "announcements", "updated", id)
			return announcementPayload(a), nil
		}
	}
	return nil, notFound("Announcement not found")
}

func (s *Service) AdminDeleteAnnouncement(ctx context.Context, id string) error {
	if err := s.requireAdminGate(); err != nil {
		return err
	}
	if err := s.store.DeleteAnnouncement(ctx, id); err != nil {
		return err
	}
	s.notifier.Publish(ctx, "announcements", "deleted", id)
	return nil
}
