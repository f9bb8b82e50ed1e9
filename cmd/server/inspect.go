package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/store"
	"github.com/ifuryst/murmur/pkg/util"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(12)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

var statusColors = map[string]lipgloss.Color{
	string(models.ContentStatusPending):     "#E5C07B",
	string(models.ContentStatusApproved):    "#61AFEF",
	string(models.ContentStatusPublished):   "#98C379",
	string(models.ContentStatusFailed):      "#E06C75",
	string(models.ContentStatusCancelled):   "#888888",
	string(models.TaskStatusProcessing):     "#61AFEF",
	string(models.TaskStatusCompleted):      "#98C379",
	string(models.PublicationStatusSuccess): "#98C379",
}

func badge(status string) string {
	color, ok := statusColors[status]
	if !ok {
		color = "#AAAAAA"
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(strings.ToUpper(status))
}

type report struct {
	content      *models.Content
	tasks        []models.Task
	publications []models.Publication
}

func buildReport(ctx context.Context, s store.Store, id string) (*report, error) {
	content, err := s.GetContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load content %s: %w", id, err)
	}
	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	pubs, err := s.ListPublications(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load publications: %w", err)
	}
	return &report{content: content, tasks: tasks, publications: pubs}, nil
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (r *report) Render() string {
	c := r.content
	body := c.Body()

	summary := []string{
		field("status", badge(string(c.Status))),
		field("platform", string(c.Platform)),
		field("targets", joinPlatforms(c.TargetPlatforms())),
		field("prompt", util.Truncate(c.UserPrompt, 80, "...")),
	}
	if body.Root.Name != "" {
		summary = append(summary, field("title", body.Root.Name))
	}
	if c.ImageURL != "" {
		summary = append(summary, field("image", c.ImageURL))
	}
	if c.ApprovalExpiresAt != nil {
		summary = append(summary, field("expires", stamp(c.ApprovalExpiresAt)))
	}
	if c.CancelReason != "" {
		summary = append(summary, field("cancelled", c.CancelReason))
	}
	if c.Error != "" {
		summary = append(summary, field("error", c.Error))
	}

	tasks := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		line := fmt.Sprintf("%-9s %s  attempts=%d", t.Type, badge(string(t.Status)), t.Attempts)
		if t.Error != "" {
			line += "  " + util.Truncate(t.Error, 60, "...")
		}
		tasks = append(tasks, line)
	}
	if len(tasks) == 0 {
		tasks = append(tasks, "none")
	}

	pubs := make([]string, 0, len(r.publications))
	for _, p := range r.publications {
		detail := p.URL
		if !p.Succeeded() {
			detail = p.ErrorMessage
		}
		pubs = append(pubs, fmt.Sprintf("%-9s %s  %s", p.Platform, badge(string(p.Status)), detail))
	}
	if len(pubs) == 0 {
		pubs = append(pubs, "none")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("CONTENT · "+c.ID),
		boxStyle.Render(strings.Join(summary, "\n")),
		titleStyle.Render("TASKS"),
		boxStyle.Render(strings.Join(tasks, "\n")),
		titleStyle.Render("PUBLICATIONS"),
		boxStyle.Render(strings.Join(pubs, "\n")),
	)
}

func joinPlatforms(ps []models.Platform) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
