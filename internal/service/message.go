package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"taskminder/internal/model"
)

const (
	iconDefault = "🟢"
	iconDue     = "⏳"
	iconOverdue = "⚠️"
)

// PushMessage is the payload handed to a push transport.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// Email is a rendered reminder email.
type Email struct {
	Subject string
	HTML    string
}

type catalog struct {
	pushTitle    string
	emailSubject string
	dueOn        string
	overdue      string
	dueIn        string
	open         string
	greeting     string
	untitled     string
}

var catalogs = map[string]catalog{
	"en": {
		pushTitle:    "Reminder",
		emailSubject: "Reminder: %s",
		dueOn:        "due %s",
		overdue:      "overdue since %s",
		dueIn:        "≈%d d. left",
		open:         "Open task",
		greeting:     "You asked us to remind you about this task.",
		untitled:     "Untitled task",
	},
	"ru": {
		pushTitle:    "Напоминание",
		emailSubject: "Напоминание: %s",
		dueOn:        "до %s",
		overdue:      "просрочено с %s",
		dueIn:        "осталось ≈%d дн.",
		open:         "Открыть задачу",
		greeting:     "Вы просили напомнить об этой задаче.",
		untitled:     "Задача без названия",
	},
}

func catalogFor(locale string) catalog {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if c, ok := catalogs[locale]; ok {
		return c
	}
	return catalogs["en"]
}

// Composer renders localized reminder content with a deep link to the task.
type Composer struct {
	baseURL string
}

func NewComposer(baseURL string) *Composer {
	return &Composer{baseURL: strings.TrimRight(baseURL, "/")}
}

// TaskLink returns the deep link to a task.
func (c *Composer) TaskLink(taskID string) string {
	return fmt.Sprintf("%s/tasks/%s", c.baseURL, taskID)
}

// Push builds a plain-text push notification. Transports escape as needed.
func (c *Composer) Push(reminder model.Reminder, task model.Task, locale string, now time.Time) PushMessage {
	cat := catalogFor(locale)
	icon, due := dueLine(task, cat, now)

	body := fmt.Sprintf("%s %s", icon, title(task, cat))
	if due != "" {
		body += " · " + due
	}

	return PushMessage{
		Title: cat.pushTitle,
		Body:  body,
		Data: map[string]string{
			"reminderId": reminder.ID,
			"taskId":     task.ID,
			"link":       c.TaskLink(task.ID),
		},
	}
}

// Email builds an HTML reminder email.
func (c *Composer) Email(task model.Task, locale string, now time.Time) Email {
	cat := catalogFor(locale)
	icon, due := dueLine(task, cat, now)
	name := title(task, cat)

	var sb strings.Builder
	sb.WriteString("<p>")
	sb.WriteString(html.EscapeString(cat.greeting))
	sb.WriteString("</p>\n")
	sb.WriteString(fmt.Sprintf("<p>%s <b>%s</b>", icon, html.EscapeString(name)))
	if due != "" {
		sb.WriteString(fmt.Sprintf("<br>⏰ %s", html.EscapeString(due)))
	}
	if desc := strings.TrimSpace(task.Description); desc != "" {
		sb.WriteString(fmt.Sprintf("<br>📝 %s", html.EscapeString(desc)))
	}
	sb.WriteString("</p>\n")
	link := html.EscapeString(c.TaskLink(task.ID))
	sb.WriteString(fmt.Sprintf(`<p><a href="%s">%s</a></p>`, link, html.EscapeString(cat.open)))

	return Email{
		Subject: fmt.Sprintf(cat.emailSubject, name),
		HTML:    sb.String(),
	}
}

func title(task model.Task, cat catalog) string {
	if t := strings.TrimSpace(task.Title); t != "" {
		return t
	}
	return cat.untitled
}

func dueLine(task model.Task, cat catalog, now time.Time) (string, string) {
	if task.DueDate == nil {
		return iconDefault, ""
	}
	d := task.DueDate.UTC()
	stamp := d.Format("2006-01-02 15:04 UTC")
	if task.AllDay {
		stamp = d.Format("2006-01-02")
	}
	switch {
	case now.After(d):
		return iconOverdue, fmt.Sprintf(cat.overdue, stamp)
	case d.Sub(now) <= 48*time.Hour:
		return iconDue, fmt.Sprintf(cat.dueOn, stamp)
	default:
		daysLeft := int(d.Sub(now).Hours()/24) + 1
		return iconDefault, fmt.Sprintf(cat.dueOn, stamp) + ", " + fmt.Sprintf(cat.dueIn, daysLeft)
	}
}
