package notifier

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"meetsync/internal/model"
)

// Message is a rendered subject and body.
type Message struct {
	Subject string
	Body    string
}

type tplData struct {
	Meeting     model.Meeting
	Participant model.Participant
	Link        string
	Dates       []string
	FinalDate   string
}

type tplPair struct {
	subject *template.Template
	body    *template.Template
}

func mustPair(name, subject, body string) tplPair {
	return tplPair{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

var fullTemplates = map[model.NotificationKind]tplPair{
	model.NotifyInvitation: mustPair("invitation",
		`Meeting invitation: {{.Meeting.Title}}`,
		`Hello {{.Participant.Name}},

{{.Meeting.Organizer}} invites you to "{{.Meeting.Title}}" ({{.Meeting.DurationMinutes}} min, {{.Meeting.Modality}}).
{{- with .Meeting.Description}}

{{.}}
{{- end}}
{{- with .Meeting.Location}}
Location: {{.}}
{{- end}}

Proposed dates:
{{range .Dates}}  - {{.}}
{{end}}
Pick the dates that work for you:
{{.Link}}
`),
	model.NotifyReminder: mustPair("reminder",
		`Reminder: meeting invitation {{.Meeting.Title}}`,
		`Hello {{.Participant.Name}},

This is a reminder that you were invited to "{{.Meeting.Title}}" and we have not received your availability yet.

Proposed dates:
{{range .Dates}}  - {{.}}
{{end}}
Please respond as soon as possible so the meeting can be scheduled:
{{.Link}}
`),
	model.NotifyConfirmed: mustPair("confirmed",
		`Meeting confirmed: {{.Meeting.Title}}`,
		`Hello {{.Participant.Name}},

"{{.Meeting.Title}}" is confirmed for {{.FinalDate}} ({{.Meeting.DurationMinutes}} min, {{.Meeting.Modality}}).
{{- with .Meeting.Location}}
Location: {{.}}
{{- end}}
`),
	model.NotifyCancelled: mustPair("cancelled",
		`Meeting cancelled: {{.Meeting.Title}}`,
		`Hello {{.Participant.Name}},

"{{.Meeting.Title}}" has been cancelled by {{.Meeting.Organizer}}. No action is needed.
`),
}

var fallbackTemplates = map[model.NotificationKind]tplPair{
	model.NotifyInvitation: mustPair("invitation.fallback",
		`Meeting: {{.Meeting.Title}}`,
		`Hello {{.Participant.Name}}, you are invited to "{{.Meeting.Title}}". Please choose dates: {{.Link}}`),
	model.NotifyReminder: mustPair("reminder.fallback",
		`Reminder - meeting: {{.Meeting.Title}}`,
		`Hello {{.Participant.Name}}, this is a reminder for the meeting "{{.Meeting.Title}}" you were invited to. Please choose dates: {{.Link}}`),
	model.NotifyConfirmed: mustPair("confirmed.fallback",
		`Confirmed: {{.Meeting.Title}}`,
		`"{{.Meeting.Title}}" is confirmed for {{.FinalDate}}.`),
	model.NotifyCancelled: mustPair("cancelled.fallback",
		`Cancelled: {{.Meeting.Title}}`,
		`"{{.Meeting.Title}}" has been cancelled.`),
}

// Supported reports whether kind can be sent through a transport.
func Supported(kind model.NotificationKind) bool {
	_, ok := fullTemplates[kind]
	return ok
}

const dateLayout = "Mon 02 Jan 2006 15:04 MST"

// Render produces the message for one participant.
func Render(kind model.NotificationKind, fallback bool, m model.Meeting, p model.Participant, baseURL string) (Message, error) {
	set := fullTemplates
	if fallback {
		set = fallbackTemplates
	}
	pair, ok := set[kind]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	data := tplData{
		Meeting:     m,
		Participant: p,
		Link:        model.InvitationLink(baseURL, m.ID, m.InvitationCode, p.Email),
	}
	if strings.TrimSpace(data.Participant.Name) == "" {
		data.Participant.Name = p.Email
	}
	for _, d := range m.ProposedDates {
		label := d.Label
		if label == "" {
			label = d.Datetime.UTC().Format(dateLayout)
		}
		data.Dates = append(data.Dates, label)
	}
	if m.FinalDate != nil {
		data.FinalDate = m.FinalDate.UTC().Format(dateLayout)
	}

	var subj, body bytes.Buffer
	if err := pair.subject.Execute(&subj, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", kind, err)
	}
	if err := pair.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", kind, err)
	}
	return Message{Subject: strings.TrimSpace(subj.String()), Body: body.String()}, nil
}

// InboxText is the short title/message stored in the recipient's inbox.
func InboxText(kind model.NotificationKind, m model.Meeting) (title, message string) {
	switch kind {
	case model.NotifyInvitation:
		return "New meeting invitation", fmt.Sprintf("You were invited to %q", m.Title)
	case model.NotifyReminder:
		return "Reminder", fmt.Sprintf("Please respond to %q", m.Title)
	case model.NotifyConfirmed:
		when := ""
		if m.FinalDate != nil {
			when = " for " + m.FinalDate.UTC().Format(time.RFC3339)
		}
		return "Meeting confirmed", fmt.Sprintf("%q is confirmed%s", m.Title, when)
	case model.NotifyCancelled:
		return "Meeting cancelled", fmt.Sprintf("%q was cancelled", m.Title)
	}
	return string(kind), m.Title
}
