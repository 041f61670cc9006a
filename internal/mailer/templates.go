package mailer

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"time"
	texttemplate "text/template"

	"github.com/Priya8975/block-reminders/internal/domain"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt"))
)

const (
	TagReminder  = "block-reminder"
	TagTestEmail = "test-email"

	timeLayout = "Mon, 02 Jan 2006 15:04 MST"
)

// Renderer turns reminders into messages. Sender is the product name shown
// in the footer.
type Renderer struct {
	Sender string
}

type reminderView struct {
	RecipientName string
	Title         string
	Description   string
	Start         string
	End           string
	LeadMinutes   int
	Sender        string
}

type testEmailView struct {
	Sender string
	SentAt string
}

// Reminder renders the email for r using the block snapshot taken at
// enqueue time.
func (rd Renderer) Reminder(r domain.Reminder) (Message, error) {
	view := reminderView{
		RecipientName: r.RecipientName,
		Title:         r.Title,
		Start:         r.BlockStartTime.UTC().Format(timeLayout),
		End:           r.BlockEndTime.UTC().Format(timeLayout),
		LeadMinutes:   int(domain.LeadTime.Minutes()),
		Sender:        rd.Sender,
	}
	if r.Description != nil {
		view.Description = *r.Description
	}

	html, text, err := render("reminder", view)
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:      r.RecipientAddress,
		ToName:  r.RecipientName,
		Subject: r.SubjectLine(),
		HTML:    html,
		Text:    text,
		Tag:     TagReminder,
	}, nil
}

// TestEmail renders the message sent by the test email endpoint.
func (rd Renderer) TestEmail(to string, sentAt time.Time) (Message, error) {
	html, text, err := render("test_email", testEmailView{
		Sender: rd.Sender,
		SentAt: sentAt.UTC().Format(timeLayout),
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:      to,
		Subject: "Test email from " + rd.Sender,
		HTML:    html,
		Text:    text,
		Tag:     TagTestEmail,
	}, nil
}

func render(name string, data any) (string, string, error) {
	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html", data); err != nil {
		return "", "", err
	}
	if err := textTemplates.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return "", "", err
	}
	return html.String(), text.String(), nil
}
