package workflow

import (
	"fmt"

	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/errcodes"
	"github.com/tejzpr/training-desk/internal/notify"
)

func mentionUser(id string) string { return "<@" + id + ">" }
func mentionRole(id string) string { return "<@&" + id + ">" }

func (e *Engine) submissionPost(rec *db.Request) notify.Notification {
	title, summary := "LASD Training Log", "This training entry has been successfully logged."
	group := "Yes"
	if rec.Category == db.CategoryElevated {
		title, summary = "EVOC Training Request", "An EVOC training request has been successfully logged."
		group = "N/A (ERR CODE " + errcodes.GroupNotRequired + ")"
	}

	var mentions []string
	if e.cfg.ReviewRole != "" {
		mentions = append(mentions, mentionRole(e.cfg.ReviewRole))
	}
	mentions = append(mentions, mentionUser(rec.SubmitterID))

	return notify.Notification{
		Kind:      notify.KindSubmissionReceived,
		Recipient: notify.Channel(e.cfg.ReviewChannel),
		Category:  rec.Category,
		RecordID:  rec.ID,
		Title:     title,
		Summary:   summary,
		Mentions:  mentions,
		Fields: []notify.Field{
			{Name: "Username", Value: mentionUser(rec.SubmitterID), Inline: true},
			{Name: "Training Type", Value: string(rec.Category), Inline: true},
			{Name: "Group Status", Value: group, Inline: true},
			{Name: "Available Time", Value: rec.Availability},
			{Name: "Training ID", Value: rec.ID},
		},
	}
}

func submissionConfirmation(rec *db.Request) notify.Notification {
	summary := "Your training has been successfully submitted and is awaiting an FTO to approve it. Please be patient."
	if rec.Category == db.CategoryElevated {
		summary = "Your EVOC training request has been logged and is awaiting assignment."
	}
	n := notify.Notification{
		Kind:      notify.KindSubmissionReceived,
		Recipient: notify.User(rec.SubmitterID),
		Category:  rec.Category,
		RecordID:  rec.ID,
		Title:     "Training Submitted",
		Summary:   summary,
		Fields:    []notify.Field{{Name: "Training ID", Value: rec.ID}},
	}
	if rec.NotificationRef != nil {
		n.Fields = append(n.Fields, notify.Field{Name: "Training Message", Value: *rec.NotificationRef})
	}
	return n
}

func acceptedMessage(rec *db.Request) notify.Notification {
	return notify.Notification{
		Kind:      notify.KindRequestAccepted,
		Recipient: notify.User(rec.SubmitterID),
		Category:  rec.Category,
		RecordID:  rec.ID,
		Title:     "Training Request Accepted!",
		Summary: "Your training request has been accepted! Please get ready for your training session: " +
			"prepare the necessary materials, be on time, be in the briefing room and follow any further " +
			"instructions from the training coordinator.",
		Fields: []notify.Field{{Name: "Training ID", Value: rec.ID}},
	}
}

func (e *Engine) acceptedPost(rec *db.Request) notify.Notification {
	return notify.Notification{
		Kind:      notify.KindRequestAccepted,
		Recipient: notify.Channel(e.cfg.ReviewChannel),
		Category:  rec.Category,
		RecordID:  rec.ID,
		Title:     "Training Request Accepted!",
		Summary: fmt.Sprintf("%s, your training request has been accepted! Please check your DMs for instructions on how to get ready for your session.",
			mentionUser(rec.SubmitterID)),
		Mentions: []string{mentionUser(rec.SubmitterID)},
		Fields: []notify.Field{
			{Name: "Training ID", Value: rec.ID, Inline: true},
			{Name: "Accepted By", Value: mentionUser(rec.AcceptedBy), Inline: true},
		},
	}
}

func (e *Engine) resultPost(host string, cmd LogResult) notify.Notification {
	notes := cmd.Notes
	if notes == "" {
		notes = "No additional notes."
	}
	return notify.Notification{
		Kind:      notify.KindTrainingResult,
		Recipient: notify.Channel(e.cfg.ResultsChannel),
		Category:  db.Category(cmd.Category),
		Title:     "Training Results",
		Summary:   fmt.Sprintf("Training results for %s", cmd.Trainee),
		Mentions:  []string{mentionUser(host)},
		Fields: []notify.Field{
			{Name: "Trainee", Value: cmd.Trainee},
			{Name: "Score", Value: cmd.Score},
			{Name: "Status", Value: cmd.Status},
			{Name: "Side Notes", Value: notes},
			{Name: "Training Type", Value: cmd.Category},
			{Name: "Host", Value: mentionUser(host)},
		},
	}
}
