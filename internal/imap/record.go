package imap

import (
	"time"

	"github.com/emersion/go-imap"

	"github.com/gvso/nolas/internal/models"
)

// RecordFromMessage converts a fetched message into the envelope-level
// record delivered to applications. The message id doubles as the record id;
// the thread id falls back to the message id when In-Reply-To is absent.
func RecordFromMessage(account *models.Account, folder string, msg *imap.Message) models.MessageRecord {
	record := models.MessageRecord{
		GrantID: account.UUID.String(),
		Object:  "message",
		Folders: []string{folder},
		UID:     msg.Uid,
		Unread:  true,
		Date:    time.Now().Unix(),
	}

	if !msg.InternalDate.IsZero() {
		record.Date = msg.InternalDate.Unix()
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			record.Unread = false
		case imap.FlaggedFlag:
			record.Starred = true
		}
	}

	env := msg.Envelope
	if env == nil {
		return record
	}

	record.ID = env.MessageId
	record.Subject = env.Subject
	record.From = addressList(env.From)
	record.To = addressList(env.To)
	record.Cc = addressList(env.Cc)
	record.Bcc = addressList(env.Bcc)
	record.ReplyTo = addressList(env.ReplyTo)
	if !env.Date.IsZero() {
		record.Date = env.Date.Unix()
	}
	record.ThreadID = env.InReplyTo
	if record.ThreadID == "" {
		record.ThreadID = env.MessageId
	}

	return record
}

// addressList converts IMAP envelope addresses to name/email pairs.
func addressList(addresses []*imap.Address) []models.EmailName {
	if len(addresses) == 0 {
		return nil
	}

	out := make([]models.EmailName, 0, len(addresses))
	for _, address := range addresses {
		out = append(out, models.EmailName{
			Name:  address.PersonalName,
			Email: address.Address(),
		})
	}
	return out
}
