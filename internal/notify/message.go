// Package notify expands audience tags to channels and dispatches
// formatted announcement messages.
package notify

import (
	"strings"
	"time"

	"portalwatch/internal/models"
)

// Kind distinguishes first-seen notices from edits.
type Kind string

// Notification kinds.
const (
	KindNew     Kind = "new"
	KindUpdated Kind = "updated"
)

const (
	labelNew          = "【新規】"
	labelUpdated      = "【更新】"
	labelNoPermission = "閲覧権限がありません"
	dateTimeLayout    = "2006/01/02 15:04"
)

// RenderMessage builds the chat message for one notice. Timestamps are
// rendered in loc. A nil content means the body was not viewable and gets
// an explicit placeholder. Attachments with a durable reference render as
// clickable links, the rest as plain labels.
func RenderMessage(item models.Notice, kind Kind, loc *time.Location) string {
	label := labelNew
	if kind == KindUpdated {
		label = labelUpdated
	}

	content := labelNoPermission
	if item.Content != nil {
		content = *item.Content
	}

	var sb strings.Builder

	sb.WriteString("*" + label + "*\n\n")
	sb.WriteString("*" + item.Title + "*\n\n")
	sb.WriteString("*対象:* " + strings.Join(item.To, ", ") + "\n")
	sb.WriteString("*日時:* " + item.Posted.In(loc).Format(dateTimeLayout) + " 投稿, ")
	sb.WriteString(item.Updated.In(loc).Format(dateTimeLayout) + " 更新\n\n")
	sb.WriteString(content)

	if len(item.Attachments) > 0 {
		sb.WriteString("\n\n*添付ファイル:*\n")
		sb.WriteString(renderAttachments(item.Attachments))
	}

	return sb.String()
}

func renderAttachments(attachments []models.Attachment) string {
	lines := make([]string, 0, len(attachments))

	for _, att := range attachments {
		if att.FileURL != nil {
			lines = append(lines, "- <"+*att.FileURL+"|"+att.Text+">")
		} else {
			lines = append(lines, "- "+att.Text)
		}
	}

	return strings.Join(lines, "\n")
}
