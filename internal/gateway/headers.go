package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-while/go-newsgate/internal/models"
)

// headerLines reconstructs the RFC-5322-style header block for an Article:
// From/Newsgroups/Date/Message-ID come from the committed Article's own
// columns, not from anything carried in the BP7 payload. group is used for
// Newsgroups only when the Article does not carry its group name.
func headerLines(a models.Article, group string) []string {
	if a.Newsgroup != "" {
		group = a.Newsgroup
	}
	lines := []string{
		fmt.Sprintf("Subject: %s", a.Subject),
		fmt.Sprintf("From: %s", a.From),
		fmt.Sprintf("Newsgroups: %s", group),
		fmt.Sprintf("Date: %s", a.CreatedAt.Format(time.RFC1123Z)),
		fmt.Sprintf("Message-ID: %s", a.MessageID),
	}
	if a.References != "" {
		lines = append(lines, fmt.Sprintf("References: %s", a.References))
	}
	if a.Path != "" {
		lines = append(lines, fmt.Sprintf("Path: %s", a.Path))
	}
	if a.ReplyTo != "" {
		lines = append(lines, fmt.Sprintf("Reply-To: %s", a.ReplyTo))
	}
	if a.Organization != "" {
		lines = append(lines, fmt.Sprintf("Organization: %s", a.Organization))
	}
	if a.UserAgent != "" {
		lines = append(lines, fmt.Sprintf("User-Agent: %s", a.UserAgent))
	}
	return lines
}

// bodyLines splits an Article's body on newlines. Dot-stuffing on the wire
// is handled by the NNTP layer's textproto.Writer.DotWriter, not here.
func bodyLines(a models.Article) []string {
	if a.Body == "" {
		return []string{""}
	}
	return strings.Split(a.Body, "\n")
}

// headerValue extracts one header field's value for HDR/XHDR, for the
// small set of fields the Article Store carries as columns.
func headerValue(a models.Article, group, field string) (string, bool) {
	switch field {
	case "subject":
		return a.Subject, true
	case "from":
		return a.From, true
	case "date":
		return a.CreatedAt.Format(time.RFC1123Z), true
	case "message-id":
		return a.MessageID, true
	case "references":
		return a.References, true
	case "newsgroups":
		return group, true
	case "bytes":
		return fmt.Sprintf("%d", len(a.Body)), true
	case "lines":
		return fmt.Sprintf("%d", len(bodyLines(a))), true
	default:
		return "", false
	}
}
