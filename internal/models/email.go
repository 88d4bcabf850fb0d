package models

import "time"

// Folder is a mailbox name as listed by the server.
type Folder struct {
	Name string `json:"name"`
}

// EmailRecord is one assembled message as handed to the store/UI.
type EmailRecord struct {
	ID          string          `json:"id"`
	UID         uint32          `json:"uid"`
	Folder      string          `json:"folder"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Subject     string          `json:"subject"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	TextContent string          `json:"textContent"`
	HTMLContent string          `json:"htmlContent"`
	MessageID   string          `json:"messageId"`
	Size        uint32          `json:"size"`
	Flags       []string        `json:"flags"`
	IsRead      bool            `json:"isRead"`
	Attachments []AttachmentRef `json:"attachments"`
}

// AttachmentRef describes an attachment without its content.
type AttachmentRef struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        uint32 `json:"size"`
	ContentID   string `json:"contentId,omitempty"`
	PartID      string `json:"partId"`
	IsInline    bool   `json:"isInline"`
}

// FetchResult is the envelope returned for one fetch batch.
type FetchResult struct {
	Emails      []EmailRecord `json:"emails"`
	TotalCount  int           `json:"totalCount"`
	UnreadCount int           `json:"unreadCount"`
	Folder      string        `json:"folder"`
	LastSync    time.Time     `json:"lastSync"`
}
