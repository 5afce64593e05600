package domain

import "time"

// Attachment describes a file already uploaded elsewhere; the relay
// forwards the descriptor, never the bytes.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

// ChatMessage is created by the relay on receipt and handed to the
// persistence sink. The timestamp is assigned at relay time.
type ChatMessage struct {
	SenderID   UserID      `json:"senderId"`
	SenderRole Role        `json:"senderRole"`
	Content    string      `json:"message"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// TranscriptionEntry is a fragment of the live call transcript.
type TranscriptionEntry struct {
	SenderRole Role      `json:"senderRole"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}
