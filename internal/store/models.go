package store

import (
	"sort"
	"time"
)

// AIAssistantID is the sender id of every generated message.
const AIAssistantID = "AI_ASSISTANT"

type MessageType string

const (
	TypeText       MessageType = "text"
	TypeAIResponse MessageType = "ai_response"
	TypeSmartReply MessageType = "smart_reply"
	TypeFile       MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeAIResponse, TypeSmartReply, TypeFile:
		return true
	}
	return false
}

// Attachment references a file held by the platform's file service.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	ThreadID    string       `json:"threadId"`
	Type        MessageType  `json:"type"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	Read        bool         `json:"read"`
}

// IsAssistant reports whether the message was authored by the assistant.
func (m *Message) IsAssistant() bool {
	return m.From == AIAssistantID || m.Type == TypeAIResponse
}

// CanonicalThreadID pairs two participants independent of direction, so a reply lands in the same thread.
func CanonicalThreadID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}
