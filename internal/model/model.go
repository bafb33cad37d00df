// Package model declares the domain tables stored through the repository
// layer: chat conversations and messages, and RAG document metadata.
//
// Each type holds only the domain columns; id, tenant, version and
// timestamps live in repository.Meta.
package model

import (
	"github.com/roach88/tenantcore/internal/errs"
	"github.com/roach88/tenantcore/internal/repository"
)

// Conversation is a chat thread owned by one user of a tenant.
type Conversation struct {
	Title       string `json:"title" yaml:"title"`
	OwnerUserID string `json:"owner_user_id" yaml:"owner_user_id"`
	Archived    bool   `json:"archived" yaml:"archived"`
}

// Conversations is the conversations table.
var Conversations = repository.Table[Conversation]{
	Name:   "conversations",
	Entity: "conversation",
	Columns: []repository.Column[Conversation]{
		repository.Col("title", func(c *Conversation) *string { return &c.Title }).Filterable(),
		repository.Col("owner_user_id", func(c *Conversation) *string { return &c.OwnerUserID }).Filterable(),
		repository.Col("archived", func(c *Conversation) *bool { return &c.Archived }).Filterable(),
	},
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation. ConversationID must name a
// conversation of the same tenant; the schema enforces it with a composite
// foreign key.
type Message struct {
	ConversationID string `json:"conversation_id" yaml:"conversation_id"`
	Role           string `json:"role" yaml:"role"`
	Content        string `json:"content" yaml:"content"`
	TokenCount     int64  `json:"token_count" yaml:"token_count"`
}

// Messages is the messages table.
var Messages = repository.Table[Message]{
	Name:   "messages",
	Entity: "message",
	Columns: []repository.Column[Message]{
		repository.Col("conversation_id", func(m *Message) *string { return &m.ConversationID }).Filterable(),
		repository.Check(repository.Col("role", func(m *Message) *string { return &m.Role }).Filterable(), checkRole),
		repository.Col("content", func(m *Message) *string { return &m.Content }),
		repository.Check(repository.Col("token_count", func(m *Message) *int64 { return &m.TokenCount }).Filterable(), checkCount("token_count")),
	},
}

// Document processing states.
const (
	DocumentPending    = "pending"
	DocumentProcessing = "processing"
	DocumentReady      = "ready"
	DocumentFailed     = "failed"
)

// Document is the metadata of an ingested document. ContentHash is unique
// per tenant, so re-uploading the same bytes is a DUPLICATE error.
type Document struct {
	Title       string  `json:"title" yaml:"title"`
	SourceURI   *string `json:"source_uri,omitempty" yaml:"source_uri,omitempty"`
	ContentHash string  `json:"content_hash" yaml:"content_hash"`
	Status      string  `json:"status" yaml:"status"`
	ChunkCount  int64   `json:"chunk_count" yaml:"chunk_count"`
}

// Documents is the documents table.
var Documents = repository.Table[Document]{
	Name:   "documents",
	Entity: "document",
	Columns: []repository.Column[Document]{
		repository.Col("title", func(d *Document) *string { return &d.Title }).Filterable(),
		repository.Col("source_uri", func(d *Document) **string { return &d.SourceURI }).Filterable(),
		repository.Col("content_hash", func(d *Document) *string { return &d.ContentHash }).Filterable(),
		repository.Check(repository.Col("status", func(d *Document) *string { return &d.Status }).Filterable(), checkStatus),
		repository.Check(repository.Col("chunk_count", func(d *Document) *int64 { return &d.ChunkCount }).Filterable(), checkCount("chunk_count")),
	},
}

func checkRole(role string) error {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return nil
	}
	return errs.InvalidArgumentf("invalid_role", "unknown message role %q", role)
}

func checkStatus(status string) error {
	switch status {
	case DocumentPending, DocumentProcessing, DocumentReady, DocumentFailed:
		return nil
	}
	return errs.InvalidArgumentf("invalid_status", "unknown document status %q", status)
}

func checkCount(column string) func(int64) error {
	return func(n int64) error {
		if n < 0 {
			return errs.InvalidArgumentf("negative_count", "%s must not be negative, got %d", column, n)
		}
		return nil
	}
}
