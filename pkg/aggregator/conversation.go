package aggregator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/model"
)

type EntryKind string

const (
	EntryTranscript EntryKind = "transcript"
	EntryContext    EntryKind = "context"
)

var ErrUnknownItem = errors.New("item is not part of the conversation")

// Entry is one block of the conversation: a voice message or a note the user typed.
type Entry struct {
	Kind       EntryKind                 `json:"kind"`
	ItemID     string                    `json:"item_id,omitempty"`
	FileName   string                    `json:"file_name,omitempty"`
	RecordedAt time.Time                 `json:"recorded_at,omitempty"`
	Status     model.TranscriptionStatus `json:"status,omitempty"`
	Text       string                    `json:"text"`
	EngineUsed model.EngineID            `json:"engine_used,omitempty"`
	ErrorKind  model.ErrorKind           `json:"error_kind,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Engines    []model.EngineID          `json:"engines_tried,omitempty"`
	// Manual is set when the user typed the transcript of a failed item.
	Manual bool `json:"manual,omitempty"`
}

// NeedsAttention reports a voice message without a transcript.
func (e Entry) NeedsAttention() bool {
	return e.Kind == EntryTranscript && (e.Status == model.StatusFailed || e.Status == model.StatusCancelled)
}

// Conversation is the editable, ordered document handed to export. A failed item
// stays in place so the rest of the batch can always be exported.
type Conversation struct {
	Entries []Entry `json:"entries"`
}

func NewConversation(batch Batch, items []model.AudioItem) *Conversation {
	index := indexItems(items)
	entries := make([]Entry, 0, len(batch.Results))
	for _, result := range batch.Results {
		item := index[result.ItemID]
		entries = append(entries, Entry{
			Kind:       EntryTranscript,
			ItemID:     result.ItemID,
			FileName:   fileName(item),
			RecordedAt: item.RecordedAt,
			Status:     result.Status,
			Text:       result.Text,
			EngineUsed: result.EngineUsed,
			ErrorKind:  result.ErrorKind,
			Error:      result.Error,
			Engines:    result.EnginesTried(),
		})
	}
	return &Conversation{Entries: entries}
}

func fileName(item model.AudioItem) string {
	if item.SourcePath == "" {
		return ""
	}
	return item.FileName()
}

// InsertContext places a note after the entry at position; -1 puts it first.
func (c *Conversation) InsertContext(position int, text string) error {
	if position < -1 || position >= len(c.Entries) {
		return fmt.Errorf("position %d out of range [-1, %d)", position, len(c.Entries))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("context text is empty")
	}

	entry := Entry{Kind: EntryContext, Text: text}
	at := position + 1
	c.Entries = append(c.Entries, Entry{})
	copy(c.Entries[at+1:], c.Entries[at:])
	c.Entries[at] = entry
	return nil
}

// Failed lists the voice messages the user has to retry, type in, or skip.
func (c *Conversation) Failed() []Entry {
	var failed []Entry
	for _, entry := range c.Entries {
		if entry.NeedsAttention() {
			failed = append(failed, entry)
		}
	}
	return failed
}

// SetManualTranscript fills in the text of a voice message by hand.
func (c *Conversation) SetManualTranscript(itemID string, text string) error {
	i := c.find(itemID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	c.Entries[i].Text = strings.TrimSpace(text)
	c.Entries[i].Manual = true
	c.Entries[i].Status = model.StatusSucceeded
	c.Entries[i].ErrorKind = ""
	c.Entries[i].Error = ""
	return nil
}

// Skip drops a voice message from the conversation.
func (c *Conversation) Skip(itemID string) error {
	i := c.find(itemID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
	return nil
}

// Replace swaps in a new result for an item, e.g. after a manual retry.
func (c *Conversation) Replace(result model.TranscriptionResult) error {
	i := c.find(result.ItemID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, result.ItemID)
	}
	entry := c.Entries[i]
	entry.Status = result.Status
	entry.Text = result.Text
	entry.EngineUsed = result.EngineUsed
	entry.ErrorKind = result.ErrorKind
	entry.Error = result.Error
	entry.Engines = result.EnginesTried()
	entry.Manual = false
	c.Entries[i] = entry
	return nil
}

func (c *Conversation) find(itemID string) int {
	for i, entry := range c.Entries {
		if entry.Kind == EntryTranscript && entry.ItemID == itemID {
			return i
		}
	}
	return -1
}
