package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/pkg/types"
	"gopkg.in/yaml.v3"
)

// ExportFormats lists the supported history export formats
var ExportFormats = []string{"json", "yaml", "txt"}

type exportInfo struct {
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	TotalMessages int       `json:"total_messages" yaml:"total_messages"`
	ExportedBy    string    `json:"exported_by" yaml:"exported_by"`
	Version       string    `json:"version" yaml:"version"`
}

type exportEntry struct {
	ID               string    `json:"id" yaml:"id"`
	Timestamp        time.Time `json:"timestamp" yaml:"timestamp"`
	UserMessage      string    `json:"user_message" yaml:"user_message"`
	AssistantMessage string    `json:"assistant_message" yaml:"assistant_message"`
	Intent           any       `json:"intent,omitempty" yaml:"intent,omitempty"`
}

type exportDoc struct {
	ExportInfo    exportInfo    `json:"export_info" yaml:"export_info"`
	Conversations []exportEntry `json:"conversations" yaml:"conversations"`
}

// Export writes records in the given format
func Export(w io.Writer, format string, records []types.ConversationRecord, now time.Time) error {
	doc := exportDoc{
		ExportInfo: exportInfo{
			Timestamp:     now.UTC(),
			TotalMessages: len(records),
			ExportedBy:    "Heimdall AI Assistant",
			Version:       "1.0",
		},
		Conversations: make([]exportEntry, 0, len(records)),
	}
	for _, r := range records {
		e := exportEntry{
			ID:               r.ID,
			Timestamp:        r.Timestamp,
			UserMessage:      r.UserMessage,
			AssistantMessage: r.AssistantMessage,
		}
		// decoded so yaml renders a mapping instead of a byte string
		if len(r.Intent) > 0 {
			var intent any
			if err := json.Unmarshal(r.Intent, &intent); err == nil {
				e.Intent = intent
			}
		}
		doc.Conversations = append(doc.Conversations, e)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "txt":
		return exportText(w, doc)
	default:
		return fmt.Errorf("unsupported export format %q (want one of %s)", format, strings.Join(ExportFormats, ", "))
	}
}

func exportText(w io.Writer, doc exportDoc) error {
	if _, err := fmt.Fprintf(w, "Heimdall conversation export (%s, %d messages)\n\n",
		doc.ExportInfo.Timestamp.Format(time.RFC3339), doc.ExportInfo.TotalMessages); err != nil {
		return err
	}
	for _, e := range doc.Conversations {
		if _, err := fmt.Fprintf(w, "[%s]\nYou: %s\nHeimdall: %s\n\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.UserMessage, e.AssistantMessage); err != nil {
			return err
		}
	}
	return nil
}

// ContentType is the MIME type served for an export format
func ContentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "yaml":
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}
