package presentation

import (
	"encoding/json"
	"io"

	"github.com/zjrosen/levelsync/internal/session"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatSources formats registry source groups as JSON
func (f *Formatter) FormatSources(sources []SourceDTO) error {
	return f.FormatResult(sources)
}

// FormatRounds formats simulated round reports as JSON
func (f *Formatter) FormatRounds(rounds []session.RoundReport) error {
	return f.FormatResult(rounds)
}

// FormatDiff formats a registry comparison as JSON
func (f *Formatter) FormatDiff(diff DiffDTO) error {
	return f.FormatResult(diff)
}

// FormatOverrides formats stored override records as JSON
func (f *Formatter) FormatOverrides(overrides []OverrideDTO) error {
	return f.FormatResult(overrides)
}

// FormatResult formats any value as indented JSON
func (f *Formatter) FormatResult(result any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
