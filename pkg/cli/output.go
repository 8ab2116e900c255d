package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is plain text output (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON output.
	FormatJSON OutputFormat = "json"
	// FormatYAML is YAML output.
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter prints data with %v, so types that implement fmt.Stringer
// control their own rendering.
type TextFormatter struct{}

// FormatTo writes data to w in text format.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	_, err := fmt.Fprintf(w, "%v\n", data)
	return err
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to w in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// FormatTo writes data to w in YAML format.
func (f *YAMLFormatter) FormatTo(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// NewFormatter creates a formatter for format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TextFormatter{}
	}
}
