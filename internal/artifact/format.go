// Package artifact renders, parses and writes the frontmatter files the
// static site generator reads for every published record.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/quill/internal/models"
)

const (
	fence      = "---"
	dateLayout = "2006-01-02"
)

var (
	ErrMissingFence      = errors.New("artifact: missing opening header fence")
	ErrUnterminatedFence = errors.New("artifact: unterminated header")
)

// Header is the metadata block at the top of every artifact. Field order is
// the order keys are written in.
type Header struct {
	Title         string   `yaml:"title"`
	Date          string   `yaml:"date"`
	Description   string   `yaml:"description"`
	Author        string   `yaml:"author"`
	Image         string   `yaml:"image"`
	Tags          []string `yaml:"tags"`
	Published     bool     `yaml:"published"`
	UnpublishedAt string   `yaml:"unpublishedAt,omitempty"`
}

// Layout maps kinds to directories under the content root.
type Layout struct {
	Dirs map[models.Kind]string
	Ext  string
}

// Path returns the artifact path for slug, relative to the content root.
func (l Layout) Path(kind models.Kind, slug string) string {
	return path.Join(l.Dirs[kind], slug+"."+l.Ext)
}

// HeaderFor derives the header from a record.
func HeaderFor(rec *models.Record) Header {
	h := Header{
		Title:       rec.Title,
		Date:        rec.CreatedAt.UTC().Format(dateLayout),
		Description: rec.Description,
		Author:      rec.Author,
		Image:       rec.Image,
		Tags:        rec.Tags,
		Published:   rec.Published,
	}
	if h.Tags == nil {
		h.Tags = []string{}
	}
	if !rec.Published && rec.UnpublishedAt != nil {
		h.UnpublishedAt = FormatTime(*rec.UnpublishedAt)
	}
	return h
}

// FormatTime is the timestamp form used inside headers.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Render produces the full artifact for rec: header, one blank line, body.
func Render(rec *models.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	if err := encodeYAML(&buf, HeaderFor(rec)); err != nil {
		return nil, err
	}
	buf.WriteString(fence + "\n\n")
	buf.WriteString(rec.Content)
	return buf.Bytes(), nil
}

// Parse splits an artifact into its typed header and body. The single blank
// separator line is not part of the body.
func Parse(data []byte) (*Header, []byte, error) {
	raw, rest, err := split(data)
	if err != nil {
		return nil, nil, err
	}
	var h Header
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return nil, nil, fmt.Errorf("artifact: decode header: %w", err)
	}
	return &h, bytes.TrimPrefix(rest, []byte("\n")), nil
}

// UnpublishTimestamp picks the unpublishedAt value to write: the record's own
// timestamp, else the one already in the header, else now.
func UnpublishTimestamp(rec *models.Record, current *Header, now time.Time) string {
	if rec.UnpublishedAt != nil {
		return FormatTime(*rec.UnpublishedAt)
	}
	if current != nil && current.UnpublishedAt != "" {
		return current.UnpublishedAt
	}
	return FormatTime(now)
}

// SetUnpublished rewrites the header so that published is false and
// unpublishedAt is at. Every other header key, comment and the body bytes are
// kept. It reports whether the content changed.
func SetUnpublished(data []byte, at string) ([]byte, bool, error) {
	raw, rest, err := split(data)
	if err != nil {
		return nil, false, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("artifact: decode header: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, false, fmt.Errorf("artifact: header is not a mapping")
	}
	m := doc.Content[0]

	pub := lookup(m, "published")
	ts := lookup(m, "unpublishedAt")
	if pub != nil && pub.ShortTag() == "!!bool" && pub.Value == "false" && ts != nil && ts.Value == at {
		return data, false, nil
	}

	set(m, "published", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "false"})
	set(m, "unpublishedAt", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: at, Style: yaml.DoubleQuotedStyle})

	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	if err := encodeYAML(&buf, &doc); err != nil {
		return nil, false, err
	}
	buf.WriteString(fence + "\n")
	buf.Write(rest)
	return buf.Bytes(), true, nil
}

// split separates the raw header bytes from everything after the closing
// fence line. rest keeps the blank separator line.
func split(data []byte) (header, rest []byte, err error) {
	if !bytes.HasPrefix(data, []byte(fence+"\n")) {
		return nil, nil, ErrMissingFence
	}
	search := data[len(fence):] // starts at the newline ending the opening fence
	for off := 0; ; {
		i := bytes.Index(search[off:], []byte("\n"+fence))
		if i < 0 {
			return nil, nil, ErrUnterminatedFence
		}
		start := off + i
		end := start + 1 + len(fence)
		if end == len(search) {
			return search[1 : start+1], nil, nil
		}
		if search[end] == '\n' {
			return search[1 : start+1], search[end+1:], nil
		}
		off = start + 1
	}
}

func encodeYAML(buf *bytes.Buffer, v any) error {
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("artifact: encode header: %w", err)
	}
	return enc.Close()
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func set(m *yaml.Node, key string, val *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			val.HeadComment = m.Content[i+1].HeadComment
			val.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = val
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
}
