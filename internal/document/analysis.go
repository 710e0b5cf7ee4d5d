package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/hpungsan/evlens/internal/errors"
)

// Fallback display values for missing optional fields.
const (
	FallbackSubject = "No Subject"
	FallbackContent = "No content available"
	FallbackSender  = "Unknown sender"
)

// Analysis is the upstream NLP result: one email plus its predictions.
type Analysis struct {
	Email              Email              `json:"email" yaml:"email"`
	IntentParserResult IntentParserResult `json:"intent_parser_result" yaml:"intent_parser_result"`
}

// Email holds the header and body of the analysed message.
type Email struct {
	Header Header `json:"header" yaml:"header"`
	Body   Body   `json:"body" yaml:"body"`
}

// Header is the display metadata of the email.
type Header struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Subject  string `json:"subject" yaml:"subject"`
	Received string `json:"received" yaml:"received"`
}

// Body is the email content as captured upstream. DocumentType is "html" or "text".
type Body struct {
	Content      string `json:"content" yaml:"content"`
	DocumentType string `json:"document_type" yaml:"document_type"`
}

// IntentParserResult wraps the prediction list.
type IntentParserResult struct {
	Predictions []Prediction `json:"predictions" yaml:"predictions"`
}

// Document returns the body as an EmailDocument.
func (a *Analysis) Document() EmailDocument {
	ct := ContentPlain
	if strings.EqualFold(strings.TrimSpace(a.Email.Body.DocumentType), "html") {
		ct = ContentHTML
	}
	return EmailDocument{Content: a.Email.Body.Content, ContentType: ct}
}

// Prediction returns the prediction with the given id.
func (a *Analysis) Prediction(id string) (Prediction, bool) {
	for _, p := range a.IntentParserResult.Predictions {
		if p.ID == id {
			return p, true
		}
	}
	return Prediction{}, false
}

// Predictions returns the prediction list.
func (a *Analysis) Predictions() []Prediction {
	return a.IntentParserResult.Predictions
}

// Load decodes an analysis document. format is "json", "yaml" or "" to sniff
// the content (a leading '{' means JSON). The result is normalized.
func Load(data []byte, format string) (*Analysis, []string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, errors.NewMalformedDocument(fmt.Errorf("empty document"))
	}

	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" || format == "yml" {
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
			format = "json"
		} else {
			format = "yaml"
		}
	}

	a := &Analysis{}
	switch format {
	case "json":
		if err := json.Unmarshal(data, a); err != nil {
			return nil, nil, errors.NewMalformedDocument(err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, a); err != nil {
			return nil, nil, errors.NewMalformedDocument(err)
		}
	default:
		return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported document format %q", format))
	}

	return a, a.Normalize(), nil
}

// LoadLimited is Load for untrusted input: documents larger than max bytes
// are rejected before decoding. max <= 0 disables the check.
func LoadLimited(data []byte, format string, max int) (*Analysis, []string, error) {
	if max > 0 && len(data) > max {
		return nil, nil, errors.NewDocumentTooLarge(max, len(data))
	}
	return Load(data, format)
}

// Normalize repairs malformed input in place so the view can always render:
// missing or duplicate prediction ids get placeholders, spans without a type
// become intent spans, field is kept only on artefact_detail spans, inverted
// or negative offsets are repaired, and missing header/body values get display
// fallbacks. It returns one note per repair.
func (a *Analysis) Normalize() []string {
	var notes []string

	h := &a.Email.Header
	if strings.TrimSpace(h.Subject) == "" {
		h.Subject = FallbackSubject
	}
	if strings.TrimSpace(h.From) == "" {
		h.From = FallbackSender
	}
	if strings.TrimSpace(a.Email.Body.Content) == "" {
		a.Email.Body.Content = FallbackContent
		a.Email.Body.DocumentType = "text"
		notes = append(notes, "email body missing; using fallback content")
	}

	preds := a.IntentParserResult.Predictions
	// taken holds every declared id so generated names never collide with a later one.
	taken := make(map[string]bool, len(preds))
	for _, p := range preds {
		if strings.TrimSpace(p.ID) != "" {
			taken[p.ID] = true
		}
	}
	assigned := make(map[string]bool, len(preds))
	for i := range preds {
		p := &preds[i]
		if strings.TrimSpace(p.ID) == "" {
			p.ID = freeID(fmt.Sprintf("prediction-%d", i+1), taken)
			notes = append(notes, fmt.Sprintf("prediction %d has no id; assigned %s", i, p.ID))
		} else if assigned[p.ID] {
			orig := p.ID
			p.ID = freeID(orig, taken)
			notes = append(notes, fmt.Sprintf("duplicate prediction id %s; renamed to %s", orig, p.ID))
		}
		assigned[p.ID] = true

		for j := range p.EvidenceSpans {
			s := &p.EvidenceSpans[j]
			if !s.Type.Valid() {
				if s.Type != "" {
					notes = append(notes, fmt.Sprintf("%s span %d has unknown type %q; using intent", p.ID, j, s.Type))
				} else {
					notes = append(notes, fmt.Sprintf("%s span %d has no type; using intent", p.ID, j))
				}
				s.Type = SpanIntent
			}
			if s.Type != SpanArtefactDetail {
				s.Field = ""
			}
			start, end := s.Offsets()
			if start < 0 {
				start = 0
			}
			if end < 0 {
				end = 0
			}
			if start > end {
				start, end = end, start
				notes = append(notes, fmt.Sprintf("%s span %d has inverted offsets; swapped", p.ID, j))
			}
			*s = s.WithOffsets(start, end)
		}
	}
	return notes
}

// freeID returns base, or base-2, base-3 and so on, whichever is first absent
// from taken, and marks it taken.
func freeID(base string, taken map[string]bool) string {
	id := base
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	taken[id] = true
	return id
}
