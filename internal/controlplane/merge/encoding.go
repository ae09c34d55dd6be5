package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	fieldUUID      = "uuid"
	fieldStableID  = "id"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// DecodeLine parses one line-delimited JSON record into a Record. Empty and
// whitespace-only lines decode to the zero Record with ok=false.
func DecodeLine(line []byte) (rec Record, ok bool, err error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Record{}, false, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Record{}, false, fmt.Errorf("decoding record line: %w", err)
	}
	rec, err = recordFromMap(raw)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// DecodeFrontMatter parses a spec file whose content begins with an optional
// YAML front-matter block (delimited by "---" lines), honoring legacy spec
// anchoring where metadata lived outside the JSON record body.
func DecodeFrontMatter(content []byte) (rec Record, body string, err error) {
	text := string(content)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return Record{}, text, nil
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return Record{}, text, nil
	}
	frontMatter := rest[:end]
	body = strings.TrimPrefix(rest[end+4:], "\n")

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(frontMatter), &raw); err != nil {
		return Record{}, text, fmt.Errorf("decoding front matter: %w", err)
	}
	rec, err = recordFromMap(raw)
	return rec, body, err
}

func recordFromMap(raw map[string]interface{}) (Record, error) {
	rec := Record{Fields: make(map[string]interface{}, len(raw))}
	for k, v := range raw {
		switch k {
		case fieldUUID:
			rec.UUID, _ = v.(string)
		case fieldStableID:
			rec.StableID, _ = v.(string)
		case fieldCreatedAt:
			t, err := parseTimestamp(v)
			if err != nil {
				return Record{}, fmt.Errorf("parsing created_at: %w", err)
			}
			rec.CreatedAt = t
		case fieldUpdatedAt:
			t, err := parseTimestamp(v)
			if err != nil {
				return Record{}, fmt.Errorf("parsing updated_at: %w", err)
			}
			rec.UpdatedAt = t
		default:
			rec.Fields[k] = v
		}
	}
	mapLegacyFeedbackKeys(rec.Fields)
	return rec, nil
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case time.Time:
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// mapLegacyFeedbackKeys rewrites legacy feedback records keyed by
// (issue_id, spec_id) onto the current (from_id, to_id) shape in place.
func mapLegacyFeedbackKeys(fields map[string]interface{}) {
	_, hasFrom := fields["from_id"]
	_, hasTo := fields["to_id"]
	if hasFrom && hasTo {
		return
	}
	if issueID, ok := fields["issue_id"]; ok {
		if !hasTo {
			fields["to_id"] = issueID
		}
		delete(fields, "issue_id")
	}
	if specID, ok := fields["spec_id"]; ok {
		if !hasFrom {
			fields["from_id"] = specID
		}
		delete(fields, "spec_id")
	}
}

// EncodeLine serializes rec back to a single line-delimited JSON record.
func EncodeLine(rec Record) ([]byte, error) {
	raw := make(map[string]interface{}, len(rec.Fields)+4)
	for k, v := range rec.Fields {
		raw[k] = v
	}
	raw[fieldUUID] = rec.UUID
	raw[fieldStableID] = rec.StableID
	raw[fieldCreatedAt] = rec.CreatedAt.Format(time.RFC3339Nano)
	raw[fieldUpdatedAt] = rec.UpdatedAt.Format(time.RFC3339Nano)
	return json.Marshal(raw)
}

// EncodeLines serializes records to a newline-joined structured file body,
// one JSON record per line, sorted by created_at ascending for stability.
func EncodeLines(records []Record) ([]byte, error) {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sortRecords(sorted)

	var buf bytes.Buffer
	for _, rec := range sorted {
		line, err := EncodeLine(rec)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodeLines parses a structured file body into records, skipping blank
// lines.
func DecodeLines(content []byte) ([]Record, error) {
	var records []Record
	for _, line := range bytes.Split(content, []byte("\n")) {
		rec, ok, err := DecodeLine(line)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}
