package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"ratesim/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reClock     = regexp.MustCompile(`^\s*([0-9]{1,2}:[0-9]{2}(:[0-9]{2})?)\s`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
)

var (
	timestampKeys = []string{"timestamp", "time", "ts", "at"}
	clientKeys    = []string{"client_id", "client", "clientid", "user", "api_key"}
	categoryKeys  = []string{"category", "type", "method", "op"}
)

// Parser turns request lines into fields. JSON objects, CSV rows (with an
// optional header) and free text with key=value pairs are accepted.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.RequestFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.RequestFields, error) {
	return ParseJSONBytes([]byte(line))
}

// parsePlain reads "[timestamp] client category" with key=value pairs taking
// precedence over positional tokens.
func parsePlain(line string) *normalize.RequestFields {
	fields := &normalize.RequestFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(rest, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	if fields.Timestamp == "" {
		fields.Timestamp = firstNonEmpty(kv, timestampKeys...)
	}
	fields.ClientID = firstNonEmpty(kv, clientKeys...)
	fields.Category = firstNonEmpty(kv, categoryKeys...)
	for k, v := range kv {
		fields.Extras[k] = v
	}

	var positional []string
	for _, tok := range strings.Fields(rest) {
		if !strings.Contains(tok, "=") {
			positional = append(positional, tok)
		}
	}
	if fields.ClientID == "" && len(positional) > 0 {
		fields.ClientID = positional[0]
		positional = positional[1:]
	}
	if fields.Category == "" && len(positional) > 0 {
		fields.Category = positional[0]
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	for _, re := range []*regexp.Regexp{reTimestamp, reClock} {
		m := re.FindStringSubmatchIndex(line)
		if len(m) >= 4 {
			return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
		}
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees. Without a header,
// columns are timestamp, client, category.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.RequestFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.RequestFields{Extras: map[string]string{}}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	cols := []*string{&fields.Timestamp, &fields.ClientID, &fields.Category}
	for i, dst := range cols {
		if i < len(record) {
			*dst = strings.TrimSpace(record[i])
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		if contains(timestampKeys, v) || contains(clientKeys, v) || contains(categoryKeys, v) {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.RequestFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch {
	case contains(timestampKeys, name):
		fields.Timestamp = value
	case contains(clientKeys, name):
		fields.ClientID = value
	case contains(categoryKeys, name):
		fields.Category = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
