package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryRead   Category = "READ"
	CategoryWrite  Category = "WRITE"
	CategoryUpdate Category = "UPDATE"
	CategoryDelete Category = "DELETE"
)

// Categories lists every request category in declaration order.
func Categories() []Category {
	return []Category{CategoryRead, CategoryWrite, CategoryUpdate, CategoryDelete}
}

func ParseCategory(s string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ", "GET":
		return CategoryRead, nil
	case "WRITE", "POST", "CREATE":
		return CategoryWrite, nil
	case "UPDATE", "PUT", "PATCH":
		return CategoryUpdate, nil
	case "DELETE", "DEL":
		return CategoryDelete, nil
	}
	return "", fmt.Errorf("unknown request category %q", s)
}

type Outcome string

const (
	OutcomeAdmitted Outcome = "ADMITTED"
	OutcomeRejected Outcome = "REJECTED"
)

// Request is one synthetic API call. It is never modified after creation.
type Request struct {
	ClientID  string    `json:"client_id"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

type ActivityRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Outcome   Outcome   `json:"outcome"`
}

// Status returns the label the front-end shows for the record.
func (r ActivityRecord) Status() string {
	if r.Outcome == OutcomeRejected {
		return "BLOCKED"
	}
	return "ALLOWED"
}

type ActivitySnapshot struct {
	ClientID string           `json:"client_id"`
	Records  []ActivityRecord `json:"records"`
	Total    int              `json:"total"`
	Admitted int              `json:"admitted"`
	Rejected int              `json:"rejected"`
}

func (a ActivitySnapshot) SuccessRate() float64 {
	if a.Total == 0 {
		return 100
	}
	return float64(a.Admitted) * 100 / float64(a.Total)
}

// LastActivity reports the timestamp of the most recent attempt, if any.
func (a ActivitySnapshot) LastActivity() (time.Time, bool) {
	if len(a.Records) == 0 {
		return time.Time{}, false
	}
	return a.Records[len(a.Records)-1].Timestamp, true
}

type Decision struct {
	Request   Request `json:"request"`
	Outcome   Outcome `json:"outcome"`
	Remaining int     `json:"remaining"`
}

func (d Decision) Admitted() bool {
	return d.Outcome == OutcomeAdmitted
}

type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NORMAL":
		return LevelNormal, nil
	case "WARNING":
		return LevelWarning, nil
	case "CRITICAL":
		return LevelCritical, nil
	}
	return LevelNormal, fmt.Errorf("unknown level %q", s)
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// AbuseReport accumulates policy findings for one client. Its level only
// moves upward.
type AbuseReport struct {
	ClientID   string   `json:"client_id"`
	Level      Level    `json:"level"`
	Violations []string `json:"violations"`
}

func NewAbuseReport(clientID string) *AbuseReport {
	return &AbuseReport{ClientID: clientID, Level: LevelNormal, Violations: []string{}}
}

func (r *AbuseReport) Add(violation string) {
	r.Violations = append(r.Violations, violation)
}

func (r *AbuseReport) Raise(target Level) {
	if target > r.Level {
		r.Level = target
	}
}

type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
	Percent  float64  `json:"percent"`
}

type ClientStats struct {
	ClientID           string          `json:"client_id"`
	Total              int             `json:"total"`
	Admitted           int             `json:"admitted"`
	Rejected           int             `json:"rejected"`
	SuccessRate        float64         `json:"success_rate"`
	Distribution       []CategoryCount `json:"distribution"`
	DistributionSource string          `json:"distribution_source"`
	First              time.Time       `json:"first,omitzero"`
	Last               time.Time       `json:"last,omitzero"`
	LastActivity       time.Time       `json:"last_activity,omitzero"`
}

func (s ClientStats) SuccessRateText() string {
	return fmt.Sprintf("%.1f%%", s.SuccessRate)
}

// ReportRecord is one archived analysis run.
type ReportRecord struct {
	ID         string      `json:"id"`
	ClientID   string      `json:"client_id"`
	Level      Level       `json:"level"`
	Violations []string    `json:"violations"`
	AnalyzedAt time.Time   `json:"analyzed_at"`
	Stats      ClientStats `json:"stats"`
}
