// Package jobdesc builds the job submission payload from a job description file.
package jobdesc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"historical/internal/apperrors"
	"historical/internal/config"
)

// providerDateLayout is the minute-resolution timestamp the provider expects.
const providerDateLayout = "200601021504"

// Rule is one filter rule of a job.
type Rule struct {
	Value string `yaml:"value" json:"value"`
	Tag   string `yaml:"tag,omitempty" json:"tag,omitempty"`
}

// File mirrors the job description YAML.
type File struct {
	Job struct {
		Title      string `yaml:"title"`
		FromDate   string `yaml:"from_date"`
		ToDate     string `yaml:"to_date"`
		DataFormat string `yaml:"data_format"`
		RulesFile  string `yaml:"rules_file"`
		Rules      []Rule `yaml:"rules"`
	} `yaml:"job"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// payload is the submission body.
type payload struct {
	Publisher       string `json:"publisher"`
	StreamType      string `json:"streamType"`
	DataFormat      string `json:"dataFormat"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
	Title           string `json:"title"`
	ServiceUsername string `json:"serviceUsername,omitempty"`
	Rules           []Rule `json:"rules"`
}

// Description is a validated job ready for submission. It implements job.DescriptionSource.
type Description struct {
	title   string
	payload []byte
}

// Title returns the job title, which identifies the job in the account's job list.
func (d *Description) Title() string { return d.title }

// Payload returns the JSON submission body.
func (d *Description) Payload() ([]byte, error) {
	out := make([]byte, len(d.payload))
	copy(out, d.payload)
	return out, nil
}

// Load reads a job description file. Rules come from the file itself and from
// rules_file, resolved relative to the job file.
func Load(path string, acct *config.Account, publisher string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Config("job", fmt.Sprintf("cannot read job file: %v", err))
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Config("job", fmt.Sprintf("invalid job YAML: %v", err))
	}

	if f.Job.RulesFile != "" {
		rulesPath := f.Job.RulesFile
		if !filepath.IsAbs(rulesPath) {
			rulesPath = filepath.Join(filepath.Dir(path), rulesPath)
		}
		rules, err := LoadRules(rulesPath)
		if err != nil {
			return nil, err
		}
		f.Job.Rules = append(f.Job.Rules, rules...)
	}
	return Build(f, acct, publisher)
}

// LoadRules reads a rules file: {"rules":[{"value":..,"tag":..}]} in YAML or JSON.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Config("job.rules_file", fmt.Sprintf("cannot read rules file: %v", err))
	}
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, apperrors.Config("job.rules_file", fmt.Sprintf("invalid rules file: %v", err))
	}
	return rf.Rules, nil
}

// Build validates a parsed job file and renders its submission payload.
func Build(f File, acct *config.Account, publisher string) (*Description, error) {
	title := strings.TrimSpace(f.Job.Title)
	if title == "" {
		return nil, apperrors.Config("job.title", "job title is required")
	}

	from, err := parseDate(f.Job.FromDate)
	if err != nil {
		return nil, apperrors.Config("job.from_date", err.Error())
	}
	to, err := parseDate(f.Job.ToDate)
	if err != nil {
		return nil, apperrors.Config("job.to_date", err.Error())
	}
	if !from.Before(to) {
		return nil, apperrors.Config("job.to_date", "to_date must be after from_date")
	}

	format := strings.TrimSpace(f.Job.DataFormat)
	if format == "" {
		format = "activity-streams"
	}

	rules := make([]Rule, 0, len(f.Job.Rules))
	for _, r := range f.Job.Rules {
		r.Value = strings.TrimSpace(r.Value)
		r.Tag = strings.TrimSpace(r.Tag)
		rules = append(rules, r)
	}

	body, err := json.Marshal(payload{
		Publisher:       publisher,
		StreamType:      acct.StreamType,
		DataFormat:      format,
		FromDate:        from.Format(providerDateLayout),
		ToDate:          to.Format(providerDateLayout),
		Title:           title,
		ServiceUsername: acct.Username,
		Rules:           rules,
	})
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	if err := validatePayload(body); err != nil {
		return nil, apperrors.Config("job", err.Error())
	}
	return &Description{title: title, payload: body}, nil
}

// parseDate accepts the provider's YYYYMMDDhhmm form, RFC 3339, or a bare date.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	for _, layout := range []string{providerDateLayout, time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q, use YYYYMMDDhhmm", s)
}
