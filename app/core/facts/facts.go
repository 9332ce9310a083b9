package facts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"eligo/app/pkg/types"
)

// MapClinicalDocument extracts Facts from a clinical-record JSON document.
// Two shapes are accepted: the flat form ({sex, birth_date,
// last_event_date}) and a FHIR-flavoured bundle ({patient:{gender,
// birthDate}, procedures:[{performedDateTime}]}), where the most recent
// procedure date becomes the last event. Dates pass through unparsed; the
// guideline engine reports malformed values itself.
func MapClinicalDocument(doc []byte) (types.Facts, error) {
	if !gjson.ValidBytes(doc) {
		return types.Facts{}, fmt.Errorf("clinical document is not valid JSON")
	}
	root := gjson.ParseBytes(doc)

	facts := types.Facts{
		Sex:           normalizeSex(root.Get("sex").String()),
		BirthDate:     root.Get("birth_date").String(),
		LastEventDate: root.Get("last_event_date").String(),
	}

	if patient := root.Get("patient"); patient.Exists() {
		if facts.Sex == "" {
			facts.Sex = normalizeSex(patient.Get("gender").String())
		}
		if facts.BirthDate == "" {
			facts.BirthDate = patient.Get("birthDate").String()
		}
	}
	if facts.LastEventDate == "" {
		facts.LastEventDate = latestProcedureDate(root.Get("procedures"))
	}
	return facts, nil
}

func normalizeSex(raw string) types.Sex {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male", "m":
		return types.SexMale
	case "female", "f":
		return types.SexFemale
	case "unknown":
		return types.SexUnknown
	default:
		return ""
	}
}

// latestProcedureDate picks the lexicographically greatest performed date,
// which for ISO dates is also the most recent.
func latestProcedureDate(procedures gjson.Result) string {
	latest := ""
	for _, proc := range procedures.Array() {
		date := proc.Get("performedDateTime").String()
		if date == "" {
			date = proc.Get("performed_date").String()
		}
		if len(date) >= 10 {
			date = date[:10]
		}
		if date > latest {
			latest = date
		}
	}
	return latest
}

// FileProvider is the injectable stand-in for the external clinical-data
// fetch: subject documents live as <dir>/<subjectID>.json.
type FileProvider struct {
	dir string
}

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Fetch(ctx context.Context, subjectID string) (types.Facts, error) {
	if err := ctx.Err(); err != nil {
		return types.Facts{}, err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" || strings.ContainsAny(subjectID, `/\`) {
		return types.Facts{}, fmt.Errorf("invalid subject id %q", subjectID)
	}
	doc, err := os.ReadFile(filepath.Join(p.dir, subjectID+".json"))
	if err != nil {
		return types.Facts{}, fmt.Errorf("read subject record: %w", err)
	}
	return MapClinicalDocument(doc)
}
