// Package record holds the interview answers.
//
// Answers arrive loosely typed (form posts, restored drafts written by older
// versions, JSON handed to the CLI or MCP tools) and may use any of several
// historical key names for the same concept. Normalize resolves them once, at
// the intake boundary, into the typed Answers value that the rest of the
// program reads.
package record

import (
	"strconv"
	"strings"
)

// WorkingRecord is the loose key/value form of the interview answers.
type WorkingRecord map[string]any

// Field names a canonical concept. The string value is the canonical key.
type Field string

const (
	FieldFullName         Field = "fullName"
	FieldEmail            Field = "email"
	FieldPhone            Field = "phone"
	FieldServices         Field = "services"
	FieldLastColorDate    Field = "lastColorDate"
	FieldPreferredStylist Field = "preferredStylist"
	FieldGoals            Field = "goals"
	FieldBoxDye           Field = "boxDye"
	FieldChemicalServices Field = "chemicalServices"
	FieldSensitivities    Field = "sensitivities"
	FieldCompany          Field = "company"
)

// Synonyms lists, per concept, the keys that may carry it, in priority order.
// The first present, non-nil scalar wins.
var Synonyms = map[Field][]string{
	FieldFullName:         {"fullName", "full_name", "name"},
	FieldEmail:            {"email", "Email"},
	FieldPhone:            {"phone", "Phone", "tel"},
	FieldLastColorDate:    {"lastColorDate", "lastColor", "last_color_date"},
	FieldPreferredStylist: {"preferredStylist", "preferred_stylist", "stylist"},
	FieldGoals:            {"goals", "goal", "notes"},
	FieldBoxDye:           {"boxDye", "box_dye"},
	FieldChemicalServices: {"chemicalServices", "chemical_services"},
	FieldSensitivities:    {"sensitivities", "allergies"},
	FieldCompany:          {"company"},
}

// singleServiceKeys is the fallback when no services list is present.
var singleServiceKeys = []string{"service", "primaryService", "services"}

// Answers is the typed, normalized interview state.
type Answers struct {
	FullName         string   `json:"fullName"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone"`
	Services         []string `json:"services"`
	LastColorDate    string   `json:"lastColorDate"`
	PreferredStylist string   `json:"preferredStylist"`
	Goals            string   `json:"goals"`
	BoxDye           string   `json:"boxDye"`
	ChemicalServices string   `json:"chemicalServices"`
	Sensitivities    string   `json:"sensitivities"`

	// Company is the honeypot. People never see the input; bots fill it in.
	Company string `json:"company"`
}

// Normalize resolves a loose working record into Answers.
// Unknown keys are ignored.
func Normalize(raw WorkingRecord) Answers {
	return Answers{
		FullName:         strings.TrimSpace(PickString(raw, Synonyms[FieldFullName])),
		Email:            strings.TrimSpace(PickString(raw, Synonyms[FieldEmail])),
		Phone:            strings.TrimSpace(PickString(raw, Synonyms[FieldPhone])),
		Services:         NormalizeServices(raw),
		LastColorDate:    strings.TrimSpace(PickString(raw, Synonyms[FieldLastColorDate])),
		PreferredStylist: strings.TrimSpace(PickString(raw, Synonyms[FieldPreferredStylist])),
		Goals:            strings.TrimSpace(PickString(raw, Synonyms[FieldGoals])),
		BoxDye:           strings.TrimSpace(PickString(raw, Synonyms[FieldBoxDye])),
		ChemicalServices: strings.TrimSpace(PickString(raw, Synonyms[FieldChemicalServices])),
		Sensitivities:    strings.TrimSpace(PickString(raw, Synonyms[FieldSensitivities])),
		Company:          strings.TrimSpace(PickString(raw, Synonyms[FieldCompany])),
	}
}

// PickString returns the first present, non-nil value among keys, coerced to
// a string. Numbers and booleans are stringified; objects and arrays are
// skipped so the next synonym gets a chance.
func PickString(raw WorkingRecord, keys []string) string {
	if raw == nil {
		return ""
	}
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := scalarString(v); ok {
			return s
		}
	}
	return ""
}

// NormalizeServices returns the selected services. A list under "services"
// is used as-is (trimmed, empties dropped); otherwise a single string under
// one of the legacy singular keys becomes a one-element list.
func NormalizeServices(raw WorkingRecord) []string {
	if list, ok := stringList(raw["services"]); ok {
		return list
	}
	if single := strings.TrimSpace(PickString(raw, singleServiceKeys)); single != "" {
		return []string{single}
	}
	return []string{}
}

// Record renders the answers back into a working record under canonical keys.
func (a Answers) Record() WorkingRecord {
	services := make([]any, 0, len(a.Services))
	for _, s := range a.Services {
		services = append(services, s)
	}
	return WorkingRecord{
		string(FieldFullName):         a.FullName,
		string(FieldEmail):            a.Email,
		string(FieldPhone):            a.Phone,
		string(FieldServices):         services,
		string(FieldLastColorDate):    a.LastColorDate,
		string(FieldPreferredStylist): a.PreferredStylist,
		string(FieldGoals):            a.Goals,
		string(FieldBoxDye):           a.BoxDye,
		string(FieldChemicalServices): a.ChemicalServices,
		string(FieldSensitivities):    a.Sensitivities,
		string(FieldCompany):          a.Company,
	}
}

// Merge applies the non-nil values of patch on top of a, resolving synonyms in
// patch the same way Normalize does. Keys absent from patch leave a untouched,
// so a step form only overwrites the fields it shows.
func (a Answers) Merge(patch WorkingRecord) Answers {
	if len(patch) == 0 {
		return a
	}
	next := Normalize(patch)
	out := a
	if hasAny(patch, Synonyms[FieldFullName]) {
		out.FullName = next.FullName
	}
	if hasAny(patch, Synonyms[FieldEmail]) {
		out.Email = next.Email
	}
	if hasAny(patch, Synonyms[FieldPhone]) {
		out.Phone = next.Phone
	}
	if hasAny(patch, singleServiceKeys) {
		out.Services = next.Services
	}
	if hasAny(patch, Synonyms[FieldLastColorDate]) {
		out.LastColorDate = next.LastColorDate
	}
	if hasAny(patch, Synonyms[FieldPreferredStylist]) {
		out.PreferredStylist = next.PreferredStylist
	}
	if hasAny(patch, Synonyms[FieldGoals]) {
		out.Goals = next.Goals
	}
	if hasAny(patch, Synonyms[FieldBoxDye]) {
		out.BoxDye = next.BoxDye
	}
	if hasAny(patch, Synonyms[FieldChemicalServices]) {
		out.ChemicalServices = next.ChemicalServices
	}
	if hasAny(patch, Synonyms[FieldSensitivities]) {
		out.Sensitivities = next.Sensitivities
	}
	if hasAny(patch, Synonyms[FieldCompany]) {
		out.Company = next.Company
	}
	return out
}

// Clone returns a copy that shares no slices with a.
func (a Answers) Clone() Answers {
	out := a
	out.Services = append([]string(nil), a.Services...)
	if out.Services == nil {
		out.Services = []string{}
	}
	return out
}

func hasAny(raw WorkingRecord, keys []string) bool {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return true
		}
	}
	return false
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	default:
		return "", false
	}
}

// stringList reports whether v is a list and, if so, returns its trimmed,
// non-empty string forms.
func stringList(v any) ([]string, bool) {
	var items []any
	switch x := v.(type) {
	case []string:
		items = make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
	case []any:
		items = x
	default:
		return nil, false
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		s, ok := scalarString(item)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}
