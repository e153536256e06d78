// Package payload builds the fixed-shape record sent to the intake service.
package payload

import (
	"encoding/json"
	"strings"

	"github.com/hpungsan/intake/internal/imaging"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// Payload is the canonical submission. Its JSON shape is the contract with
// the intake service: every field is always present, none are added.
type Payload struct {
	Company          string            `json:"company"`
	FullName         string            `json:"fullName"`
	Phone            string            `json:"phone"`
	Email            string            `json:"email"`
	PreferredStylist string            `json:"preferredStylist"`
	Services         []string          `json:"services"`
	Goals            string            `json:"goals"`
	LastColorDate    string            `json:"lastColorDate"`
	BoxDye           string            `json:"boxDye"`
	ChemicalServices string            `json:"chemicalServices"`
	Sensitivities    string            `json:"sensitivities"`
	SubmittedFrom    string            `json:"submittedFrom"`
	UserAgent        string            `json:"userAgent"`
	Photos           []CompressedPhoto `json:"photos"`
}

// CompressedPhoto is one photo as the intake service receives it.
type CompressedPhoto struct {
	OriginalName string `json:"originalName"`
	Mime         string `json:"mime"`
	Base64       string `json:"base64"`
}

// Origin describes where a submission came from.
type Origin struct {
	SubmittedFrom string
	UserAgent     string
}

// Fields lists the canonical JSON keys in wire order.
var Fields = []string{
	"company", "fullName", "phone", "email", "preferredStylist", "services",
	"goals", "lastColorDate", "boxDye", "chemicalServices", "sensitivities",
	"submittedFrom", "userAgent", "photos",
}

// Canonicalize maps a loose working record and its compressed photos onto
// the canonical payload. Origin values win over the record's own
// submittedFrom/userAgent keys when set.
func Canonicalize(raw record.WorkingRecord, photos []CompressedPhoto, origin Origin) Payload {
	if origin.SubmittedFrom == "" {
		origin.SubmittedFrom = strings.TrimSpace(record.PickString(raw, []string{"submittedFrom"}))
	}
	if origin.UserAgent == "" {
		origin.UserAgent = strings.TrimSpace(record.PickString(raw, []string{"userAgent"}))
	}
	return FromAnswers(record.Normalize(raw), photos, origin)
}

// FromAnswers builds the payload from already-normalized answers.
func FromAnswers(a record.Answers, photos []CompressedPhoto, origin Origin) Payload {
	services := make([]string, 0, len(a.Services))
	for _, s := range a.Services {
		if s = strings.TrimSpace(s); s != "" {
			services = append(services, s)
		}
	}

	return Payload{
		Company:          a.Company,
		FullName:         a.FullName,
		Phone:            a.Phone,
		Email:            a.Email,
		PreferredStylist: a.PreferredStylist,
		Services:         services,
		Goals:            a.Goals,
		LastColorDate:    a.LastColorDate,
		BoxDye:           a.BoxDye,
		ChemicalServices: a.ChemicalServices,
		Sensitivities:    a.Sensitivities,
		SubmittedFrom:    origin.SubmittedFrom,
		UserAgent:        origin.UserAgent,
		Photos:           normalizePhotos(photos),
	}
}

// NewPhoto builds the record for a compressed photo.
func NewPhoto(p *photo.Photo, encoded string) CompressedPhoto {
	return CompressedPhoto{
		OriginalName: p.DisplayName(),
		Mime:         imaging.Output,
		Base64:       imaging.StripPrefix(encoded),
	}
}

// Record renders the payload as a working record, keyed exactly as on the wire.
func (p Payload) Record() record.WorkingRecord {
	data, _ := json.Marshal(p)
	var out record.WorkingRecord
	_ = json.Unmarshal(data, &out)
	return out
}

// Marshal encodes the payload as the UTF-8 JSON text body.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func normalizePhotos(photos []CompressedPhoto) []CompressedPhoto {
	out := make([]CompressedPhoto, 0, len(photos))
	for _, ph := range photos {
		name := strings.TrimSpace(ph.OriginalName)
		if name == "" {
			name = photo.DefaultName
		}
		out = append(out, CompressedPhoto{
			OriginalName: name,
			Mime:         imaging.Output,
			Base64:       imaging.StripPrefix(ph.Base64),
		})
	}
	return out
}
