// Package extract recovers a document number and a best-effort name from
// noisy scanned text, e.g. the payload of an ID card barcode that mixes the
// holder's name, role and blood type around the document number.
//
// Everything here is pure; the resolver decides what to do with the result.
package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/campusgate/server/internal/gate/types"
)

const (
	MinDocumentDigits = 8
	MaxDocumentDigits = 15

	// PlaceholderName is used when no name words surround the document number.
	PlaceholderName = "Unnamed Member"

	DefaultDocumentType = "CC"

	maxNameWords = 6
)

type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type Result struct {
	DocumentNumber string
	GivenNames     string
	FamilyNames    string
	Role           types.Role
	DocumentType   string
	Confidence     Confidence
}

// Found reports whether a document number was extracted.
func (r Result) Found() bool { return r.DocumentNumber != "" }

// DisplayName joins the name parts, falling back to PlaceholderName.
func (r Result) DisplayName() string {
	name := strings.TrimSpace(r.GivenNames + " " + r.FamilyNames)
	if name == "" {
		return PlaceholderName
	}
	return name
}

var roleKeywords = map[string]types.Role{
	"APRENDIZ":       types.RoleTrainee,
	"APRENDICES":     types.RoleTrainee,
	"ESTUDIANTE":     types.RoleTrainee,
	"TRAINEE":        types.RoleTrainee,
	"STUDENT":        types.RoleTrainee,
	"INSTRUCTOR":     types.RoleInstructor,
	"INSTRUCTORA":    types.RoleInstructor,
	"DOCENTE":        types.RoleInstructor,
	"FUNCIONARIO":    types.RoleStaff,
	"FUNCIONARIA":    types.RoleStaff,
	"ADMINISTRATIVO": types.RoleStaff,
	"ADMINISTRATIVA": types.RoleStaff,
	"CONTRATISTA":    types.RoleStaff,
	"STAFF":          types.RoleStaff,
}

var documentTypes = map[string]string{
	"CC":  "CC",
	"TI":  "TI",
	"CE":  "CE",
	"PPT": "PPT",
	"PA":  "PA",
	"PEP": "PEP",
}

// noiseWords are labels and blood-group markers that are never part of a name.
var noiseWords = map[string]struct{}{
	"RH": {}, "AB": {}, "POS": {}, "NEG": {}, "POSITIVO": {}, "NEGATIVO": {},
	"NOMBRE": {}, "NOMBRES": {}, "APELLIDO": {}, "APELLIDOS": {},
	"DOCUMENTO": {}, "NO": {}, "NUM": {}, "ID": {}, "FICHA": {}, "SENA": {},
}

// DigitsOnly strips every non-ASCII-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FindDocumentRun returns the byte offsets of the first maximal run of
// MinDocumentDigits to MaxDocumentDigits ASCII digits. Longer runs are
// skipped rather than truncated.
func FindDocumentRun(s string) (start, end int, ok bool) {
	i := 0
	for i < len(s) {
		if !isDigit(s[i]) {
			i++
			continue
		}
		j := i
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if n := j - i; n >= MinDocumentDigits && n <= MaxDocumentDigits {
			return i, j, true
		}
		i = j
	}
	return 0, 0, false
}

// Parse extracts the first plausible document number from raw together with
// the name, role and document type found in the surrounding words.
func Parse(raw string) Result {
	res := Result{
		Role:         types.RoleTrainee,
		DocumentType: DefaultDocumentType,
		Confidence:   ConfidenceNone,
	}

	start, end, ok := FindDocumentRun(raw)
	if !ok {
		return res
	}
	res.DocumentNumber = raw[start:end]

	var names []string
	for _, w := range words(raw[:start] + " " + raw[end:]) {
		upper := strings.ToUpper(w)
		if role, ok := roleKeywords[upper]; ok {
			res.Role = role
			continue
		}
		if dt, ok := documentTypes[upper]; ok {
			res.DocumentType = dt
			continue
		}
		if _, noise := noiseWords[upper]; noise {
			continue
		}
		if len([]rune(w)) < 2 {
			continue
		}
		if len(names) < maxNameWords {
			names = append(names, w)
		}
	}

	res.GivenNames, res.FamilyNames = splitName(names)

	switch {
	case onlyDigitsAndSeparators(raw):
		res.Confidence = ConfidenceHigh
	case len(names) >= 2:
		res.Confidence = ConfidenceMedium
	default:
		res.Confidence = ConfidenceLow
	}
	return res
}

// splitName assigns leading words to given names and the rest to family
// names: 1 -> given only, 2 -> 1+1, 3 -> 1+2, 4 or more -> 2+rest.
func splitName(names []string) (given, family string) {
	if len(names) == 0 {
		return "", ""
	}
	caser := cases.Title(language.Und)
	for i := range names {
		names[i] = caser.String(names[i])
	}

	nGiven := 1
	if len(names) >= 4 {
		nGiven = 2
	}
	return strings.Join(names[:nGiven], " "), strings.Join(names[nGiven:], " ")
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
}

func onlyDigitsAndSeparators(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == ' ' || r == '.' || r == ',' || r == '-':
		default:
			return false
		}
	}
	return true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
