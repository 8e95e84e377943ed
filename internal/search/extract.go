package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// knownOrgans lists the issuing bodies recognised in case-law markup, most
// specific first so "Tribunal Superior de Justicia" wins over shorter names.
var knownOrgans = []string{
	"Tribunal Superior de Justicia",
	"Tribunal Constitucional",
	"Tribunal Supremo",
	"Audiencia Nacional",
	"Audiencia Provincial",
	"Juzgado de lo Contencioso-Administrativo",
	"Juzgado de lo Social",
	"Juzgado de lo Penal",
	"Juzgado de lo Mercantil",
	"Juzgado de Primera Instancia e Instrucción",
	"Juzgado de Primera Instancia",
	"Juzgado de Instrucción",
	"Juzgado de Violencia sobre la Mujer",
	"Juzgado de Menores",
	"Tribunal Militar",
}

var knownVenues = []string{
	"Madrid", "Barcelona", "Valencia", "Sevilla", "Zaragoza", "Málaga", "Murcia",
	"Palma de Mallorca", "Las Palmas", "Bilbao", "Alicante", "Córdoba", "Valladolid",
	"Vigo", "Gijón", "A Coruña", "Granada", "Oviedo", "Santa Cruz de Tenerife",
	"Pamplona", "Almería", "San Sebastián", "Donostia", "Burgos", "Santander",
	"Castellón", "Albacete", "Logroño", "Badajoz", "Salamanca", "Huelva", "Lleida",
	"Tarragona", "León", "Cádiz", "Jaén", "Ourense", "Girona", "Cáceres", "Toledo",
}

var knownKeywords = []string{
	"despido", "divorcio", "custodia", "pensión alimenticia", "alimentos", "herencia",
	"testamento", "arrendamiento", "desahucio", "hipoteca", "cláusula suelo",
	"indemnización", "responsabilidad civil", "responsabilidad patrimonial",
	"accidente de tráfico", "accidente laboral", "incapacidad", "seguridad social",
	"salario", "horas extraordinarias", "acoso", "discriminación", "contrato",
	"compraventa", "propiedad horizontal", "concurso de acreedores", "fraude",
	"estafa", "robo", "lesiones", "violencia de género", "tributario", "IVA",
	"IRPF", "urbanismo", "expropiación", "protección de datos", "extranjería",
	"consumidores", "propiedad intelectual",
}

var (
	anyISODateRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dmyDateRe        = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4}|\d{2})\b`)
	resolutionNumRe  = regexp.MustCompile(`(\d{1,6})/(\d{4})`)
	resolutionTypeRe = regexp.MustCompile(`(?i)\b(sentencia|auto|decreto|providencia)\b`)
	rapporteurRe     = regexp.MustCompile(`(?i)ponente\s*:?\s*(.+)`)
	venueRe          = wordListRegexp(knownVenues)
)

func wordListRegexp(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// NormalizeDate converts d/m/y or d-m-y (two-digit years are read as 20xx)
// to YYYY-MM-DD. Valid ISO dates pass through unchanged. It returns "" when s
// holds no valid calendar date.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return s
	}
	return FindDate(s)
}

// FindDate returns the first valid date found in text, normalized to ISO.
func FindDate(text string) string {
	type candidate struct {
		at   int
		date string
	}
	var best *candidate

	for _, m := range dmyDateRe.FindAllStringSubmatchIndex(text, -1) {
		d, _ := strconv.Atoi(text[m[2]:m[3]])
		mo, _ := strconv.Atoi(text[m[4]:m[5]])
		y, _ := strconv.Atoi(text[m[6]:m[7]])
		if y < 100 {
			y += 2000
		}
		if iso, ok := formatDate(y, mo, d); ok {
			best = &candidate{at: m[0], date: iso}
			break
		}
	}
	for _, m := range anyISODateRe.FindAllStringSubmatchIndex(text, -1) {
		if best != nil && best.at < m[0] {
			break
		}
		y, _ := strconv.Atoi(text[m[2]:m[3]])
		mo, _ := strconv.Atoi(text[m[4]:m[5]])
		d, _ := strconv.Atoi(text[m[6]:m[7]])
		if iso, ok := formatDate(y, mo, d); ok {
			best = &candidate{at: m[0], date: iso}
			break
		}
	}
	if best == nil {
		return ""
	}
	return best.date
}

// formatDate rejects days that do not exist in the month (31/02, 29/02 of a
// common year), which time.Date would silently roll over.
func formatDate(y, m, d int) (string, bool) {
	if m < 1 || m > 12 || d < 1 || y < 1800 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return t.Format(time.DateOnly), true
}

// ResolutionNumber extracts an "N/YYYY" style resolution number, ignoring the
// tail of d/m/yyyy dates.
func ResolutionNumber(text string) string {
	for _, m := range resolutionNumRe.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > 0 {
			prev := text[m[0]-1]
			if prev == '/' || prev == '-' || (prev >= '0' && prev <= '9') {
				continue
			}
		}
		if end := m[1]; end < len(text) && text[end] >= '0' && text[end] <= '9' {
			continue
		}
		return text[m[0]:m[1]]
	}
	return ""
}

// IssuingBody matches text against the fixed list of court names.
func IssuingBody(text string) string {
	lower := strings.ToLower(text)
	for _, organ := range knownOrgans {
		if strings.Contains(lower, strings.ToLower(organ)) {
			return organ
		}
	}
	return ""
}

// ResolutionType returns Sentencia, Auto, Decreto or Providencia (first one
// mentioned), or the generic "Resolución".
func ResolutionType(text string) string {
	if m := resolutionTypeRe.FindStringSubmatch(text); m != nil {
		w := strings.ToLower(m[1])
		return strings.ToUpper(w[:1]) + w[1:]
	}
	return "Resolución"
}

// Venue matches text against the fixed city list.
func Venue(text string) string {
	m := venueRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	for _, v := range knownVenues {
		if strings.EqualFold(v, m[1]) {
			return v
		}
	}
	return m[1]
}

// SubjectKeywords returns the known subject-matter keywords present in text.
func SubjectKeywords(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, k := range knownKeywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			out = append(out, k)
		}
	}
	return out
}

// Rapporteur extracts the judge rapporteur ("Ponente"). The name may follow
// the label on the same line or, for dt/dd markup, on the next one.
func Rapporteur(lines []string) string {
	for i, line := range lines {
		trimmed := strings.TrimSuffix(strings.TrimSpace(line), ":")
		if strings.EqualFold(trimmed, "ponente") && i+1 < len(lines) {
			return truncate(lines[i+1], 80)
		}
		if m := rapporteurRe.FindStringSubmatch(line); m != nil {
			return truncate(strings.TrimSpace(m[1]), 80)
		}
	}
	return ""
}
