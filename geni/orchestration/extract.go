package orchestration

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
)

var (
	upnPattern      = regexp.MustCompile(`[A-Za-z0-9._%+\-']+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	guidPattern     = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	labelledPattern = regexp.MustCompile(`(?i)\b(user|owner|group)(?:\s+id)?\s*[:=]?\s*([A-Za-z0-9._%+\-'@]+)`)
	numberPattern   = regexp.MustCompile(`\b([0-9]{1,4})\b`)
	quotedPattern   = regexp.MustCompile(`["“]([^"”]+)["”]`)
	namedPattern    = regexp.MustCompile(`(?i)\b(?:named|called)\s+(.+?)(?:\s+(?:with|and|using|nickname|mail|upn|password)\b|[.,;!?]|$)`)
	nicknamePattern = regexp.MustCompile(`(?i)\bnickname\s*(?:is\s+|of\s+|:\s*|=\s*)?([A-Za-z0-9._\-]+)`)
	passwordPattern = regexp.MustCompile(`(?i)\bpassword\s*(?:is\s+|of\s+|:\s*|=\s*)?(\S+)`)
	setPattern      = regexp.MustCompile(`(?i)^.*\b(?:set|change|update|modify)\s+(.+?)\s+to\s+(.+)$`)
	allPattern      = regexp.MustCompile(`(?i)\b(?:all|every|everything|everyone)\b`)
	fieldTailRegexp = regexp.MustCompile(`(?i)\s+(?:of|for|on)\b.*$`)
)

// friendlyFields maps spoken attribute names to Graph property names.
var friendlyFields = map[string]string{
	"job title":       "jobTitle",
	"title":           "jobTitle",
	"display name":    "displayName",
	"name":            "displayName",
	"office":          "officeLocation",
	"office location": "officeLocation",
	"mobile":          "mobilePhone",
	"phone":           "mobilePhone",
	"mobile phone":    "mobilePhone",
	"department":      "department",
	"description":     "description",
	"mail nickname":   "mailNickname",
	"nickname":        "mailNickname",
	"usage location":  "usageLocation",
}

// extractArgs pulls the values spec needs out of one free-text turn.
func extractArgs(spec operationSpec, text string) ports.Args {
	args := ports.Args{}
	assignIDs(spec, text, args)

	if spec.requires(argMaxResults) {
		if n, ok := countOrAll(text); ok {
			args[argMaxResults] = n
		}
	}
	if spec.requires(argUserPrincipalName) {
		if upn := upnPattern.FindString(text); upn != "" {
			args[argUserPrincipalName] = upn
		}
	}
	if spec.requires(argDisplayName) {
		if name := displayName(text); name != "" {
			args[argDisplayName] = name
		}
	}
	if spec.requires(argMailNickname) {
		if m := nicknamePattern.FindStringSubmatch(text); m != nil {
			args[argMailNickname] = m[1]
		}
	}
	if spec.requires(argPassword) {
		if m := passwordPattern.FindStringSubmatch(text); m != nil {
			args[argPassword] = strings.TrimRight(m[1], ".,;")
		}
	}
	if spec.requires(argField) && spec.requires(argValue) {
		if field, value, ok := fieldAssignment(text); ok {
			args[argField] = field
			args[argValue] = value
		}
	}
	return args
}

// assignIDs fills user_id, owner_id and group_id. Labelled identifiers win;
// unlabelled UPNs identify people and unlabelled GUIDs are handed out in
// order, people first.
func assignIDs(spec operationSpec, text string, args ports.Args) {
	labelled := map[string]string{}
	used := map[string]bool{}
	for _, m := range labelledPattern.FindAllStringSubmatch(text, -1) {
		label, value := strings.ToLower(m[1]), strings.TrimRight(m[2], ".,;")
		if !looksLikeID(value) {
			continue
		}
		if _, seen := labelled[label]; !seen {
			labelled[label] = value
			used[strings.ToLower(value)] = true
		}
	}

	upns := upnPattern.FindAllString(text, -1)
	var guids []string
	for _, g := range guidPattern.FindAllString(text, -1) {
		if !used[strings.ToLower(g)] {
			guids = append(guids, g)
		}
	}
	nextGUID := func() string {
		if len(guids) == 0 {
			return ""
		}
		g := guids[0]
		guids = guids[1:]
		return g
	}
	person := func(label string) string {
		if v := labelled[label]; v != "" {
			return v
		}
		for _, u := range upns {
			if !used[strings.ToLower(u)] {
				used[strings.ToLower(u)] = true
				return u
			}
		}
		return nextGUID()
	}

	if spec.requires(argUserID) {
		if v := person("user"); v != "" {
			args[argUserID] = v
		}
	}
	if spec.requires(argOwnerID) {
		if v := person("owner"); v != "" {
			args[argOwnerID] = v
		}
	}
	if spec.requires(argGroupID) {
		v := labelled["group"]
		if v == "" {
			v = nextGUID()
		}
		if v != "" {
			args[argGroupID] = v
		}
	}
}

// looksLikeID accepts UPNs, GUIDs and other tokens carrying a digit.
func looksLikeID(s string) bool {
	if strings.Contains(s, "@") {
		return upnPattern.MatchString(s)
	}
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func hasIdentifier(text string) bool {
	return upnPattern.MatchString(text) || guidPattern.MatchString(text)
}

// maxPageSize is the largest count a list operation accepts.
const maxPageSize = 999

// firstCount returns the first number between 1 and maxPageSize outside identifiers.
func firstCount(text string) (string, bool) {
	stripped := guidPattern.ReplaceAllString(upnPattern.ReplaceAllString(text, " "), " ")
	for _, m := range numberPattern.FindAllStringSubmatch(stripped, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= maxPageSize {
			return strconv.Itoa(n), true
		}
	}
	return "", false
}

// countOrAll prefers an explicit count and maps "all" or "every" to the page cap.
func countOrAll(text string) (string, bool) {
	if n, ok := firstCount(text); ok {
		return n, true
	}
	if allPattern.MatchString(text) {
		return strconv.Itoa(maxPageSize), true
	}
	return "", false
}

func displayName(text string) string {
	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := namedPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// fieldAssignment reads "set <field> to <value>" phrasing. The last verb
// before the field wins, so "update user x set title to y" reads "title".
func fieldAssignment(text string) (string, string, bool) {
	m := setPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", false
	}
	field := guidPattern.ReplaceAllString(upnPattern.ReplaceAllString(m[1], " "), " ")
	field = fieldTailRegexp.ReplaceAllString(field, "")
	var words []string
	for _, w := range strings.Fields(field) {
		switch strings.ToLower(w) {
		case "the", "their", "his", "her", "its", "user", "group", "user's", "group's":
			continue
		}
		words = append(words, w)
	}
	value := trimValue(m[2])
	if len(words) == 0 || value == "" {
		return "", "", false
	}
	return canonicalField(strings.Join(words, " ")), value, true
}

// canonicalField maps a spoken attribute to its property name.
func canonicalField(s string) string {
	s = strings.TrimSpace(s)
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if f, ok := friendlyFields[key]; ok {
		return f
	}
	words := strings.Fields(s)
	if len(words) == 1 {
		return words[0]
	}
	var b strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 && w != "" {
			w = strings.ToUpper(w[:1]) + w[1:]
		}
		b.WriteString(w)
	}
	return b.String()
}

func trimValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!")
	s = strings.Trim(s, `"“”'`)
	return strings.TrimSpace(s)
}

// answerFor reads the value of one awaited field from a clarification answer.
// Structured fields only accept structured values.
func answerFor(lex *lexicon, field, text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	switch field {
	case argUserID, argOwnerID:
		if upn := upnPattern.FindString(trimmed); upn != "" {
			return upn, true
		}
		if g := guidPattern.FindString(trimmed); g != "" {
			return g, true
		}
		return bareToken(lex, trimmed)
	case argGroupID:
		if g := guidPattern.FindString(trimmed); g != "" {
			return g, true
		}
		return bareToken(lex, trimmed)
	case argUserPrincipalName:
		if upn := upnPattern.FindString(trimmed); upn != "" {
			return upn, true
		}
		return "", false
	case argMaxResults:
		return countOrAll(trimmed)
	case argField:
		v := trimValue(trimmed)
		return canonicalField(v), v != ""
	case argDisplayName:
		if name := displayName(trimmed); name != "" {
			return name, true
		}
	}
	v := trimValue(trimmed)
	return v, v != ""
}

// bareToken accepts a single identifier-like word that is not a command word.
func bareToken(lex *lexicon, text string) (string, bool) {
	v := strings.TrimRight(trimValue(text), ",;")
	if v == "" || strings.ContainsAny(v, " \t\n") {
		return "", false
	}
	if _, ok := lex.canonical(strings.ToLower(v)); ok {
		return "", false
	}
	return v, true
}
