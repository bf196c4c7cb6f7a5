package orchestration

import (
	"strings"
	"unicode"

	"github.com/armon/go-radix"
)

// Canonical tokens produced by the lexicon.
const (
	tokUser      = "user"
	tokMember    = "member"
	tokGroup     = "group"
	tokOwner     = "owner"
	tokOwnerless = "ownerless"
	tokDetails   = "details"
	tokList      = "list"
	tokGet       = "get"
	tokCreate    = "create"
	tokNew       = "new"
	tokAdd       = "add"
	tokDelete    = "delete"
	tokRemove    = "remove"
	tokUpdate    = "update"
	tokAssign    = "assign"
	tokCount     = "count"
	tokMany      = "many"
	tokHow       = "how"
)

// stems maps word stems to their canonical token. A word matches a stem when
// the remainder is one of inflections.
var stems = map[string]string{
	"user":        tokUser,
	"account":     tokUser,
	"member":      tokMember,
	"group":       tokGroup,
	"owner":       tokOwner,
	"own":         tokOwner,
	"ownerless":   tokOwnerless,
	"detail":      tokDetails,
	"info":        tokDetails,
	"information": tokDetails,
	"list":        tokList,
	"show":        tokList,
	"view":        tokList,
	"see":         tokList,
	"enumerat":    tokList,
	"get":         tokGet,
	"fetch":       tokGet,
	"creat":       tokCreate,
	"onboard":     tokCreate,
	"new":         tokNew,
	"add":         tokAdd,
	"delet":       tokDelete,
	"remov":       tokRemove,
	"updat":       tokUpdate,
	"chang":       tokUpdate,
	"modif":       tokUpdate,
	"edit":        tokUpdate,
	"set":         tokUpdate,
	"assign":      tokAssign,
	"mak":         tokAssign,
	"count":       tokCount,
	"number":      tokCount,
	"total":       tokCount,
	"many":        tokMany,
	"how":         tokHow,
}

var inflections = map[string]bool{
	"": true, "s": true, "e": true, "es": true, "ed": true, "ing": true, "ion": true,
	"al": true, "y": true, "ied": true, "ies": true, "ment": true, "ship": true,
}

// negators turn a following owner token into ownerless.
var negators = map[string]bool{
	"no": true, "without": true, "zero": true, "lacking": true, "missing": true,
}

// fillers may sit between a negator and the word it negates.
var fillers = map[string]bool{"a": true, "an": true, "any": true, "the": true}

// lexicon reduces free text to a set of canonical tokens.
type lexicon struct {
	tree *radix.Tree
}

func newLexicon() *lexicon {
	m := make(map[string]interface{}, len(stems))
	for stem, token := range stems {
		m[stem] = token
	}
	return &lexicon{tree: radix.NewFromMap(m)}
}

// canonical returns the token for one lowercase word, if any. The longest stem
// whose remainder is an accepted inflection wins.
func (l *lexicon) canonical(word string) (string, bool) {
	var token string
	found := false
	l.tree.WalkPath(word, func(stem string, v interface{}) bool {
		if inflections[word[len(stem):]] {
			token, found = v.(string), true
		}
		return false
	})
	return token, found
}

// tokens returns the canonical token set of text.
func (l *lexicon) tokens(text string) map[string]bool {
	words := tokenise(strings.ToLower(text))
	set := make(map[string]bool)
	for i := 0; i < len(words); i++ {
		w := words[i]
		if negators[w] {
			j := i + 1
			for j < len(words) && fillers[words[j]] {
				j++
			}
			if j < len(words) {
				if tok, ok := l.canonical(words[j]); ok && tok == tokOwner {
					set[tokOwnerless] = true
					i = j
					continue
				}
			}
		}
		if tok, ok := l.canonical(w); ok {
			set[tok] = true
		}
	}
	return set
}

// tokenise splits text into words of letters and digits.
func tokenise(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
