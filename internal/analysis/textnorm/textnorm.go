package textnorm

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	markPattern         = regexp.MustCompile(`\[.*\]`)
	trailingPunctuation = regexp.MustCompile(`[.|?!]+$`)
)

// questionMarks are the terminal question marks recognised across scripts.
var questionMarks = []rune{
	'?',      // Latin
	'\uff1f', // fullwidth
	'\u061f', // Arabic
	'\u037e', // Greek
	'\u055e', // Armenian
	'\u1367', // Ethiopic
}

// IsQuestion reports whether text ends in a terminal question mark.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	last, size := utf8.DecodeLastRuneInString(text)
	if size == 0 {
		return false
	}
	for _, mark := range questionMarks {
		if last == mark {
			return true
		}
	}
	return false
}

// Collapse trims text and folds runs of whitespace into single spaces.
func Collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Preprocess is applied to every question before arbitration.
func Preprocess(question string) string {
	return strings.ToLower(Collapse(question))
}

// Cleanup tidies an answer before it is returned.
func Cleanup(text string) string {
	text = Collapse(text)
	return strings.TrimPrefix(text, ".")
}

// Norm strips bracketed markup and collapses whitespace.
func Norm(text string) string {
	return Collapse(markPattern.ReplaceAllString(text, ""))
}

// Norm2 is the comparison form used for ledger records: Norm, then
// trailing punctuation removed, contractions expanded and lowercased.
func Norm2(text string) string {
	text = Norm(text)
	text = trailingPunctuation.ReplaceAllString(text, "")
	text = ExpandContractions(text)
	return strings.ToLower(text)
}

var contractions = map[string]string{
	"i'd":       "i would",
	"i'll":      "i will",
	"i'm":       "i am",
	"i've":      "i have",
	"ain't":     "is not",
	"aren't":    "are not",
	"can't":     "can not",
	"cannot":    "can not",
	"could've":  "could have",
	"couldn't":  "could not",
	"didn't":    "did not",
	"doesn't":   "does not",
	"don't":     "do not",
	"gimme":     "give me",
	"gonna":     "going to",
	"gotta":     "got to",
	"hadn't":    "had not",
	"hasn't":    "has not",
	"haven't":   "have not",
	"he'd":      "he would",
	"he'll":     "he will",
	"he's":      "he is",
	"isn't":     "is not",
	"it'd":      "it would",
	"it'll":     "it will",
	"it's":      "it is",
	"let's":     "let us",
	"shouldn't": "should not",
	"she'd":     "she would",
	"she'll":    "she will",
	"she's":     "she is",
	"that's":    "that is",
	"there's":   "there is",
	"they'd":    "they would",
	"they'll":   "they will",
	"they're":   "they are",
	"they've":   "they have",
	"wanna":     "want to",
	"wasn't":    "was not",
	"we'd":      "we would",
	"we'll":     "we will",
	"we're":     "we are",
	"we've":     "we have",
	"weren't":   "were not",
	"what's":    "what is",
	"where's":   "where is",
	"who's":     "who is",
	"won't":     "will not",
	"wouldn't":  "would not",
	"you'd":     "you would",
	"you'll":    "you will",
	"you're":    "you are",
	"you've":    "you have",
}

var contractionPattern = buildContractionPattern()

func buildContractionPattern() *regexp.Regexp {
	words := make([]string, 0, len(contractions))
	for word := range contractions {
		words = append(words, regexp.QuoteMeta(word))
	}
	// Longest first so alternation prefers the complete word.
	sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	return regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`)
}

// ExpandContractions replaces whole-word English contractions.
func ExpandContractions(text string) string {
	return contractionPattern.ReplaceAllStringFunc(text, func(word string) string {
		if expanded, ok := contractions[strings.ToLower(word)]; ok {
			return expanded
		}
		return word
	})
}
