package responder

// Category is the bucket a non-admitted candidate is filed under.
type Category string

const (
	CategoryPass        Category = "pass"
	CategoryNoGoodMatch Category = "nogoodmatch"
	CategoryQuibble     Category = "quibble"
	CategoryGambit      Category = "gambit"
	CategoryRepeat      Category = "repeat"
	CategoryBad         Category = "bad"
)

// Answer is the candidate a responder produces for one consultation.
type Answer struct {
	Text string `json:"text"`
	// ExactMatch and PartialMatch are the good-match flags.
	ExactMatch   bool   `json:"exact_match,omitempty"`
	PartialMatch bool   `json:"ok_match,omitempty"`
	Gambit       bool   `json:"gambit,omitempty"`
	Quibble      bool   `json:"quibble,omitempty"`
	Bad          bool   `json:"bad,omitempty"`
	Repeat       string `json:"repeat,omitempty"`
	Emotion      string `json:"emotion,omitempty"`
	Topic        string `json:"topic,omitempty"`
	LineRef      string `json:"lineno,omitempty"`
	// Confidence weights the candidate within its category when set.
	Confidence float64 `json:"confidence,omitempty"`
}

// GoodMatch reports an exact or partial match.
func (a Answer) GoodMatch() bool {
	return a.ExactMatch || a.PartialMatch
}

// Empty reports whether the answer carries no text and no repeat hint.
func (a Answer) Empty() bool {
	return a.Text == "" && a.Repeat == ""
}
