package arbiter

import (
	"sort"

	"github.com/BeranItService/chatbot/internal/model/responder"
)

// CategoryWeights drives the cache-pick draw over filed categories.
type CategoryWeights map[responder.Category]float64

// DefaultCategoryWeights orders plain passes far above no-good-match,
// then quibbles and gambits, then repeats. Bad answers are never picked.
var DefaultCategoryWeights = CategoryWeights{
	responder.CategoryPass:        100,
	responder.CategoryNoGoodMatch: 50,
	responder.CategoryQuibble:     40,
	responder.CategoryGambit:      40,
	responder.CategoryRepeat:      20,
	responder.CategoryBad:         0,
}

var categoryOrder = []responder.Category{
	responder.CategoryPass,
	responder.CategoryNoGoodMatch,
	responder.CategoryQuibble,
	responder.CategoryGambit,
	responder.CategoryRepeat,
	responder.CategoryBad,
}

// orderedCategories lists the keys of filed in a stable order so seeded
// draws are reproducible.
func orderedCategories[V any](filed map[responder.Category]V) []responder.Category {
	out := make([]responder.Category, 0, len(filed))
	known := make(map[responder.Category]struct{}, len(categoryOrder))
	for _, c := range categoryOrder {
		known[c] = struct{}{}
		if _, ok := filed[c]; ok {
			out = append(out, c)
		}
	}
	var extra []responder.Category
	for c := range filed {
		if _, ok := known[c]; !ok {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
