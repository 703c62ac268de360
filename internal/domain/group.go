package domain

import "strings"

// reshareMarker prefixes the text of a verbatim re-post.
const reshareMarker = "RT @"

// GroupedReshare is one original post merged across everyone who reshared it.
type GroupedReshare struct {
	// SubID is the reshared original post's id, usable as a permalink.
	SubID int64
	User  string
	Text  string

	// Resharers lists who reshared it, one entry per context record.
	// Renderers may deduplicate for display.
	Resharers []string
}

// GroupedOriginal is one distinct original post. Identical texts recorded
// more than once (overlapping polls) collapse into a single entry with a
// repeat counter.
type GroupedOriginal struct {
	PostID int64
	User   string
	Text   string
	Sub    []SubStatus

	// Repeats counts occurrences beyond the first.
	Repeats int
}

// GroupContexts collapses the full context list for one URL into display
// entries: reshares merged by the original post they re-posted, originals
// deduplicated by exact text. Both collections are unordered.
func GroupContexts(recs []ContextRecord) ([]GroupedReshare, []GroupedOriginal) {
	var (
		reshares  []GroupedReshare
		originals []GroupedOriginal

		reshareIdx  = make(map[int64]int)
		originalIdx = make(map[string]int)
	)

	for _, rec := range recs {
		if strings.HasPrefix(rec.Text, reshareMarker) && len(rec.Sub) > 0 {
			orig := rec.Sub[0]
			if i, ok := reshareIdx[orig.ID]; ok {
				reshares[i].Resharers = append(reshares[i].Resharers, rec.User)
				continue
			}
			reshareIdx[orig.ID] = len(reshares)
			reshares = append(reshares, GroupedReshare{
				SubID:     orig.ID,
				User:      orig.User,
				Text:      orig.Text,
				Resharers: []string{rec.User},
			})
			continue
		}

		if i, ok := originalIdx[rec.Text]; ok {
			originals[i].Repeats++
			continue
		}
		originalIdx[rec.Text] = len(originals)
		originals = append(originals, GroupedOriginal{
			PostID: rec.PostID,
			User:   rec.User,
			Text:   rec.Text,
			Sub:    rec.Sub,
		})
	}

	return reshares, originals
}
