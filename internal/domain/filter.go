package domain

// WordFilter checks outbound text for disallowed words.
type WordFilter interface {
	CheckMessage(text string) FilterResult
}

// FilterResult reports a word filter match. FilteredContent is optional.
type FilterResult struct {
	IsFiltered      bool
	FilteredContent string
	MatchedWords    []string
}
