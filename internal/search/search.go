package search

// Result is a single question hit returned to the caller.
type Result struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Snippet        string   `json:"snippet"`
	Tags           []string `json:"tags"`
	AuthorUsername string   `json:"authorUsername"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Tag    string // empty = all tags
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over questions.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push questions into a search index.
type Indexer interface {
	IndexQuestion(record QuestionRecord) error
	DeleteQuestion(id string) error
}

// QuestionRecord is the data we index for a question.
type QuestionRecord struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	AuthorUsername string   `json:"authorUsername"`
}
