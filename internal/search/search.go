package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Status     string `json:"status"`
	AssignedTo string `json:"assignedTo"`
	AthenaID   string `json:"athenaId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterStatus     string
	FilterAssignedTo string
	FilterAthenaID   string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data indexed per action item.
type ItemRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Status      string   `json:"status"`
	AssignedTo  string   `json:"assignedTo"`
	AthenaID    string   `json:"athenaId"`
}
