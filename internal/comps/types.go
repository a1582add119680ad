package comps

// #region title
// Title is one comparable title returned by the comps engine. Read-only advisory data.
type Title struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Year       int      `json:"year"`
	Format     string   `json:"format"`
	Region     string   `json:"region"`
	Genres     []string `json:"genres"`
	Rationale  string   `json:"rationale"`
	Confidence float64  `json:"confidence"`
	Query      string   `json:"query,omitempty"`
}

// #endregion title

// #region suggestion
// Suggestion is the comps payload: candidate titles plus suggested values keyed by
// dimension name. Keys and values are untrusted until Normalize accepts them.
type Suggestion struct {
	Titles []Title        `json:"titles"`
	Values map[string]any `json:"values"`
}

// Query asks the comps engine for suggestions.
type Query struct {
	ProjectID string   `json:"project_id"`
	Lane      string   `json:"lane"`
	Logline   string   `json:"logline,omitempty"`
	Seeds     []string `json:"seeds,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// #endregion suggestion
