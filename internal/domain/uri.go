package domain

import "encoding/json"

// ReviewURIParams is the JSON payload carried in the query string of a
// virtual review-document URI. It identifies which file, diff side and
// revision an open document view represents.
type ReviewURIParams struct {
	FileName   string `json:"fileName"`
	IsBase     bool   `json:"isBase"`
	PRNumber   int    `json:"prNumber"`
	BaseCommit string `json:"baseCommit"`
	HeadCommit string `json:"headCommit"`
	Status     string `json:"status"`
}

// Side maps the isBase flag onto a diff side.
func (p ReviewURIParams) Side() DiffSide {
	if p.IsBase {
		return SideLeft
	}
	return SideRight
}

// DecodeReviewURI parses the query component of a virtual document URI.
// Malformed or missing JSON yields ok=false and means "no binding"; it is
// never an error.
func DecodeReviewURI(query string) (ReviewURIParams, bool) {
	if query == "" {
		return ReviewURIParams{}, false
	}
	var params ReviewURIParams
	if err := json.Unmarshal([]byte(query), &params); err != nil {
		return ReviewURIParams{}, false
	}
	if params.FileName == "" {
		return ReviewURIParams{}, false
	}
	return params, true
}

// EncodeReviewURI renders the query component for a virtual document URI.
func EncodeReviewURI(params ReviewURIParams) string {
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(data)
}
