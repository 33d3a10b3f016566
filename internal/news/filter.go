package news

import "time"

// Filter narrows reads by source, category, publication window, or a keyword
// matched against title and content. Zero values mean "any".
type Filter struct {
	Source   string
	Category string
	Keyword  string
	Since    time.Time
	Until    time.Time
}
