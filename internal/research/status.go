package research

// Status is the pipeline phase reported to clients.
type Status string

const (
	StatusRewritingQuery Status = "rewriting-query"
	StatusSearching      Status = "searching"
	StatusSynthesizing   Status = "synthesizing"
	StatusComplete       Status = "complete"
	StatusError          Status = "error"
)

// Terminal reports whether no further phase can follow s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Valid reports whether s is one of the known phases.
func (s Status) Valid() bool {
	switch s {
	case StatusRewritingQuery, StatusSearching, StatusSynthesizing, StatusComplete, StatusError:
		return true
	default:
		return false
	}
}
