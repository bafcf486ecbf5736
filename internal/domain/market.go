package domain

// Market holds the subset of Polymarket market metadata the sync engine
// needs: identity for trade association and the start date used to seed the
// sync cursor.
type Market struct {
	ID          string // numeric Gamma id
	ConditionID string
	Slug        string
	Question    string
	StartDate   int64 // unix seconds, 0 when the API did not report one
	Closed      bool
}
