// Package models defines data structures shared by the pipeline stages.
package models

import (
	"fmt"
	"time"
)

// Record is a single listing taken from a search results page.
type Record struct {
	Title  string `csv:"title" json:"title"`
	Author string `csv:"author" json:"author"`
	Price  string `csv:"price" json:"price"`
	Rating string `csv:"rating" json:"rating"`
}

// RunResult summarises one extract-transform-load run.
type RunResult struct {
	Attempt             int
	StartTime           time.Time
	EndTime             time.Time
	PageCount           int
	RequestCount        int
	SkippedItems        int
	CollectedCount      int
	CollectorDuplicates int
	NormalizedCount     int
	NormalizeDuplicates int
	RowsWritten         int
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// EmptyInputError is returned when a stage receives zero records.
type EmptyInputError struct {
	Stage string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("%s: no records to process", e.Stage)
}

// Collection is the output of the collection stage.
type Collection struct {
	Records      []Record
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	RequestCount int
	SkippedItems int
	Duplicates   int
	// Exhausted is set when a page bound stopped collection before the
	// target count was reached.
	Exhausted bool
}
