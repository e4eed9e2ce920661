package pagination_test

import (
	"context"
	"errors"
	"sync"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/session"
)

// scriptedExtractor answers each call from a per-term script; when the
// script runs out it repeats the last step.
type scriptedExtractor struct {
	name string

	mu    sync.Mutex
	steps map[string][]step
	calls map[string][]int // term -> pages requested, in order
}

type step struct {
	records int
	hasMore bool
	err     error
}

func newScripted(name string) *scriptedExtractor {
	return &scriptedExtractor{name: name, steps: map[string][]step{}, calls: map[string][]int{}}
}

func (s *scriptedExtractor) on(term string, steps ...step) *scriptedExtractor {
	s.steps[term] = steps
	return s
}

func (s *scriptedExtractor) Name() string { return s.name }

func (s *scriptedExtractor) FetchPage(_ context.Context, _ session.Session, req extractor.PageRequest) (extractor.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.calls[req.Term])
	s.calls[req.Term] = append(s.calls[req.Term], req.Page)

	script := s.steps[req.Term]
	if len(script) == 0 {
		return extractor.Page{}, nil
	}
	st := script[len(script)-1]
	if n < len(script) {
		st = script[n]
	}
	if st.err != nil {
		return extractor.Page{}, st.err
	}
	recs := make([]extractor.RawRecord, st.records)
	for i := range recs {
		recs[i] = extractor.RawRecord{Title: req.Term + " tender"}
	}
	return extractor.Page{Records: recs, HasMore: st.hasMore}, nil
}

func (s *scriptedExtractor) pagesRequested(term string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls[term]...)
}

func transientErr() error {
	return extractor.Transient("stub", errors.New("connection refused"))
}

func permanentErr() error {
	return extractor.Permanent("stub", extractor.ErrAuthRejected)
}
