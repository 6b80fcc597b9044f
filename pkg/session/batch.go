package session

import (
	"context"
	"sync"
)

// BatchResult is one prompt's outcome from BatchGenerate. Index is the
// prompt's position in the input slice.
type BatchResult struct {
	Index    int       `json:"index"`
	Success  bool      `json:"success"`
	Response *Response `json:"response,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

// BatchGenerate runs Chat over prompts with at most maxConcurrent in flight.
// Results are returned in input order; a failing prompt yields a failed
// BatchResult and never aborts its siblings. maxConcurrent < 1 means serial.
// With checkBudgetPerItem false the per-call budget gate is skipped and the
// batch may overshoot the budget; costs are still recorded.
func (s *Session) BatchGenerate(ctx context.Context, prompts []string, checkBudgetPerItem bool, maxConcurrent int, opts ...ChatOption) []BatchResult {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if !checkBudgetPerItem {
		opts = append(append([]ChatOption(nil), opts...), WithoutBudgetCheck())
	}

	results := make([]BatchResult, len(prompts))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i, prompt := range prompts {
		wg.Add(1)
		go func(i int, prompt string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = BatchResult{Index: i, Err: ctx.Err(), Error: ctx.Err().Error()}
				return
			}

			resp, err := s.Chat(ctx, prompt, opts...)
			if err != nil {
				results[i] = BatchResult{Index: i, Err: err, Error: err.Error()}
				return
			}
			results[i] = BatchResult{Index: i, Success: true, Response: resp}
		}(i, prompt)
	}
	wg.Wait()
	return results
}
