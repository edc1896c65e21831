package usage

import (
	"sort"

	"github.com/artpar/usagemeter/domain/cost"
)

// Window is a rollup of events for one period key (value type).
// Success and failure are stored as raw counts; SuccessRate is recomputed
// from them on every Add.
type Window struct {
	Key             string           `json:"key"`
	Requests        int64            `json:"requests"`
	SuccessCount    int64            `json:"success_count"`
	FailureCount    int64            `json:"failure_count"`
	SuccessRate     float64          `json:"success_rate"` // percent, 0-100
	InputTokens     int64            `json:"input_tokens"`
	OutputTokens    int64            `json:"output_tokens"`
	TotalTokens     int64            `json:"total_tokens"`
	Cost            float64          `json:"cost"`
	CacheHits       int64            `json:"cache_hits"`
	AvgResponseTime float64          `json:"avg_response_time_ms"`
	Endpoints       map[string]int64 `json:"endpoints"`
}

// NewWindow starts a window with a single event.
func NewWindow(key string, e Event) Window {
	return Window{Key: key}.Add(e)
}

// Add merges one event into a copy of w.
// This is a PURE function.
func (w Window) Add(e Event) Window {
	out := w.Clone()
	prev := out.Requests
	out.Requests++
	if e.Success {
		out.SuccessCount++
	} else {
		out.FailureCount++
	}
	out.InputTokens += e.InputTokens
	out.OutputTokens += e.OutputTokens
	out.TotalTokens += e.TotalTokens
	out.Cost = cost.Round6(out.Cost + e.Cost)
	if e.CacheHit {
		out.CacheHits++
	}
	out.SuccessRate = successRate(out.SuccessCount, out.Requests)
	out.AvgResponseTime = (out.AvgResponseTime*float64(prev) + float64(e.DurationMs)) / float64(out.Requests)
	if out.Endpoints == nil {
		out.Endpoints = make(map[string]int64)
	}
	out.Endpoints[e.Endpoint]++
	return out
}

func successRate(successes, requests int64) float64 {
	if requests == 0 {
		return 0
	}
	return float64(successes) / float64(requests) * 100
}

// Clone returns a deep copy.
func (w Window) Clone() Window {
	if w.Endpoints != nil {
		m := make(map[string]int64, len(w.Endpoints))
		for k, v := range w.Endpoints {
			m[k] = v
		}
		w.Endpoints = m
	}
	return w
}

// roll applies e to the live window for key and returns the new live window
// and history.
//
// Same key merges. A later key archives the live window and starts a fresh
// one. An earlier key (late event) merges into the matching history entry,
// inserting one if absent; the live window is untouched.
func roll(live Window, history []Window, key string, e Event, bound int) (Window, []Window) {
	switch {
	case live.Key == "":
		return NewWindow(key, e), cloneHistory(history)
	case live.Key == key:
		return live.Add(e), cloneHistory(history)
	case key > live.Key:
		return NewWindow(key, e), pushHistory(cloneHistory(history), live, bound)
	}

	h := cloneHistory(history)
	for i := range h {
		if h[i].Key == key {
			h[i] = h[i].Add(e)
			return live.Clone(), h
		}
	}
	return live.Clone(), pushHistory(h, NewWindow(key, e), bound)
}

// pushHistory inserts w keeping history sorted by key and at most bound long,
// dropping the oldest entries.
func pushHistory(history []Window, w Window, bound int) []Window {
	history = append(history, w)
	sort.Slice(history, func(i, j int) bool { return history[i].Key < history[j].Key })
	if bound > 0 && len(history) > bound {
		history = history[len(history)-bound:]
	}
	return history
}

func cloneHistory(h []Window) []Window {
	if h == nil {
		return nil
	}
	out := make([]Window, len(h))
	for i, w := range h {
		out[i] = w.Clone()
	}
	return out
}
