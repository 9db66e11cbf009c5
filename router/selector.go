package router

import (
	"fmt"
	"strings"

	"github.com/hupe1980/collabhub/core"
)

// SelectionRequest describes what the caller needs from an agent: the
// session to pick from, the capability tags requested and the message
// content (scanned for specialization keywords).
type SelectionRequest struct {
	SessionID    string
	Capabilities []string
	Content      string
}

// Scoring weights. Capability matches dominate, specialization keywords come
// second, spare capacity third; the responsiveness bonus is a sub-5-point
// tie-breaker.
const (
	capabilityWeight     = 10
	specializationWeight = 5
	loadWeight           = 2
	responsivenessCeil   = 5000 // ms
)

// SelectBestAgent scores every session participant and returns the arg-max,
// ties broken by participant order. When every score is zero or below the
// first candidate is returned, so a session with participants never yields
// no selection.
func (r *Router) SelectBestAgent(req SelectionRequest) (string, error) {
	session, ok := r.dir.Session(req.SessionID)
	if !ok {
		return "", fmt.Errorf("session %s: %w", req.SessionID, core.ErrNotFound)
	}

	var (
		bestID    string
		bestScore float64
		first     string
	)
	for _, id := range session.Participants {
		agent, ok := r.dir.Agent(id)
		if !ok {
			continue
		}
		if first == "" {
			first = id
		}
		score := scoreAgent(agent, req)
		if bestID == "" || score > bestScore {
			bestID, bestScore = id, score
		}
	}
	if first == "" {
		return "", fmt.Errorf("session %s has no resolvable participants: %w", req.SessionID, core.ErrNotFound)
	}
	if bestScore <= 0 {
		return first, nil
	}
	return bestID, nil
}

// scoreAgent computes the weighted suitability score for one candidate.
func scoreAgent(agent *core.AgentRecord, req SelectionRequest) float64 {
	var score float64

	for _, wanted := range req.Capabilities {
		w := strings.ToLower(wanted)
		for _, c := range agent.Capabilities {
			if strings.Contains(strings.ToLower(c), w) {
				score += capabilityWeight
				break
			}
		}
	}

	if agent.Specialization != "" &&
		strings.Contains(strings.ToLower(req.Content), strings.ToLower(agent.Specialization)) {
		score += specializationWeight
	}

	if spare := agent.MaxConcurrentSessions - len(agent.CurrentSessions); spare > 0 {
		score += float64(spare * loadWeight)
	}

	if bonus := responsivenessCeil - agent.AvgResponseTimeMs; bonus > 0 {
		score += float64(bonus) / 1000
	}
	return score
}
