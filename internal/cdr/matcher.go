package cdr

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/casewire/casewire/internal/domain/graph"
)

// MatchResult is what phone matching produces: the number → entity hits
// stored on the CDR record, and the relationships mirrored into the job's
// graph (CALLED between matched caller/callee pairs, PHONE_MATCH between
// entities of different documents that share a number).
type MatchResult struct {
	Matches       []Match
	Relationships []graph.RelationshipCreateParams
}

// MatchNumbers matches the calls' normalized numbers against phone-like
// labels and properties of the job's entities. Pure; persistence is the
// caller's problem.
func MatchNumbers(jobID uuid.UUID, calls []Call, entities []graph.Entity) *MatchResult {
	index := make(map[string][]graph.Entity)
	for _, entity := range entities {
		for _, num := range entityNumbers(entity) {
			key := matchKey(num)
			index[key] = append(index[key], entity)
		}
	}
	for key := range index {
		hits := index[key]
		sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	}

	result := &MatchResult{}

	seen := make(map[string]bool)
	var numbers []string
	for _, call := range calls {
		for _, num := range []string{call.Caller, call.Callee} {
			if num == "" || seen[num] {
				continue
			}
			seen[num] = true
			numbers = append(numbers, num)
		}
	}

	// primary matched entity per call number, used for CALLED edges
	primary := make(map[string]graph.Entity)

	type pair struct{ source, target string }
	linked := make(map[pair]bool)

	for _, num := range numbers {
		hits := index[matchKey(num)]
		if len(hits) == 0 {
			continue
		}

		for _, entity := range hits {
			result.Matches = append(result.Matches, Match{
				Number:   num,
				EntityID: entity.ID,
				Label:    entity.Label,
			})
		}
		primary[num] = hits[0]

		for i := 0; i < len(hits); i++ {
			for j := i + 1; j < len(hits); j++ {
				if hits[i].ArtifactID == hits[j].ArtifactID {
					continue
				}
				p := pair{source: hits[i].ID, target: hits[j].ID}
				if linked[p] {
					continue
				}
				linked[p] = true
				result.Relationships = append(result.Relationships, graph.RelationshipCreateParams{
					ID:         graph.RelationshipID(jobID, p.source, p.target, graph.RelPhoneMatch, 0),
					JobID:      jobID,
					SourceID:   p.source,
					TargetID:   p.target,
					Type:       graph.RelPhoneMatch,
					Properties: map[string]any{"number": num},
				})
			}
		}
	}
	counts := make(map[pair]int)
	var order []pair
	for _, call := range calls {
		caller, callerMatched := primary[call.Caller]
		callee, calleeMatched := primary[call.Callee]
		if !callerMatched || !calleeMatched || caller.ID == callee.ID {
			continue
		}
		p := pair{source: caller.ID, target: callee.ID}
		if _, ok := counts[p]; !ok {
			order = append(order, p)
		}
		counts[p]++
	}
	for _, p := range order {
		result.Relationships = append(result.Relationships, graph.RelationshipCreateParams{
			ID:         graph.RelationshipID(jobID, p.source, p.target, graph.RelCalled, 0),
			JobID:      jobID,
			SourceID:   p.source,
			TargetID:   p.target,
			Type:       graph.RelCalled,
			Properties: map[string]any{"call_count": counts[p]},
		})
	}

	return result
}

// entityNumbers collects the normalized phone numbers an entity carries:
// the label of PHONE-typed entities plus any phone-like property values.
func entityNumbers(entity graph.Entity) []string {
	var nums []string
	if strings.EqualFold(entity.Type, "PHONE") {
		if n := NormalizePhone(entity.Label); n != "" {
			nums = append(nums, n)
		}
	}

	for key, value := range entity.Properties {
		if !phoneLikeKey(key) {
			continue
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		if n := NormalizePhone(s); n != "" {
			nums = append(nums, n)
		}
	}

	seen := make(map[string]bool, len(nums))
	out := nums[:0]
	for _, n := range nums {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func phoneLikeKey(key string) bool {
	key = strings.ToLower(key)
	for _, marker := range []string{"phone", "mobile", "msisdn", "contact", "number"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// matchKey reduces a normalized number to its last 10 digits so that
// numbers with and without a country prefix still match. Shorter numbers
// must match exactly.
func matchKey(number string) string {
	digits := strings.TrimPrefix(number, "+")
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}
