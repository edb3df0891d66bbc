package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// Verifier decides whether a claim is entailed by retrieved passages and
// finds the minimal set of passages supporting it.
//
// A claim is split into clauses and every clause must be entailed by a
// single passage sentence (a table row counts together with its header).
// That sentence covers every content term of the clause, contains every
// number it states, and agrees with its negation polarity. Terms gathered
// from different sentences never add up to support. A claim carrying a
// support span is only supported when a passage quoting the span entails
// part of it. When a judge is configured it must confirm the lexical verdict.
type Verifier struct {
	judge          driven.EntailmentJudge
	judgeThreshold float64
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithEntailmentJudge requires judge confirmation at threshold.
func WithEntailmentJudge(judge driven.EntailmentJudge, threshold float64) VerifierOption {
	return func(v *Verifier) {
		v.judge = judge
		v.judgeThreshold = threshold
	}
}

// NewVerifier creates a verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		judgeThreshold: domain.DefaultAppSettings().Grounding.JudgeThreshold,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// unit is one passage sentence, or one table row with its header.
type unit struct {
	text    string
	terms   domain.TermSet
	numbers map[string]struct{}
}

// evidence is one passage prepared for matching.
type evidence struct {
	passage domain.RetrievedPassage
	body    string
	units   []unit
}

func prepare(passages []domain.RetrievedPassage) []evidence {
	out := make([]evidence, 0, len(passages))
	for _, p := range passages {
		var texts []string
		if p.Chunk.Type == domain.ChunkTableRow {
			texts = tableUnits(p.Chunk.Content)
		} else {
			texts = domain.SplitSentences(p.Chunk.BodyText())
		}

		units := make([]unit, 0, len(texts))
		for _, t := range texts {
			nums := make(map[string]struct{})
			for _, n := range domain.Numbers(t) {
				nums[n] = struct{}{}
			}
			units = append(units, unit{text: t, terms: domain.NewTermSet(t), numbers: nums})
		}
		out = append(out, evidence{
			passage: p,
			body:    normaliseSpan(p.Chunk.BodyText()),
			units:   units,
		})
	}
	return out
}

// tableUnits pairs each row line with the heading and header lines above
// it. Header lines repeated behind the marker count as header.
func tableUnits(content string) []string {
	var context, rows []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, domain.TableHeaderMarker):
			context = append(context, strings.TrimPrefix(line, domain.TableHeaderMarker))
		case len(rows) == 0 && (len(context) == 0 || !strings.Contains(context[len(context)-1], " | ")):
			context = append(context, line)
		default:
			rows = append(rows, line)
		}
	}

	prefix := strings.Join(context, "\n")
	if len(rows) == 0 {
		return []string{prefix}
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, prefix+"\n"+r)
	}
	return out
}

// clause is one atomic assertion of a claim.
type clause struct {
	text    string
	terms   []string
	numbers []string
	negated bool
}

func clausesOf(text string) []clause {
	var out []clause
	for _, c := range groundingClauses(text) {
		terms := domain.ContentTerms(c)
		if len(terms) == 0 {
			continue
		}
		out = append(out, clause{
			text:    c,
			terms:   terms,
			numbers: domain.Numbers(c),
			negated: domain.HasNegation(c),
		})
	}
	return out
}

// Verify returns the grounding verdict of claim against passages.
// Passages are expected in rank order.
func (v *Verifier) Verify(
	ctx context.Context, claim domain.Claim, passages []domain.RetrievedPassage,
) (domain.Verdict, error) {
	clauses := clausesOf(claim.Text)
	if len(clauses) == 0 {
		return domain.Verdict{Reason: "claim has no content terms"}, nil
	}
	if len(passages) == 0 {
		return domain.Verdict{Reason: "no evidence"}, nil
	}

	ev := prepare(passages)

	// entails[c] lists the passages with a unit entailing clause c.
	entails := make([][]int, len(clauses))
	for ci, c := range clauses {
		for pi := range ev {
			if ev[pi].entails(c) {
				entails[ci] = append(entails[ci], pi)
			}
		}
		if len(entails[ci]) == 0 {
			return domain.Verdict{
				Coverage: bestCoverage(ev, clauses),
				Reason:   rejection(ev, c),
			}, nil
		}
	}

	seed := -1
	if span := normaliseSpan(claim.SupportSpan); span != "" {
		var reason string
		seed, reason = spanPassage(ev, entails, span)
		if seed < 0 {
			return domain.Verdict{Coverage: bestCoverage(ev, clauses), Reason: reason}, nil
		}
	}

	chosen := minimalCover(entails, len(ev), seed)
	supporting := make([]domain.RetrievedPassage, 0, len(chosen))
	for _, i := range chosen {
		supporting = append(supporting, ev[i].passage)
	}

	if v.judge != nil {
		premise := strings.Join(domain.PassageTexts(supporting), "\n\n")
		score, err := v.judge.Entailment(ctx, premise, claim.Text)
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("entailment judge: %w", err)
		}
		if score < v.judgeThreshold {
			logger.Debug("Judge rejected claim %q: %.2f < %.2f", claim.Text, score, v.judgeThreshold)
			return domain.Verdict{
				Coverage: 1,
				Reason:   fmt.Sprintf("judge score %.2f below %.2f", score, v.judgeThreshold),
			}, nil
		}
	}

	return domain.Verdict{Supported: true, Passages: supporting, Coverage: 1}, nil
}

// entails reports whether one unit of the passage entails c.
func (e *evidence) entails(c clause) bool {
	for _, u := range e.units {
		if u.covers(c) && polarityOf(u.text, c.terms) == c.negated {
			return true
		}
	}
	return false
}

func (u unit) covers(c clause) bool {
	for _, t := range c.terms {
		if !u.terms.Covers(t) {
			return false
		}
	}
	for _, n := range c.numbers {
		if _, ok := u.numbers[n]; !ok {
			return false
		}
	}
	return true
}

// polarityOf returns the negation of the part of text that best matches
// terms, so "X is covered, Y is excluded" is positive about X.
func polarityOf(text string, terms []string) bool {
	best, bestScore, bestExtra := text, -1, 0
	for _, part := range groundingClauses(text) {
		set := domain.NewTermSet(part)
		score := 0
		for _, t := range terms {
			if set.Covers(t) {
				score++
			}
		}
		extra := len(domain.ContentTerms(part)) - score
		if score > bestScore || (score == bestScore && extra < bestExtra) {
			best, bestScore, bestExtra = part, score, extra
		}
	}
	return domain.HasNegation(best)
}

// rejection explains why no passage entails c.
func rejection(ev []evidence, c clause) string {
	var missing []string
	for _, n := range c.numbers {
		found := false
		for i := range ev {
			for _, u := range ev[i].units {
				if _, ok := u.numbers[n]; ok {
					found = true
				}
			}
		}
		if !found {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("numbers not in evidence: %s", strings.Join(missing, ", "))
	}

	best := 0
	for i := range ev {
		for _, u := range ev[i].units {
			if u.covers(c) {
				return fmt.Sprintf("negation polarity differs from evidence for %q", c.text)
			}
			if n := coveredTerms(u, c); n > best {
				best = n
			}
		}
	}
	return fmt.Sprintf("coverage %.2f: no passage sentence entails %q",
		float64(best)/float64(len(c.terms)), c.text)
}

func coveredTerms(u unit, c clause) int {
	n := 0
	for _, t := range c.terms {
		if u.terms.Covers(t) {
			n++
		}
	}
	return n
}

// bestCoverage is the share of claim terms covered when each clause is
// matched to its best single unit.
func bestCoverage(ev []evidence, clauses []clause) float64 {
	covered, total := 0, 0
	for _, c := range clauses {
		total += len(c.terms)
		best := 0
		for i := range ev {
			for _, u := range ev[i].units {
				best = max(best, coveredTerms(u, c))
			}
		}
		covered += best
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

// spanPassage returns the best ranked passage that quotes span and
// entails at least one clause, or -1 with the rejection reason.
func spanPassage(ev []evidence, entails [][]int, span string) (int, string) {
	quoted := false
	for i := range ev {
		if !strings.Contains(ev[i].body, span) {
			continue
		}
		quoted = true
		for _, list := range entails {
			for _, p := range list {
				if p == i {
					return i, ""
				}
			}
		}
	}
	if !quoted {
		return -1, "support span not found in evidence"
	}
	return -1, "passage quoting the support span does not entail the claim"
}

// minimalCover picks passages so every clause has an entailing passage:
// greedily by clauses gained, ties by rank, then drops passages whose
// removal keeps every clause entailed, lowest ranked first. seed, when
// not negative, is always kept. Returned indices are in rank order.
func minimalCover(entails [][]int, n, seed int) []int {
	used := make([]bool, n)
	done := make([]bool, len(entails))
	var chosen []int

	take := func(p int) {
		used[p] = true
		chosen = append(chosen, p)
		for ci, list := range entails {
			for _, q := range list {
				if q == p {
					done[ci] = true
				}
			}
		}
	}
	if seed >= 0 {
		take(seed)
	}

	for {
		best, bestGain := -1, 0
		for p := 0; p < n; p++ {
			if used[p] {
				continue
			}
			gain := 0
			for ci, list := range entails {
				if !done[ci] && containsInt(list, p) {
					gain++
				}
			}
			if gain > bestGain {
				best, bestGain = p, gain
			}
		}
		if best < 0 {
			break
		}
		take(best)
	}

	sort.Ints(chosen)
	for i := len(chosen) - 1; i >= 0 && len(chosen) > 1; i-- {
		if chosen[i] == seed {
			continue
		}
		candidate := make([]int, 0, len(chosen)-1)
		candidate = append(candidate, chosen[:i]...)
		candidate = append(candidate, chosen[i+1:]...)
		if coversAll(entails, candidate) {
			chosen = candidate
		}
	}
	return chosen
}

func coversAll(entails [][]int, chosen []int) bool {
	for _, list := range entails {
		ok := false
		for _, p := range chosen {
			if containsInt(list, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

var spanSpace = regexp.MustCompile(`\s+`)

// normaliseSpan lowercases text, collapses whitespace and trims edge
// punctuation so quoted spans match passage text.
func normaliseSpan(text string) string {
	text = spanSpace.ReplaceAllString(strings.ToLower(text), " ")
	return strings.Trim(text, " .!?;:,\"'")
}

// Rewrite keeps the supported clauses of an unsupported claim. It returns
// false when no clause is supported.
func (v *Verifier) Rewrite(
	ctx context.Context, claim domain.Claim, passages []domain.RetrievedPassage,
) (domain.Claim, domain.Verdict, bool, error) {
	clauses := groundingClauses(claim.Text)
	if len(clauses) < 2 {
		return domain.Claim{}, domain.Verdict{}, false, nil
	}

	var kept []string
	for _, c := range clauses {
		verdict, err := v.Verify(ctx, domain.Claim{Text: c}, passages)
		if err != nil {
			return domain.Claim{}, domain.Verdict{}, false, err
		}
		if verdict.Supported {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return domain.Claim{}, domain.Verdict{}, false, nil
	}

	rewritten := domain.Claim{
		Text:        strings.Join(kept, ", "),
		SupportSpan: claim.SupportSpan,
		Required:    claim.Required,
	}
	verdict, err := v.Verify(ctx, rewritten, passages)
	if err != nil || !verdict.Supported {
		return domain.Claim{}, domain.Verdict{}, false, err
	}
	return rewritten, verdict, true, nil
}

// clauseBreak matches commas or semicolons followed by a space, with an
// optional conjunction, and bare "and"/"but" between words. "2,000" stays
// whole.
var clauseBreak = regexp.MustCompile(`(?i)\s*[;,]\s+(?:(?:and|but|or)\s+)?|\s+(?:and|but)\s+`)

// groundingClauses splits text into sentences and then clauses. A
// fragment with fewer than two content terms is joined to the next one
// (or the previous one at the end of a sentence) so that "Luggage and
// dental cleaning are covered" stays one clause.
func groundingClauses(text string) []string {
	var out []string
	for _, s := range domain.SplitSentences(text) {
		s = strings.TrimRight(s, ".!?;, ")

		var frags [][2]int
		last := 0
		for _, b := range clauseBreak.FindAllStringIndex(s, -1) {
			frags = append(frags, [2]int{last, b[0]})
			last = b[1]
		}
		frags = append(frags, [2]int{last, len(s)})

		var spans [][2]int
		pending := -1
		for _, f := range frags {
			start := f[0]
			if pending >= 0 {
				start, pending = pending, -1
			}
			if len(domain.ContentTerms(s[start:f[1]])) < 2 {
				pending = start
				continue
			}
			spans = append(spans, [2]int{start, f[1]})
		}
		if pending >= 0 {
			if len(spans) > 0 {
				spans[len(spans)-1][1] = len(s)
			} else {
				spans = append(spans, [2]int{pending, len(s)})
			}
		}

		for _, sp := range spans {
			if c := strings.TrimSpace(s[sp[0]:sp[1]]); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}
