// Package dedupe groups contact records that describe the same person and
// merges every group into one record.
//
// Records sharing an email are always grouped, transitively. Groups are then
// joined by name according to a Policy. Name matching works on whole email
// groups and never splits one. A group matches under the name of any of its
// members, then once more under its merged name, so the grouping does not
// depend on input order and running Deduplicate on its own output changes
// nothing.
package dedupe

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/normalize"
)

// Policy decides when groups with the same normalized name are joined.
type Policy string

const (
	// PolicyMerge joins every group sharing a name.
	PolicyMerge Policy = "merge"
	// PolicyCompatible joins groups sharing a name unless that would put two
	// different email identities together. Groups without email then only
	// join each other.
	PolicyCompatible Policy = "compatible"
	// PolicyNever matches on email only.
	PolicyNever Policy = "never"
)

// ErrUnionViolation means the merged output lost or invented a value.
var ErrUnionViolation = errors.New("merged records do not preserve the input values")

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyMerge, PolicyCompatible, PolicyNever:
		return p, nil
	case "":
		return PolicyMerge, nil
	default:
		return "", fmt.Errorf("unknown name match policy %q", s)
	}
}

// Result is the merged record set.
type Result struct {
	Records []model.Contact
	// Groups is the number of output records.
	Groups int
	// Merged counts groups built from more than one input record.
	Merged int
}

// Deduplicate groups and merges records. The input is not modified; output
// records appear in the order of their first member.
func Deduplicate(records []model.Contact, policy Policy) (Result, error) {
	if policy == "" {
		policy = PolicyMerge
	}

	ds := newDisjointSet(len(records))
	owner := make(map[string]int)
	for i, c := range records {
		for _, email := range c.Emails {
			key := strings.ToLower(email)
			if first, ok := owner[key]; ok {
				ds.union(first, i)
				continue
			}
			owner[key] = i
		}
	}

	if policy != PolicyNever {
		for matchNames(records, ds, policy, memberNameKeys) {
		}
		// Settle on the merged names too, so a run over the output finds
		// nothing left to join.
		for matchNames(records, ds, policy, canonicalNameKey) {
		}
	}

	var res Result
	for _, members := range ds.groups() {
		res.Records = append(res.Records, merge(records, members))
		if len(members) > 1 {
			res.Merged++
		}
	}
	res.Groups = len(res.Records)

	if err := verify(records, res.Records); err != nil {
		return Result{}, err
	}
	return res, nil
}

type component struct {
	members   []int
	hasEmails bool
}

// nameKeys lists the name keys a group is matched under.
type nameKeys func(records []model.Contact, members []int) []string

// memberNameKeys keys a group by the name of every member, so the outcome
// does not depend on which name the group ends up displaying.
func memberNameKeys(records []model.Contact, members []int) []string {
	var keys []string
	for _, i := range members {
		if key := normalize.NameKey(records[i].Name); key != "" {
			keys = model.AppendUnique(keys, key)
		}
	}
	return keys
}

// canonicalNameKey keys a group by the name its merged record will carry,
// which is all a later run over the output can see.
func canonicalNameKey(records []model.Contact, members []int) []string {
	if key := normalize.NameKey(canonicalName(records, members)); key != "" {
		return []string{key}
	}
	return nil
}

// matchNames joins groups sharing a name key under policy and reports
// whether any groups were joined.
func matchNames(records []model.Contact, ds *disjointSet, policy Policy, keysOf nameKeys) bool {
	buckets := make(map[string][]component)
	var order []string

	for _, members := range ds.groups() {
		keys := keysOf(records, members)
		if len(keys) == 0 {
			continue
		}
		comp := component{members: members}
		for _, i := range members {
			if len(records[i].Emails) > 0 {
				comp.hasEmails = true
				break
			}
		}
		for _, key := range keys {
			if _, ok := buckets[key]; !ok {
				order = append(order, key)
			}
			buckets[key] = append(buckets[key], comp)
		}
	}

	joined := false
	for _, key := range order {
		comps := buckets[key]
		if len(comps) < 2 {
			continue
		}

		joinable := comps
		if policy == PolicyCompatible {
			emailed := 0
			var emailless []component
			for _, c := range comps {
				if c.hasEmails {
					emailed++
				} else {
					emailless = append(emailless, c)
				}
			}
			if emailed > 1 {
				joinable = emailless
			}
		}

		for _, c := range joinable[min(1, len(joinable)):] {
			if ds.union(joinable[0].members[0], c.members[0]) {
				joined = true
			}
		}
	}
	return joined
}

// canonicalName is the longest non-empty name of the members, the first one
// on ties.
func canonicalName(records []model.Contact, members []int) string {
	best, bestLen := "", 0
	for _, i := range members {
		name := strings.TrimSpace(records[i].Name)
		if n := utf8.RuneCountInString(name); n > bestLen {
			best, bestLen = name, n
		}
	}
	return best
}

func merge(records []model.Contact, members []int) model.Contact {
	out := model.Contact{Name: canonicalName(records, members)}
	for _, i := range members {
		c := records[i]
		out.Emails = model.AppendUnique(out.Emails, c.Emails...)
		out.Phones = model.AppendUnique(out.Phones, c.Phones...)
		out.Roles = model.AppendUnique(out.Roles, c.Roles...)
		out.Provenance = model.AppendUnique(out.Provenance, c.Provenance...)
	}
	return out
}

// verify checks that every field of the output is exactly the union of the
// input and that no email ends up in two records.
func verify(in, out []model.Contact) error {
	fields := []struct {
		name string
		get  func(model.Contact) []string
	}{
		{"emails", func(c model.Contact) []string { return c.Emails }},
		{"phones", func(c model.Contact) []string { return c.Phones }},
		{"roles", func(c model.Contact) []string { return c.Roles }},
		{"provenance", func(c model.Contact) []string { return c.Provenance }},
	}

	for _, f := range fields {
		want := valueSet(in, f.get)
		got := valueSet(out, f.get)
		if len(want) != len(got) {
			return fmt.Errorf("%s: %d values in, %d out: %w", f.name, len(want), len(got), ErrUnionViolation)
		}
		for v := range want {
			if _, ok := got[v]; !ok {
				return fmt.Errorf("%s: %q missing: %w", f.name, v, ErrUnionViolation)
			}
		}
	}

	seen := make(map[string]int)
	for i, c := range out {
		for _, email := range c.Emails {
			key := strings.ToLower(email)
			if j, ok := seen[key]; ok && j != i {
				return fmt.Errorf("email %q in records %d and %d: %w", email, j, i, ErrUnionViolation)
			}
			seen[key] = i
		}
	}
	return nil
}

func valueSet(records []model.Contact, get func(model.Contact) []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, c := range records {
		for _, v := range get(c) {
			if v != "" {
				set[v] = struct{}{}
			}
		}
	}
	return set
}
