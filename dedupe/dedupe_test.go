package dedupe

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-contacts/model"
)

func contact(name string, emails, phones []string, prov ...string) model.Contact {
	return model.Contact{Name: name, Emails: emails, Phones: phones, Provenance: prov}
}

// groupKeys renders each output record as its sorted emails and phones, so
// results can be compared independently of order.
func groupKeys(records []model.Contact) []string {
	var out []string
	for _, c := range records {
		vals := append(append([]string(nil), c.Emails...), c.Phones...)
		sort.Strings(vals)
		out = append(out, strings.Join(vals, ","))
	}
	sort.Strings(out)
	return out
}

func TestTransitiveGrouping(t *testing.T) {
	in := []model.Contact{
		contact("A", []string{"a@example.com", "b@example.com"}, nil, "m1"),
		contact("", []string{"b@example.com", "c@example.com"}, nil, "m2"),
		contact("Alpha Person", []string{"c@example.com"}, []string{"5551234567"}, "m3"),
		contact("Zed", []string{"z@example.com"}, nil, "m4"),
	}

	res, err := Deduplicate(in, PolicyNever)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 1, res.Merged)

	merged := res.Records[0]
	assert.Equal(t, "Alpha Person", merged.Name)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, merged.Emails)
	assert.Equal(t, []string{"5551234567"}, merged.Phones)
	assert.Equal(t, []string{"m1", "m2", "m3"}, merged.Provenance)
}

func reversed(in []model.Contact) []model.Contact {
	out := make([]model.Contact, len(in))
	for i, c := range in {
		out[len(in)-1-i] = c
	}
	return out
}

func TestOrderIndependence(t *testing.T) {
	tests := []struct {
		name   string
		in     []model.Contact
		groups int
	}{
		{
			name: "mixed",
			in: []model.Contact{
				contact("Jane Doe", []string{"jane@example.com"}, nil),
				contact("J. Doe", []string{"jane@example.com", "jd@example.org"}, nil),
				contact("Bob", []string{"bob@example.com"}, nil),
				contact("", []string{"jd@example.org"}, []string{"5551112222"}),
				contact("Carol", nil, []string{"5553334444"}),
			},
			groups: 3,
		},
		{
			// Both names of the shared-email group are as long; the third
			// record matches whichever one is displayed.
			name: "equal length names in one group",
			in: []model.Contact{
				contact("Jane Roe", []string{"x@a.example.com"}, nil),
				contact("John Doe", []string{"x@a.example.com"}, nil),
				contact("John Doe", []string{"z@c.example.com"}, nil),
			},
			groups: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := Deduplicate(tt.in, PolicyMerge)
			require.NoError(t, err)
			assert.Equal(t, tt.groups, want.Groups)

			perms := [][]model.Contact{reversed(tt.in)}
			if len(tt.in) == 3 {
				a, b, c := tt.in[0], tt.in[1], tt.in[2]
				perms = append(perms,
					[]model.Contact{b, a, c},
					[]model.Contact{c, a, b},
					[]model.Contact{a, c, b},
				)
			}
			for _, in := range perms {
				got, err := Deduplicate(in, PolicyMerge)
				require.NoError(t, err)
				assert.Equal(t, groupKeys(want.Records), groupKeys(got.Records))
				assert.Equal(t, want.Merged, got.Merged)
			}
		})
	}
}

func TestCompatibleSettlesOnMergedNames(t *testing.T) {
	// Jane's first address is grouped under Bob's longer name, so the
	// phone-only record has a single email identity left to join.
	in := []model.Contact{
		contact("Jane Doe", []string{"jane@example.com"}, nil),
		contact("Bob Stone", []string{"bob@example.com", "jane@example.com"}, nil),
		contact("Jane Doe", []string{"jd@example.org"}, nil),
		contact("jane doe", nil, []string{"5559999999"}),
	}
	res, err := Deduplicate(in, PolicyCompatible)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"5559999999,jd@example.org",
		"bob@example.com,jane@example.com",
	}, groupKeys(res.Records))

	again, err := Deduplicate(res.Records, PolicyCompatible)
	require.NoError(t, err)
	assert.Equal(t, res.Records, again.Records)
}

func TestNameMatchingPolicies(t *testing.T) {
	in := []model.Contact{
		contact("Jane Doe", []string{"jane@firm.example.com"}, nil, "m1"),
		contact("Jane Doe", []string{"jdoe@home.example.org"}, nil, "m2"),
		contact("Dr. Jane Doe", nil, []string{"5551234567"}, "m3"),
		contact("Jane Doe", nil, []string{"5559876543"}, "m4"),
	}

	t.Run("merge", func(t *testing.T) {
		res, err := Deduplicate(in, PolicyMerge)
		require.NoError(t, err)
		require.Len(t, res.Records, 1)
		assert.Equal(t, "Dr. Jane Doe", res.Records[0].Name)
		assert.Equal(t, []string{"jane@firm.example.com", "jdoe@home.example.org"}, res.Records[0].Emails)
		assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, res.Records[0].Provenance)
	})

	t.Run("compatible", func(t *testing.T) {
		res, err := Deduplicate(in, PolicyCompatible)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"5551234567,5559876543",
			"jane@firm.example.com",
			"jdoe@home.example.org",
		}, groupKeys(res.Records))
	})

	t.Run("never", func(t *testing.T) {
		res, err := Deduplicate(in, PolicyNever)
		require.NoError(t, err)
		assert.Len(t, res.Records, 4)
		assert.Equal(t, 0, res.Merged)
	})
}

func TestCompatibleJoinsSingleEmailIdentity(t *testing.T) {
	in := []model.Contact{
		contact("Jane Doe", []string{"jane@example.com"}, nil),
		contact("jane doe", nil, []string{"5551234567"}),
	}
	res, err := Deduplicate(in, PolicyCompatible)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Jane Doe", res.Records[0].Name)
	assert.Equal(t, []string{"5551234567"}, res.Records[0].Phones)
}

func TestNameMatchingUsesGroupName(t *testing.T) {
	// The unnamed record joins Jane's email group; the group as a whole is
	// then name-matched with the phone-only record.
	in := []model.Contact{
		contact("", []string{"jane@example.com"}, nil),
		contact("Jane Doe", []string{"jane@example.com"}, nil),
		contact("Jane Doe", nil, []string{"5551234567"}),
		contact("", nil, []string{"5550000000"}),
	}
	res, err := Deduplicate(in, PolicyMerge)
	require.NoError(t, err)
	assert.Equal(t, []string{"5550000000", "5551234567,jane@example.com"}, groupKeys(res.Records))
}

func TestLongestNameTieKeepsFirst(t *testing.T) {
	in := []model.Contact{
		contact("Ann Lee", []string{"ann@example.com"}, nil),
		contact("ANN LEE", []string{"ann@example.com"}, nil),
		contact("Ann", []string{"ann@example.com"}, nil),
	}
	res, err := Deduplicate(in, PolicyNever)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Ann Lee", res.Records[0].Name)
}

func TestIdempotence(t *testing.T) {
	in := []model.Contact{
		contact("Jane Doe", []string{"jane@example.com"}, nil, "m1"),
		contact("Jane Doe", []string{"jd@example.org"}, []string{"5551234567"}, "m2"),
		contact("jane  doe", nil, []string{"5559999999"}, "m3"),
		contact("Bob Stone", []string{"bob@example.com", "jane@example.com"}, nil, "m4"),
		contact("Carl", []string{"carl@example.com"}, nil, "m5"),
		contact("", nil, []string{"5550001111"}, "m6"),
	}

	for _, policy := range []Policy{PolicyMerge, PolicyCompatible, PolicyNever} {
		t.Run(string(policy), func(t *testing.T) {
			first, err := Deduplicate(in, policy)
			require.NoError(t, err)
			second, err := Deduplicate(first.Records, policy)
			require.NoError(t, err)
			assert.Equal(t, first.Records, second.Records)
			assert.Equal(t, 0, second.Merged)
		})
	}
}

func TestUnionPreservation(t *testing.T) {
	in := []model.Contact{
		contact("A", []string{"a@example.com"}, []string{"5551234567"}, "m1"),
		contact("B", []string{"a@example.com", "b@example.com"}, nil, "m2"),
		contact("C", nil, []string{"5551234567"}, "m3"),
	}
	in[0].Roles = []string{"Partner"}
	in[2].Roles = []string{"Attorney"}

	res, err := Deduplicate(in, PolicyMerge)
	require.NoError(t, err)
	require.NoError(t, verify(in, res.Records))

	broken := []model.Contact{res.Records[0].Clone()}
	broken[0].Emails = broken[0].Emails[:1]
	assert.True(t, errors.Is(verify(in, append(broken, res.Records[1:]...)), ErrUnionViolation))

	dup := append([]model.Contact(nil), res.Records...)
	dup = append(dup, model.Contact{Name: "X", Emails: []string{"a@example.com"}})
	assert.True(t, errors.Is(verify(in, dup), ErrUnionViolation))
}

func TestDoesNotModifyInput(t *testing.T) {
	in := []model.Contact{
		contact("A", []string{"a@example.com"}, nil, "m1"),
		contact("A", []string{"a@example.com", "b@example.com"}, nil, "m2"),
	}
	_, err := Deduplicate(in, PolicyMerge)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, in[0].Emails)
	assert.Equal(t, []string{"m1"}, in[0].Provenance)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy(" Compatible ")
	require.NoError(t, err)
	assert.Equal(t, PolicyCompatible, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestDisjointSet(t *testing.T) {
	ds := newDisjointSet(6)
	assert.True(t, ds.union(0, 1))
	assert.True(t, ds.union(2, 3))
	assert.True(t, ds.union(1, 3))
	assert.False(t, ds.union(0, 2))
	assert.Equal(t, ds.find(0), ds.find(3))
	assert.Equal(t, [][]int{{0, 1, 2, 3}, {4}, {5}}, ds.groups())
}
