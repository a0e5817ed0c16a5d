package revset_test

import (
	"context"
	"fmt"
	"testing"

	"autobisect/internal/revset"
	"autobisect/internal/revset/revsettest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		expr revset.Expr
		want string
	}{
		{
			name: "range",
			expr: revset.Range("aaa", "bbb"),
			want: "(descendants(id(aaa))-descendants(id(bbb)))",
		},
		{
			name: "common descendants",
			expr: revset.CommonDescendants("aaa", "bbb"),
			want: "(descendants(id(aaa)) and descendants(id(bbb)))",
		},
		{
			name: "single conjunction term is unwrapped",
			expr: revset.CommonDescendants("aaa"),
			want: "descendants(id(aaa))",
		},
		{
			name: "first of difference",
			expr: revset.First(revset.Difference(
				revset.CommonDescendants("aaa", "bbb"),
				revset.Union(revset.Range("c1", "c2"), revset.Range("d1", "d2")),
			)),
			want: "first(((descendants(id(aaa)) and descendants(id(bbb)))-" +
				"((descendants(id(c1))-descendants(id(c2))) + (descendants(id(d1))-descendants(id(d2))))))",
		},
		{
			name: "empty union",
			expr: revset.Union(),
			want: "none()",
		},
		{
			name: "empty conjunction",
			expr: revset.Conjunction(),
			want: "all()",
		},
		{
			name: "symbol and ancestors",
			expr: revset.Ancestors(revset.Symbol("default")),
			want: "ancestors(default)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, revset.Format(tt.expr))
		})
	}
}

func linearRevs(n int) []revset.Revision {
	revs := make([]revset.Revision, n)
	for i := range revs {
		revs[i] = revset.Revision(fmt.Sprintf("r%02d", i))
	}
	return revs
}

func TestRangeIncludesFirstBadExcludesFirstGood(t *testing.T) {
	revs := linearRevs(12)
	g := revsettest.Linear(revs...)
	ctx := context.Background()

	for i, bad := range revs {
		for j, good := range revs {
			got, err := g.Evaluate(ctx, revset.Range(bad, good))
			require.NoError(t, err)

			if i == j {
				assert.Empty(t, got, "bad == good must be empty")
				continue
			}
			assert.NotContains(t, got, good)
			if i < j {
				assert.Contains(t, got, bad)
				assert.Len(t, got, j-i)
			} else {
				// good is an ancestor of bad: everything after bad is also after good
				assert.Empty(t, got)
			}
		}
	}
}

func TestRangeKeepsBranchesWithoutFix(t *testing.T) {
	// a - b - c - fix
	//      \
	//       side
	g := revsettest.NewGraph()
	g.Add("a")
	g.Add("b", "a")
	g.Add("c", "b")
	g.Add("fix", "c")
	g.Add("side", "b")

	got, err := g.Evaluate(context.Background(), revset.Range("b", "fix"))
	require.NoError(t, err)
	assert.Equal(t, []revset.Revision{"b", "c", "side"}, got)
}

func TestCommonDescendantsIsIntersection(t *testing.T) {
	g := revsettest.Linear(linearRevs(10)...)

	got, err := g.Evaluate(context.Background(), revset.First(revset.CommonDescendants("r02", "r07", "r04")))
	require.NoError(t, err)
	assert.Equal(t, []revset.Revision{"r07"}, got)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "f273ec2ec0ae", revset.Revision("f273ec2ec0aecce1938a78f01925764d02af2ad2").Short())
	assert.Equal(t, "abc", revset.Revision("abc").Short())
}

func TestParse(t *testing.T) {
	assert.Equal(t, revset.Rev("f273ec2ec0ae"), revset.Parse("f273ec2ec0ae"))
	assert.Equal(t, revset.Rev("f273ec2ec0aecce1938a78f01925764d02af2ad2"), revset.Parse("F273EC2EC0AECCE1938A78F01925764D02AF2AD2"))
	assert.Equal(t, revset.Symbol("default"), revset.Parse("default"))
	assert.Equal(t, revset.Symbol("tip"), revset.Parse("tip"))
	assert.Equal(t, revset.Symbol("abc"), revset.Parse("abc"), "too short to be a node prefix")
	assert.Equal(t, revset.Symbol("FIREFOX_AURORA_60_BASE"), revset.Parse("FIREFOX_AURORA_60_BASE"))
}

func TestParseLocalRevisionNumber(t *testing.T) {
	assert.Equal(t, revset.Symbol("500139"), revset.Parse("500139"))
	assert.Equal(t, "330353", revset.Format(revset.Parse("330353")))
	assert.Equal(t, revset.Symbol("0"), revset.Parse("0"))
	assert.Equal(t, revset.Rev("33035a"), revset.Parse("33035a"), "a hex letter makes it a node prefix")
}
