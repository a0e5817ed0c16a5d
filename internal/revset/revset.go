// Package revset builds symbolic revision-set expressions for the history tool.
//
// Expressions are small trees that are never materialized here: Format turns a
// tree into Mercurial's revset grammar, and the history tool evaluates it.
package revset

import (
	"strings"
)

// Revision identifies one changeset (a node hash, or a local sequence number).
type Revision string

// Short returns the 12 character prefix hg uses for abbreviated nodes.
func (r Revision) Short() string {
	if len(r) > 12 {
		return string(r[:12])
	}
	return string(r)
}

// Expr is a node of a revision-set expression tree.
type Expr interface {
	isExpr()
}

// RevExpr is a single changeset addressed by id, rendered as id(<rev>).
type RevExpr struct{ ID Revision }

// SymbolExpr is a bare symbolic name such as a branch, a tag or "tip".
type SymbolExpr struct{ Name string }

// DescendantsExpr is Of and everything reachable forward from it.
type DescendantsExpr struct{ Of Expr }

// AncestorsExpr is Of and everything reachable backward from it.
type AncestorsExpr struct{ Of Expr }

// DifferenceExpr holds the members of A that are not in B.
type DifferenceExpr struct{ A, B Expr }

// ConjunctionExpr holds the members common to every term.
type ConjunctionExpr struct{ Terms []Expr }

// UnionExpr holds the members of any term.
type UnionExpr struct{ Terms []Expr }

// FirstExpr is the earliest member of Of.
type FirstExpr struct{ Of Expr }

func (RevExpr) isExpr()         {}
func (SymbolExpr) isExpr()      {}
func (DescendantsExpr) isExpr() {}
func (AncestorsExpr) isExpr()   {}
func (DifferenceExpr) isExpr()  {}
func (ConjunctionExpr) isExpr() {}
func (UnionExpr) isExpr()       {}
func (FirstExpr) isExpr()       {}

func Rev(id Revision) Expr           { return RevExpr{id} }
func Symbol(name string) Expr        { return SymbolExpr{name} }
func Descendants(of Expr) Expr       { return DescendantsExpr{of} }
func Ancestors(of Expr) Expr         { return AncestorsExpr{of} }
func Difference(a, b Expr) Expr      { return DifferenceExpr{a, b} }
func Conjunction(terms ...Expr) Expr { return ConjunctionExpr{terms} }
func Union(terms ...Expr) Expr       { return UnionExpr{terms} }
func First(of Expr) Expr             { return FirstExpr{of} }

// Range is like "firstBad::firstGood", but also covers branches that never got
// the firstGood fix. descendants() includes its argument, so the result
// contains firstBad and excludes firstGood. When both are equal, or firstGood
// does not descend from firstBad, the expression still formats; it simply
// evaluates to an empty or partial set.
func Range(firstBad, firstGood Revision) Expr {
	return Difference(Descendants(Rev(firstBad)), Descendants(Rev(firstGood)))
}

// CommonDescendants is the set of revisions that descend from every rev.
func CommonDescendants(revs ...Revision) Expr {
	terms := make([]Expr, 0, len(revs))
	for _, r := range revs {
		terms = append(terms, Descendants(Rev(r)))
	}
	return Conjunction(terms...)
}

// Format serializes an expression tree to hg revset syntax.
func Format(e Expr) string {
	var sb strings.Builder
	write(&sb, e)
	return sb.String()
}

func write(sb *strings.Builder, e Expr) {
	switch x := e.(type) {
	case RevExpr:
		sb.WriteString("id(")
		sb.WriteString(string(x.ID))
		sb.WriteString(")")
	case SymbolExpr:
		sb.WriteString(x.Name)
	case DescendantsExpr:
		sb.WriteString("descendants(")
		write(sb, x.Of)
		sb.WriteString(")")
	case AncestorsExpr:
		sb.WriteString("ancestors(")
		write(sb, x.Of)
		sb.WriteString(")")
	case DifferenceExpr:
		sb.WriteString("(")
		write(sb, x.A)
		sb.WriteString("-")
		write(sb, x.B)
		sb.WriteString(")")
	case ConjunctionExpr:
		writeJoined(sb, x.Terms, " and ", "all()")
	case UnionExpr:
		writeJoined(sb, x.Terms, " + ", "none()")
	case FirstExpr:
		sb.WriteString("first(")
		write(sb, x.Of)
		sb.WriteString(")")
	case nil:
		sb.WriteString("none()")
	default:
		panic("revset: unknown expression type")
	}
}

func writeJoined(sb *strings.Builder, terms []Expr, sep, empty string) {
	switch len(terms) {
	case 0:
		sb.WriteString(empty)
	case 1:
		write(sb, terms[0])
	default:
		sb.WriteString("(")
		for i, t := range terms {
			if i > 0 {
				sb.WriteString(sep)
			}
			write(sb, t)
		}
		sb.WriteString(")")
	}
}

// Parse turns a user-supplied revision into an expression: hex node
// prefixes become id(), anything else (tip, a branch, a tag) a symbol.
// All-decimal input is a local revision number and stays a bare symbol,
// which the history tool resolves as such.
func Parse(s string) Expr {
	if s != "" && strings.Trim(s, "0123456789") == "" {
		return Symbol(s)
	}
	if len(s) >= 6 && len(s) <= 40 && strings.Trim(strings.ToLower(s), "0123456789abcdef") == "" {
		return Rev(Revision(strings.ToLower(s)))
	}
	return Symbol(s)
}
