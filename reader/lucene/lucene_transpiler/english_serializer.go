package lucene_transpiler

import (
	"context"
	"fmt"
)

// EnglishSerializer explains a search query in plain words.
type EnglishSerializer struct{}

func (e EnglishSerializer) translateField(f Field) string {
	switch {
	case f.Implicit:
		return "event"
	case f.Group:
		return f.Name
	}
	return "'" + f.Name + "'"
}

func (e EnglishSerializer) Operator(op string) (string, error) {
	return translateOperator(op)
}

func (e EnglishSerializer) Eq(ctx context.Context, f Field, term string, negated bool) (string, error) {
	verb := "is"
	if negated {
		verb = "is not"
	}
	return fmt.Sprintf("%s %s %s", e.translateField(f), verb, term), nil
}

func (e EnglishSerializer) IsNotNull(ctx context.Context, f Field, negated bool) (string, error) {
	if negated {
		return e.translateField(f) + " is null", nil
	}
	return e.translateField(f) + " is not null", nil
}

func (e EnglishSerializer) Gte(ctx context.Context, f Field, term string) (string, error) {
	return e.translateField(f) + " is greater than or equal to " + term, nil
}

func (e EnglishSerializer) Lte(ctx context.Context, f Field, term string) (string, error) {
	return e.translateField(f) + " is less than or equal to " + term, nil
}

func (e EnglishSerializer) Gt(ctx context.Context, f Field, term string) (string, error) {
	return e.translateField(f) + " is greater than " + term, nil
}

func (e EnglishSerializer) Lt(ctx context.Context, f Field, term string) (string, error) {
	return e.translateField(f) + " is less than " + term, nil
}

func (e EnglishSerializer) FieldSearch(ctx context.Context, f Field, term string, negated bool,
	opts SearchOpts) (string, error) {
	if opts.Quoted {
		term = `"` + term + `"`
	}
	if !f.Implicit && !f.Group {
		return fmt.Sprintf("%s %s %s", e.translateField(f), pick(negated, "does not contain", "contains"), term), nil
	}
	var verb string
	switch {
	case opts.PrefixWildcard && opts.SuffixWildcard:
		verb = pick(negated, "does not contain", "contains")
	case opts.PrefixWildcard:
		verb = pick(negated, "does not end with", "ends with")
	case opts.SuffixWildcard:
		verb = pick(negated, "does not start with", "starts with")
	case f.Implicit:
		verb = pick(negated, "does not have whole word", "has whole word")
	default:
		verb = pick(negated, "does not contain", "contains")
	}
	return fmt.Sprintf("%s %s %s", e.translateField(f), verb, term), nil
}

func (e EnglishSerializer) Range(ctx context.Context, f Field, start string, end string,
	negated bool) (string, error) {
	name := f.Name
	if f.Implicit {
		name = "event"
	}
	return fmt.Sprintf("%s %s between %s and %s", name, pick(negated, "is not", "is"), start, end), nil
}

func pick(negated bool, yes string, no string) string {
	if negated {
		return yes
	}
	return no
}
