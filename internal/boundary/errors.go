package boundary

import "errors"

var (
	ErrUnknownPredicate = errors.New("unknown boundary predicate")
	ErrPredicateExists  = errors.New("boundary predicate already registered")
)
