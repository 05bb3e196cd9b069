// Package errors defines the error taxonomy shared by every compass package.
//
// Four kinds of failure are distinguished:
//
// KindInvalidInput: caller supplied data that cannot be used (non-finite
// rewards, empty candidate sets, malformed contexts).
//
// KindConfiguration: parameters are out of range or inconsistent with the
// data being processed (dimension mismatch, unknown feature names).
//
// KindConflict: an entity already exists (duplicate experiment registration).
//
// KindNotFound: a named entity does not exist (unknown domain or variant).
//
// # Basic Usage
//
//	if len(candidates) == 0 {
//	    return "", errors.InvalidInput("estimator.Recommend", "candidate set is empty")
//	}
//
// Callers match on kind with the standard library:
//
//	if stderrors.Is(err, errors.ErrConfiguration) {
//	    // reject the domain config
//	}
//
// The package is named errors to mirror its purpose; importers usually alias
// it (compassErrors) to keep the standard library package available.
package errors
