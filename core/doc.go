// Package core defines the package descriptor shared by every package
// representation, semantic version ordering, and the constraint language used
// to select package versions.
//
// A package string names a package and optionally constrains its version:
//
//	en_model
//	en_model ==1.0.0
//	en_model >=1.0.0,<2.0.0
//
// The name ends at the first character outside [a-z0-9_]. The remainder is a
// comma separated list of clauses, each one of ==, >=, <=, > or < followed by
// a dot separated numeric version.
package core
