// Package schedule parses tickcron schedule expressions and matches them against time.
//
// An expression has 5 or 6 whitespace-separated fields, coarse to fine:
//
//	year month day hour minute [second]
//
// Each field is one of:
//   - "*"       any value
//   - "5"       exactly 5
//   - "1,15,30" any of the listed values
//   - "*/10"    values divisible by 10
//
// A missing seconds field defaults to 0. Month literals are stored zero-based
// (January = 0); month step divisors are applied to the one-based month.
package schedule
