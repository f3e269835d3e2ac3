// Package testutil holds helpers shared by tests across packages.
package testutil

// Ptr returns a pointer to v. Handy for struct literals with pointer fields:
//
//	want := testutil.Ptr(parentKey)
func Ptr[T any](v T) *T { return &v }
