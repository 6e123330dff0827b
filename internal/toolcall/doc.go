// Package toolcall holds the vocabulary shared by the dispatcher: the
// caller-supplied Request, the produced Result, request priorities and the
// Executor capability that performs a single call against a backend.
package toolcall
