/*
Package regerr defines the error-kind taxonomy shared across cargohold.

Every package that can fail in a way an HTTP handler needs to translate
into a status code returns errors wrapped with this package's
constructors rather than raw fmt.Errorf. pkg/httpapi reads the kind
with Of to choose a response; every other caller can keep using
errors.Is/errors.As and context cancellation as usual since *Error
implements Unwrap.

This is intentionally standard-library only: it is pure in-process
control flow with no external system to integrate, so there is nothing
here a third-party library would do better than a small sentinel type.
*/
package regerr
