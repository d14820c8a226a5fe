package memory

import "fmt"

// repositoryError categorises in-memory persistence failures for services.
type repositoryError struct {
	message     string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryError) Error() string { return e.message }

func (e *repositoryError) IsNotFound() bool { return e != nil && e.notFound }

func (e *repositoryError) IsConflict() bool { return e != nil && e.conflict }

func (e *repositoryError) IsUnavailable() bool { return e != nil && e.unavailable }

func notFoundError(format string, args ...any) *repositoryError {
	return &repositoryError{message: fmt.Sprintf(format, args...), notFound: true}
}

func conflictError(format string, args ...any) *repositoryError {
	return &repositoryError{message: fmt.Sprintf(format, args...), conflict: true}
}
