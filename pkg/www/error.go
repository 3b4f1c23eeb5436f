package www

import (
	"fmt"
	"net/http"
)

// HTTPError is an object that can be panic'ed. The outer handler wrapper
// turns it into the appropriate HTTP error response.
type HTTPError struct {
	Code    int
	Message string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("%v %v", e.Code, e.Message)
}

func Error(code int, message string) HTTPError {
	return HTTPError{code, message}
}

// Panic creates an HTTPError object and panics it
func Panic(code int, message string) {
	panic(HTTPError{code, message})
}

// PanicBadRequestf panics with a 400 Bad Request
func PanicBadRequestf(format string, args ...interface{}) {
	panic(HTTPError{http.StatusBadRequest, fmt.Sprintf(format, args...)})
}

// PanicNotFound panics with a 404 Not Found
func PanicNotFound() {
	panic(HTTPError{http.StatusNotFound, "Not Found"})
}

// PanicServerErrorf panics with a 500 Internal Server Error
func PanicServerErrorf(format string, args ...interface{}) {
	panic(HTTPError{http.StatusInternalServerError, fmt.Sprintf(format, args...)})
}

// Check causes a panic if err is not nil
func Check(err error) {
	if err != nil {
		panic(err)
	}
}

// CheckClient causes a 400 Bad Request panic if err is not nil
func CheckClient(err error) {
	if err != nil {
		PanicBadRequestf("%v", err)
	}
}
