package repository

import (
	"errors"
	"net/http"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrRevisionConflict means a document changed between read and write.
	ErrRevisionConflict = errors.New("document revision conflict")
)

func translateKivikError(err error) error {
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrRevisionConflict
	default:
		return err
	}
}
