package http

import (
	"errors"
	"net/http"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/gateway"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/go-chi/render"
)

// Error body returned by the gateway
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func (e *ErrResponse) Error() string {
	return e.StatusText + " : " + e.ErrorText
}

func newErrResponse(err error, code int) *ErrResponse {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: code,
		StatusText:     http.StatusText(code),
		ErrorText:      err.Error(),
	}
}

func ErrInvalidRequest(err error) render.Renderer {
	return newErrResponse(err, http.StatusBadRequest)
}

func ErrNotFound(err error) render.Renderer {
	return newErrResponse(err, http.StatusNotFound)
}

// The bus refused the frame
func ErrBus(err error) render.Renderer {
	return newErrResponse(err, http.StatusBadGateway)
}

var ErrMethodNotAllowed = &ErrResponse{
	HTTPStatusCode: http.StatusMethodNotAllowed,
	StatusText:     http.StatusText(http.StatusMethodNotAllowed),
}

// Map an error of the gateway or of the controller to a response
func errorFor(err error) render.Renderer {
	switch {
	case errors.Is(err, gateway.ErrUnknownBoard):
		return ErrNotFound(err)
	case errors.Is(err, gateway.ErrBoardId),
		errors.Is(err, gateway.ErrGroup),
		errors.Is(err, gateway.ErrGainChannel),
		errors.Is(err, gateway.ErrCommand),
		errors.Is(err, protocol.ErrConfig),
		errors.Is(err, protocol.ErrLength),
		errors.Is(err, protocol.ErrGainChannel),
		errors.Is(err, mdnode.ErrIllegalArgument):
		return ErrInvalidRequest(err)
	}
	return ErrBus(err)
}
