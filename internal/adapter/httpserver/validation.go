package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeAndValidate parses a JSON body into dst and runs struct validation.
// Returns false after writing the error response.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("op=http.decode: %w: %v", domain.ErrInvalidArgument, err), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		fields := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		writeValidationError(w, fields)
		return false
	}
	return true
}
