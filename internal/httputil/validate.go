package httputil

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

func validatorInstance() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		enLoc := en.New()
		trans, _ := ut.New(enLoc, enLoc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		// Report json names in messages.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		validate, translator = v, trans
	})
	return validate, translator
}

// Validate runs struct-tag validation on v. On failure it returns the first
// offending field, the failed tag and a readable message.
func Validate(v any) (field, tag, message string, ok bool) {
	val, trans := validatorInstance()
	err := val.Struct(v)
	if err == nil {
		return "", "", "", true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Field(), fe.Tag(), fe.Translate(trans), false
	}
	return "", "invalid", err.Error(), false
}

// DecodeAndValidate decodes a JSON body into v and validates it. Writes a 400
// error and returns false on failure.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if !DecodeJSON(w, r, v) {
		return false
	}
	field, tag, msg, ok := Validate(v)
	if ok {
		return true
	}
	if field == "" {
		WriteError(w, http.StatusBadRequest, msg)
		return false
	}
	WriteFieldError(w, http.StatusBadRequest, "validation failed", field, tag, msg)
	return false
}
