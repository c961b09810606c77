package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"keygate/internal/protocol"
)

var (
	ErrMalformedFrame = errors.New("frame is not a JSON object")
	ErrInvalidFields  = errors.New("frame fields are invalid")
)

var sha256HexRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// credentialFields are the members every frame must carry as strings.
// Extra members are ignored.
var credentialFields = []string{"key", "hwid", "version", "pc", "hash"}

// FrameValidator turns raw frames into Credentials in two steps so the
// caller can interleave the rate check between parsing and validation.
type FrameValidator struct {
	validate *validator.Validate
}

func NewFrameValidator() *FrameValidator {
	v := validator.New()
	v.RegisterValidation("sha256hex", isSHA256Hex)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &FrameValidator{validate: v}
}

func isSHA256Hex(fl validator.FieldLevel) bool {
	return sha256HexRegex.MatchString(fl.Field().String())
}

// Parse decodes raw as a single JSON object.
func (fv *FrameValidator) Parse(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if doc == nil {
		return nil, ErrMalformedFrame
	}
	return doc, nil
}

// Credentials checks that doc carries the five string fields and that the
// hash is 64 lowercase hex characters.
func (fv *FrameValidator) Credentials(doc map[string]any) (protocol.Credentials, error) {
	values := make(map[string]string, len(credentialFields))
	for _, name := range credentialFields {
		s, ok := doc[name].(string)
		if !ok {
			return protocol.Credentials{}, fmt.Errorf("%w: %s must be a string", ErrInvalidFields, name)
		}
		values[name] = s
	}

	creds := protocol.Credentials{
		Key:     values["key"],
		HWID:    values["hwid"],
		Version: values["version"],
		PC:      values["pc"],
		Hash:    values["hash"],
	}

	if err := fv.validate.Struct(creds); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return protocol.Credentials{}, fmt.Errorf("%w: %s failed %s", ErrInvalidFields, verrs[0].Field(), verrs[0].Tag())
		}
		return protocol.Credentials{}, fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}
	return creds, nil
}
