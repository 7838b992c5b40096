package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"docassist/services/api/internal/app"
)

const (
	defaultMaxUploadBytes = 10 << 20
	multipartMemory       = 32 << 20
	// multipartOverhead leaves room for boundaries and small text fields.
	multipartOverhead = 1 << 20
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.Split(f.Tag.Get(tag), ",")[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// validateRequest runs struct tags and returns field messages, or nil.
func validateRequest(req any) *app.ValidationError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	verr := app.NewValidationError()
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("request", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func displayName(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

func fieldMessage(fe validator.FieldError) string {
	name := displayName(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", name)
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", name)
	case "min":
		return fmt.Sprintf("The %s field must be at least %s characters.", name, fe.Param())
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", name, fe.Param())
	case "eqfield":
		return fmt.Sprintf("The %s field confirmation does not match.", name)
	default:
		return fmt.Sprintf("The %s field is invalid.", name)
	}
}

// uploadRule describes an accepted multipart file field. Types maps each
// allowed extension to the sniffed MIME types accepted for it.
type uploadRule struct {
	field string
	types map[string][]string
	order []string
}

var documentRule = uploadRule{
	field: "file",
	types: map[string][]string{
		".pdf":  {"application/pdf"},
		".doc":  {"application/msword", "application/x-ole-storage"},
		".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
		".txt":  {"text/plain"},
	},
	order: []string{"pdf", "doc", "docx", "txt"},
}

var voiceRule = uploadRule{
	field: "audio",
	types: map[string][]string{
		".mp3":  {"audio/mpeg"},
		".wav":  {"audio/wav"},
		".ogg":  {"audio/ogg", "application/ogg"},
		".webm": {"video/webm", "audio/webm"},
	},
	order: []string{"mp3", "wav", "ogg", "webm"},
}

type uploadedFile struct {
	file        multipart.File
	name        string
	contentType string
	size        int64
}

func (u *uploadedFile) Close() error {
	if u == nil || u.file == nil {
		return nil
	}
	return u.file.Close()
}

// parseUploadForm reads a multipart body capped at maxBytes plus overhead.
// An oversized body is reported as a field error on rule.field.
func parseUploadForm(w http.ResponseWriter, r *http.Request, rule uploadRule, maxBytes int64, verr *app.ValidationError) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	err := r.ParseMultipartForm(multipartMemory)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, http.ErrNotMultipart):
		return nil
	case errors.As(err, &tooLarge):
		verr.Add(rule.field, tooLargeMessage(rule.field, maxBytes))
		return nil
	default:
		return err
	}
}

// readUpload validates the file in rule.field by size, extension and sniffed
// content. It returns nil and records a message on any failure.
func readUpload(r *http.Request, rule uploadRule, maxBytes int64, verr *app.ValidationError) *uploadedFile {
	if verr.Has(rule.field) {
		return nil
	}
	if r.MultipartForm == nil {
		verr.Add(rule.field, requiredMessage(rule.field))
		return nil
	}
	file, header, err := r.FormFile(rule.field)
	if err != nil {
		verr.Add(rule.field, requiredMessage(rule.field))
		return nil
	}
	if header.Size > maxBytes {
		file.Close()
		verr.Add(rule.field, tooLargeMessage(rule.field, maxBytes))
		return nil
	}
	accepted, ok := rule.types[strings.ToLower(filepath.Ext(header.Filename))]
	if !ok {
		file.Close()
		verr.Add(rule.field, rule.typeMessage())
		return nil
	}
	detected, err := mimetype.DetectReader(file)
	if err == nil {
		_, err = file.Seek(0, io.SeekStart)
	}
	if err != nil || !matchesMIME(detected, accepted) {
		file.Close()
		verr.Add(rule.field, rule.typeMessage())
		return nil
	}
	return &uploadedFile{file: file, name: header.Filename, contentType: detected.String(), size: header.Size}
}

// matchesMIME walks the detected type and its parents, so a docx detected
// only as a zip container still matches.
func matchesMIME(detected *mimetype.MIME, accepted []string) bool {
	for m := detected; m != nil; m = m.Parent() {
		for _, want := range accepted {
			if m.Is(want) {
				return true
			}
		}
	}
	return false
}

func (u uploadRule) typeMessage() string {
	return fmt.Sprintf("The %s field must be a file of type: %s.", displayName(u.field), strings.Join(u.order, ", "))
}

func requiredMessage(field string) string {
	return fmt.Sprintf("The %s field is required.", displayName(field))
}

func tooLargeMessage(field string, maxBytes int64) string {
	return fmt.Sprintf("The %s field must not be greater than %d kilobytes.", displayName(field), maxBytes/1024)
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return defaultMaxUploadBytes
	}
	return value
}
