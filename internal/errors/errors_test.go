package errors

import (
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "run not found",
			},
			want: "run not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "failed to process",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to process: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &AppError{
		Code:    ErrCodeInternal,
		Message: "wrapped error",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); !errors.Is(unwrapped, cause) {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternal, "wrapped error")

	if err.Code != ErrCodeInternal {
		t.Errorf("Wrap().Code = %v, want %v", err.Code, ErrCodeInternal)
	}
	if err.Message != "wrapped error" {
		t.Errorf("Wrap().Message = %v, want %v", err.Message, "wrapped error")
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Wrap().Cause = %v, want %v", err.Cause, cause)
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "wrapped error"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("duplicate key")
	err := Wrapf(cause, ErrCodeConflict, "create run for user %s", "user-1")

	if err.Code != ErrCodeConflict {
		t.Errorf("Wrapf().Code = %v, want %v", err.Code, ErrCodeConflict)
	}
	if err.Message != "create run for user user-1" {
		t.Errorf("Wrapf().Message = %v, want %v", err.Message, "create run for user user-1")
	}
	if err := Wrapf(nil, ErrCodeConflict, "no-op"); err != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", err)
	}
}

func TestCodePredicates(t *testing.T) {
	notFound := &AppError{Code: ErrCodeNotFound, Message: "run not found"}
	conflict := &AppError{Code: ErrCodeConflict, Message: "already active"}
	validation := &AppError{Code: ErrCodeValidation, Message: "invalid", Field: "user_id"}
	foreignKey := &AppError{Code: ErrCodeForeignKey, Message: "in use"}
	timeout := &AppError{Code: ErrCodeTimeout, Message: "timed out"}
	canceled := &AppError{Code: ErrCodeCanceled, Message: "canceled"}
	plain := errors.New("plain error")

	tests := []struct {
		name      string
		predicate func(error) bool
		match     error
	}{
		{"IsNotFound", IsNotFound, notFound},
		{"IsConflict", IsConflict, conflict},
		{"IsValidation", IsValidation, validation},
		{"IsForeignKey", IsForeignKey, foreignKey},
		{"IsTimeout", IsTimeout, timeout},
		{"IsCanceled", IsCanceled, canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.predicate(tt.match) {
				t.Errorf("%s did not match its own category", tt.name)
			}
			if tt.predicate(plain) {
				t.Errorf("%s matched a plain error", tt.name)
			}
			if tt.predicate(nil) {
				t.Errorf("%s matched nil", tt.name)
			}
		})
	}
}

func TestCodePredicates_WrappedCause(t *testing.T) {
	inner := &AppError{Code: ErrCodeConflict, Message: "duplicate"}
	wrapped := Wrap(inner, ErrCodeInternal, "outer")

	// errors.As finds the outermost AppError; the wrapping code wins.
	if got := GetCode(wrapped); got != ErrCodeInternal {
		t.Errorf("GetCode(wrapped) = %v, want %v", got, ErrCodeInternal)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "app error",
			err:  &AppError{Code: ErrCodeNotFound, Message: "not found"},
			want: ErrCodeNotFound,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: "",
		},
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetField(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation error with field",
			err:  &AppError{Code: ErrCodeValidation, Message: "invalid", Field: "user_id"},
			want: "user_id",
		},
		{
			name: "error without field",
			err:  &AppError{Code: ErrCodeNotFound, Message: "not found"},
			want: "",
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: "",
		},
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetField(tt.err); got != tt.want {
				t.Errorf("GetField() = %v, want %v", got, tt.want)
			}
		})
	}
}
