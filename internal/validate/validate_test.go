package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mailgateway/internal/apierr"
)

type sample struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
	Rate  int    `validate:"gte=1"`
}

func TestStruct_ValidPasses(t *testing.T) {
	err := Struct(sample{Name: "a", Email: "a@example.com", Rate: 1})
	require.NoError(t, err)
}

func TestStruct_CollectsAllViolations(t *testing.T) {
	err := Struct(sample{})
	require.Error(t, err)

	apiErr := apierr.As(err)
	require.Equal(t, apierr.CodeValidation, apiErr.Code)
	require.Contains(t, apiErr.Message, "name is required")
	require.Contains(t, apiErr.Message, "email is required")
}

func TestStruct_InvalidEmailFormat(t *testing.T) {
	err := Struct(sample{Name: "a", Email: "not-an-email", Rate: 1})
	require.Error(t, err)
	require.Contains(t, apierr.As(err).Message, "email must be a valid email")
}
