package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONMap_ValueAndScanRoundTrip(t *testing.T) {
	m := JSONMap{"get_email": true, "mail_text": false}

	v, err := m.Value()
	require.NoError(t, err)

	var out JSONMap
	require.NoError(t, out.Scan(v))
	require.Equal(t, m, out)
}

func TestJSONMap_NilValueEncodesEmptyObject(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	require.NoError(t, err)
	require.Equal(t, "{}", v)
}

func TestJSONMap_ScanNilClears(t *testing.T) {
	m := JSONMap{"x": true}
	require.NoError(t, m.Scan(nil))
	require.Nil(t, m)
}

func TestJSONMap_ScanAcceptsBytesAndString(t *testing.T) {
	var fromBytes, fromString JSONMap
	require.NoError(t, fromBytes.Scan([]byte(`{"a":true}`)))
	require.NoError(t, fromString.Scan(`{"a":true}`))
	require.Equal(t, fromBytes, fromString)
}

func TestJSONUint_ValueAndScanRoundTrip(t *testing.T) {
	s := JSONUint{1, 2, 3}

	v, err := s.Value()
	require.NoError(t, err)

	var out JSONUint
	require.NoError(t, out.Scan(v))
	require.Equal(t, s, out)
}

func TestJSONUint_NilValueEncodesEmptyArray(t *testing.T) {
	var s JSONUint
	v, err := s.Value()
	require.NoError(t, err)
	require.Equal(t, "[]", v)
}

func TestJSONAny_ValueAndScanRoundTrip(t *testing.T) {
	m := JSONAny{"request_id": "abc-123", "retries": float64(2)}

	v, err := m.Value()
	require.NoError(t, err)

	var out JSONAny
	require.NoError(t, out.Scan(v))
	require.Equal(t, m, out)
}

func TestJSONAny_ScanUnsupportedTypeErrors(t *testing.T) {
	var m JSONAny
	err := m.Scan(42)
	require.Error(t, err)
}
