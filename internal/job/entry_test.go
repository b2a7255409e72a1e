package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntry(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"download","url":"https://example.com/a","response_code":404,"is_error":true,"bytes":512}`)
	e, err := ParseEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, EntryDownload, e.Type)
	assert.Equal(t, 404, e.ResponseCode)
	assert.True(t, e.IsError)
	assert.Equal(t, int64(512), e.Bytes)
}

func TestParseEntryMalformed(t *testing.T) {
	t.Parallel()

	_, err := ParseEntry([]byte(`{"type":`))
	require.Error(t, err)
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	data, err := LogEntry{Type: EntryStdout, Message: "retrying"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stdout","message":"retrying"}`, string(data))
}
