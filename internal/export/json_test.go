package export

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscrape/core/internal/models"
)

func TestEncodeJSON_DefaultShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, []*models.CanonicalEvent{sampleCanonical()}, nil))

	var decoded struct {
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Events, 1)
	assert.Equal(t, `Jazz, "Late" Night`, decoded.Events[0]["title"])
	assert.Equal(t, "Portland", decoded.Events[0]["city"])
	assert.NotContains(t, decoded.Events[0], "end")
}

func TestEncodeJSON_WithFieldMap(t *testing.T) {
	var buf bytes.Buffer
	fieldMap := []FieldMapping{{Key: "title", Header: "EventTitle"}}
	require.NoError(t, EncodeJSON(&buf, []*models.CanonicalEvent{sampleCanonical()}, fieldMap))

	var decoded struct {
		Events []map[string]string `json:"events"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Events, 1)
	assert.Equal(t, `Jazz, "Late" Night`, decoded.Events[0]["EventTitle"])
	_, hasCity := decoded.Events[0]["city"]
	assert.False(t, hasCity)
}
