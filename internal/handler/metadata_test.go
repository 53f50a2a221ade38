package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type metadataResult struct {
	MediaID  int               `json:"mediaId"`
	Language string            `json:"language"`
	Metadata map[string]string `json:"metadata"`
	Credits  int               `json:"credits"`
	Applied  bool              `json:"applied"`
}

func TestGenerateMetadata(t *testing.T) {
	ts, up := testServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/metadata", `{"mediaId":101,"fields":["alt","caption"],"apply":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env envelope
	decodeResponse(t, resp, &env)
	var res metadataResult
	require.NoError(t, json.Unmarshal(env.Result, &res))

	assert.Equal(t, map[string]string{"alt_text": "A red balloon", "caption": "Up it goes"}, res.Metadata)
	assert.Equal(t, 2, res.Credits)
	assert.Equal(t, "en", res.Language)
	assert.True(t, res.Applied)
	assert.Equal(t, map[string]string{"alt_text": "A red balloon", "caption": "Up it goes"}, up.updatedFields())
}

func TestGenerateMetadata_Async(t *testing.T) {
	ts, _ := testServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/metadata", `{"mediaId":101,"fields":["alt_text"],"async":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env envelope
	decodeResponse(t, resp, &env)
	var res metadataResult
	require.NoError(t, json.Unmarshal(env.Result, &res))
	assert.Equal(t, "Async alt", res.Metadata["alt_text"])
	assert.False(t, res.Applied)
}

func TestGenerateMetadata_PollingTimeout(t *testing.T) {
	ts, up := testServer(t)
	up.predictionStatus.Store("processing")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/metadata", `{"mediaId":101,"async":true}`)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	resp.Body.Close()
}

func TestGenerateMetadata_Errors(t *testing.T) {
	ts, _ := testServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing media id", `{}`, http.StatusBadRequest},
		{"unknown field", `{"mediaId":101,"fields":["keywords"]}`, http.StatusBadRequest},
		{"unsupported language", `{"mediaId":101,"language":"nl"}`, http.StatusBadRequest},
		{"unknown media", `{"mediaId":5}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/v1/metadata", tt.body)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
