package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"relay/internal/pkg/errs"
)

type renameBody struct {
	NewID string `json:"newId" validate:"required,min=3,max=32"`
}

func TestBindJSON(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		code        int
	}{
		{"ok", "application/json", `{"newId":"carol"}`, 0},
		{"wrong type", "text/plain", `{"newId":"carol"}`, errs.ErrUnsupportedMediaType},
		{"bad json", "application/json", `{"newId":`, errs.ErrInvalidJSONFormat},
		{"unknown field", "application/json", `{"nick":"carol"}`, errs.ErrInvalidJSONFormat},
		{"trailing data", "application/json", `{"newId":"carol"}{}`, errs.ErrExtraContentInBody},
		{"fails validation", "application/json", `{"newId":"c"}`, errs.ErrInvalidParams},
		{"too large", "application/json", `{"newId":"` + strings.Repeat("a", int(MaxJSONBodySize)) + `"}`, errs.ErrRequestEntityTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			r.Header.Set("Content-Type", tc.contentType)

			var dst renameBody
			cerr := BindJSON(httptest.NewRecorder(), r, &dst)
			if tc.code == 0 {
				require.Nil(t, cerr)
				require.Equal(t, "carol", dst.NewID)
				return
			}
			require.NotNil(t, cerr)
			require.Equal(t, tc.code, cerr.Code)
		})
	}
}
