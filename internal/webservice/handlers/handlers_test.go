package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniconfirm/confirm/internal/common/config"
	"github.com/uniconfirm/confirm/internal/common/constants"
	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/selection"
	"github.com/uniconfirm/confirm/internal/submission"
	"github.com/uniconfirm/confirm/internal/webservice/handlers"
)

const validToken = "abc123xyz"

// fakeGate accepts validToken and maps a few other tokens to the other outcomes.
type fakeGate struct{}

func (fakeGate) Check(_ context.Context, raw string) gate.Decision {
	token := strings.TrimSpace(raw)
	switch token {
	case "":
		return gate.Decision{Outcome: gate.MissingToken}
	case validToken:
		return gate.Decision{Outcome: gate.Valid, Token: token}
	case "confirmed":
		return gate.Decision{Outcome: gate.AlreadyConfirmed, Token: token}
	case "misconfigured":
		return gate.Decision{Outcome: gate.ConfigurationError, Token: token}
	default:
		return gate.Decision{Outcome: gate.InvalidOrExpiredToken, Token: token}
	}
}

type fakeUploader struct {
	err error

	mu      sync.Mutex
	folders []string
	names   []string
}

func (u *fakeUploader) Upload(_ context.Context, f selection.File, folder string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.folders = append(u.folders, folder)
	u.names = append(u.names, f.Name)
	return "https://cdn.example.com/" + folder + "/" + f.Name, nil
}

type fakePoster struct {
	err error

	mu    sync.Mutex
	posts []submission.Payload
}

func (p *fakePoster) Post(_ context.Context, payload submission.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, payload)
	return p.err
}

type filePart struct {
	field       string
	name        string
	contentType string
	content     string
}

func multipartBody(t *testing.T, values url.Values, files []filePart) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range values {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v), "Setup: could not write form field")
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err, "Setup: could not create file part")
		_, err = io.WriteString(part, f.content)
		require.NoError(t, err, "Setup: could not write file part")
	}
	require.NoError(t, mw.Close(), "Setup: could not close multipart writer")
	return &buf, mw.FormDataContentType()
}

func newMux(uploader submission.Uploader, poster submission.Poster, maxUploadBytes int64) *http.ServeMux {
	catalog := config.New("")
	forms := submission.New(catalog, uploader, poster)

	mux := http.NewServeMux()
	mux.Handle("GET /confirm/{token}", handlers.NewPage(fakeGate{}, catalog))
	mux.Handle("GET /confirm/{$}", handlers.NewPage(fakeGate{}, catalog))
	mux.Handle("POST /confirm/{token}", handlers.NewSubmit(fakeGate{}, forms, catalog, maxUploadBytes))
	mux.Handle("POST /confirm/{token}/uploads/{slot}", handlers.NewSlotUpload(fakeGate{}, uploader, maxUploadBytes))
	mux.HandleFunc("GET /version", handlers.VersionHandler)
	mux.HandleFunc("GET /{$}", handlers.LandingHandler)
	return mux
}

func TestPage(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		path string

		wantStatus   int
		wantContains []string
		wantMissing  []string
	}{
		"Valid token renders the form": {
			path:         "/confirm/" + validToken + "?from=email&campaign=spring-2025",
			wantStatus:   http.StatusOK,
			wantContains: []string{
				`action="/confirm/abc123xyz"`,
				`name="submission_nonce"`,
				`name="levels_recruiting_for[]" value="Masters"`,
				`name="multi_event_selection[]" value="Webinar"`,
				`name="preferred_time_slots[]" value="10 AM - 11 AM"`,
				`name="confirmed_from" value="email"`,
				`name="source_campaign_id" value="spring-2025"`,
				`name="additional_documents" accept=".pdf,.doc,.docx,.ppt,.pptx,.zip,image/*" multiple`,
				"I consent to communication related to this event.",
			},
		},
		"Missing token shows the missing notice": {
			path:         "/confirm/",
			wantStatus:   http.StatusBadRequest,
			wantContains: []string{gate.MissingToken.Message()},
			wantMissing:  []string{"<form"},
		},
		"Blank token shows the missing notice": {
			path:         "/confirm/%20%20",
			wantStatus:   http.StatusBadRequest,
			wantContains: []string{gate.MissingToken.Message()},
			wantMissing:  []string{"<form"},
		},
		"Unknown token shows the invalid notice": {
			path:         "/confirm/nope",
			wantStatus:   http.StatusNotFound,
			wantContains: []string{gate.InvalidOrExpiredToken.Message()},
			wantMissing:  []string{"<form"},
		},
		"Confirmed token shows the already confirmed notice": {
			path:         "/confirm/confirmed",
			wantStatus:   http.StatusConflict,
			wantContains: []string{gate.AlreadyConfirmed.Message()},
			wantMissing:  []string{"<form"},
		},
		"Configuration error shows the configuration notice": {
			path:         "/confirm/misconfigured",
			wantStatus:   http.StatusServiceUnavailable,
			wantContains: []string{gate.ConfigurationError.Message()},
			wantMissing:  []string{"<form"},
		},
		"Landing page": {
			path:         "/",
			wantStatus:   http.StatusOK,
			wantContains: []string{"/confirm/abc123xyz", "invite token"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mux := newMux(&fakeUploader{}, &fakePoster{}, 1<<20)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

			assert.Equal(t, tc.wantStatus, rec.Code, "Unexpected status code")
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"), "Unexpected content type")
			body := rec.Body.String()
			for _, s := range tc.wantContains {
				assert.Contains(t, body, s, "Page should contain %q", s)
			}
			for _, s := range tc.wantMissing {
				assert.NotContains(t, body, s, "Page should not contain %q", s)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newMux(nil, nil, 1<<20).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code, "Unexpected status code")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), "Unexpected content type")
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got), "Response should be JSON")
	assert.Equal(t, constants.Version, got["version"], "Unexpected version")
}

func validValues() url.Values {
	return url.Values{
		"university_name":         {"Example University"},
		"rep_email":               {"sam@example.edu"},
		"levels_recruiting_for[]": {"Masters"},
		"multi_event_selection[]": {"Webinar"},
		"consent":                 {"on"},
		"submission_nonce":        {"nonce-1"},
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		token          string
		values         func() url.Values
		files          []filePart
		urlEncoded     bool
		postErr        error
		maxUploadBytes int64

		wantStatus   int
		wantContains []string
		wantUploads  []string
		wantPosts    int
		wantLogo     string
		wantDocs     []string
	}{
		"Valid form without files": {
			wantStatus:   http.StatusOK,
			wantContains: []string{submission.MsgSucceeded},
			wantPosts:    1,
		},
		"Url encoded form is accepted": {
			urlEncoded:   true,
			wantStatus:   http.StatusOK,
			wantContains: []string{submission.MsgSucceeded},
			wantPosts:    1,
		},
		"Files are uploaded under the invite folder": {
			files: []filePart{
				{field: "logo", name: "logo.png", contentType: "image/png", content: "png"},
				{field: "additional_documents", name: "a.pdf", contentType: "application/pdf", content: "pdf"},
				{field: "additional_documents", name: "b.pdf", contentType: "application/pdf", content: "pdf"},
			},
			wantStatus:   http.StatusOK,
			wantContains: []string{submission.MsgSucceeded},
			wantUploads:  []string{"logo.png", "a.pdf", "b.pdf"},
			wantPosts:    1,
			wantLogo:     "https://cdn.example.com/invites/abc123xyz/logo.png",
			wantDocs:     []string{"https://cdn.example.com/invites/abc123xyz/a.pdf", "https://cdn.example.com/invites/abc123xyz/b.pdf"},
		},
		"Pre-resolved slots are not uploaded again": {
			values: func() url.Values {
				v := validValues()
				v.Set("logo_url", "https://cdn.example.com/earlier/logo.png")
				return v
			},
			wantStatus:   http.StatusOK,
			wantContains: []string{submission.MsgSucceeded},
			wantPosts:    1,
			wantLogo:     "https://cdn.example.com/earlier/logo.png",
		},
		"Single file of unexpected type is still uploaded": {
			files:        []filePart{{field: "logo", name: "logo.txt", contentType: "text/plain", content: "txt"}},
			wantStatus:   http.StatusOK,
			wantContains: []string{submission.MsgSucceeded},
			wantUploads:  []string{"logo.txt"},
			wantPosts:    1,
			wantLogo:     "https://cdn.example.com/invites/abc123xyz/logo.txt",
		},

		// Error cases
		"Missing level blocks the submission": {
			values: func() url.Values {
				v := validValues()
				v.Del("levels_recruiting_for[]")
				return v
			},
			wantStatus:   http.StatusUnprocessableEntity,
			wantContains: []string{submission.MsgLevelsRequired, `value="Example University"`},
		},
		"Rejected document selection blocks the submission": {
			files: []filePart{
				{field: "logo", name: "logo.png", contentType: "image/png", content: "png"},
				{field: "additional_documents", name: "notes.txt", contentType: "text/plain", content: "txt"},
			},
			wantStatus:   http.StatusUnprocessableEntity,
			wantContains: []string{handlers.MsgSelectionRejected, "One or more files may not be recommended for this field."},
		},
		"Webhook failure keeps the form": {
			postErr:      &submission.WebhookStatusError{StatusCode: http.StatusInternalServerError},
			wantStatus:   http.StatusBadGateway,
			wantContains: []string{submission.MsgFailed, `value="Example University"`, `value="Masters" checked`},
			wantPosts:    1,
		},
		"Invalid token shows the notice": {
			token:        "nope",
			wantStatus:   http.StatusNotFound,
			wantContains: []string{gate.InvalidOrExpiredToken.Message()},
		},
		"Already confirmed token cannot post": {
			token:        "confirmed",
			wantStatus:   http.StatusConflict,
			wantContains: []string{gate.AlreadyConfirmed.Message()},
		},
		"Too large request is rejected": {
			files:          []filePart{{field: "attachment", name: "big.pdf", contentType: "application/pdf", content: strings.Repeat("x", 4096)}},
			maxUploadBytes: 1024,
			wantStatus:     http.StatusRequestEntityTooLarge,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.token == "" {
				tc.token = validToken
			}
			if tc.values == nil {
				tc.values = validValues
			}
			if tc.maxUploadBytes == 0 {
				tc.maxUploadBytes = 1 << 20
			}

			uploader := &fakeUploader{}
			poster := &fakePoster{err: tc.postErr}
			mux := newMux(uploader, poster, tc.maxUploadBytes)

			var body io.Reader
			var contentType string
			if tc.urlEncoded {
				body, contentType = strings.NewReader(tc.values().Encode()), "application/x-www-form-urlencoded"
			} else {
				body, contentType = multipartBody(t, tc.values(), tc.files)
			}
			req := httptest.NewRequest(http.MethodPost, "/confirm/"+tc.token, body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("User-Agent", "test-agent")
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code, "Unexpected status code")
			for _, s := range tc.wantContains {
				assert.Contains(t, rec.Body.String(), s, "Response should contain %q", s)
			}
			assert.Equal(t, tc.wantUploads, uploader.names, "Unexpected uploads")
			for _, folder := range uploader.folders {
				assert.Equal(t, "invites/"+validToken, folder, "Unexpected upload folder")
			}

			require.Len(t, poster.posts, tc.wantPosts, "Unexpected number of webhook posts")
			if tc.wantPosts == 0 {
				return
			}
			p := poster.posts[0]
			assert.Equal(t, validToken, p.InviteToken, "Unexpected invite token")
			assert.Equal(t, []string{"Masters"}, p.LevelsRecruitingFor, "Unexpected levels")
			assert.True(t, p.ContactConsent, "Consent should be set")
			require.NotNil(t, p.ClientMetadata.IP, "Client ip should be set")
			assert.Equal(t, "203.0.113.9", *p.ClientMetadata.IP, "Client ip should be the first forwarded hop")
			assert.Equal(t, submission.IdempotencyKey(validToken, "nonce-1"), p.SystemMetadata.IdempotencyKey, "Unexpected idempotency key")
			if tc.wantLogo == "" {
				assert.Nil(t, p.UniversityLogo, "Logo should be null")
			} else {
				require.NotNil(t, p.UniversityLogo, "Logo should be set")
				assert.Equal(t, tc.wantLogo, *p.UniversityLogo, "Unexpected logo")
			}
			assert.Equal(t, tc.wantDocs, p.AdditionalDocumentsList, "Unexpected documents")
		})
	}
}

func TestSlotUpload(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		token       string
		slot        string
		files       []filePart
		noUploader  bool
		uploaderErr error

		wantStatus  int
		wantURLs    []string
		wantWarning bool
		wantPreview bool
		wantError   string
	}{
		"Single image is uploaded with a preview": {
			slot:        "logo",
			files:       []filePart{{field: "files", name: "logo.png", contentType: "image/png", content: "png"}},
			wantStatus:  http.StatusOK,
			wantURLs:    []string{"https://cdn.example.com/invites/abc123xyz/logo.png"},
			wantPreview: true,
		},
		"Multiple documents are uploaded in order": {
			slot:  "additional_documents",
			files: []filePart{
				{field: "files", name: "a.pdf", contentType: "application/pdf", content: "pdf"},
				{field: "files", name: "b.docx", contentType: "application/octet-stream", content: "doc"},
			},
			wantStatus: http.StatusOK,
			wantURLs:   []string{"https://cdn.example.com/invites/abc123xyz/a.pdf", "https://cdn.example.com/invites/abc123xyz/b.docx"},
		},
		"Single file of unexpected type gets a warning": {
			slot:        "attachment",
			files:       []filePart{{field: "files", name: "notes.txt", contentType: "text/plain", content: "txt"}},
			wantStatus:  http.StatusOK,
			wantURLs:    []string{"https://cdn.example.com/invites/abc123xyz/notes.txt"},
			wantWarning: true,
		},

		// Error cases
		"Rejected multiple selection": {
			slot:       "additional_documents",
			files:      []filePart{{field: "files", name: "notes.txt", contentType: "text/plain", content: "txt"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "One or more files may not be recommended for this field.",
		},
		"Unknown slot": {
			slot:       "avatar",
			files:      []filePart{{field: "files", name: "a.png", contentType: "image/png", content: "png"}},
			wantStatus: http.StatusNotFound,
			wantError:  handlers.MsgUnknownSlot,
		},
		"No file": {
			slot:       "logo",
			wantStatus: http.StatusBadRequest,
			wantError:  handlers.MsgNoFile,
		},
		"Upload failure": {
			slot:        "logo",
			files:       []filePart{{field: "files", name: "logo.png", contentType: "image/png", content: "png"}},
			uploaderErr: errors.New("storage down"),
			wantStatus:  http.StatusBadGateway,
			wantError:   handlers.MsgUploadFailed,
		},
		"Storage not configured": {
			slot:       "logo",
			files:      []filePart{{field: "files", name: "logo.png", contentType: "image/png", content: "png"}},
			noUploader: true,
			wantStatus: http.StatusServiceUnavailable,
			wantError:  handlers.MsgUploadsDisabled,
		},
		"Invalid token": {
			token:      "nope",
			slot:       "logo",
			files:      []filePart{{field: "files", name: "logo.png", contentType: "image/png", content: "png"}},
			wantStatus: http.StatusNotFound,
			wantError:  gate.InvalidOrExpiredToken.Message(),
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.token == "" {
				tc.token = validToken
			}

			uploader := &fakeUploader{err: tc.uploaderErr}
			var mux *http.ServeMux
			if tc.noUploader {
				mux = newMux(nil, &fakePoster{}, 1<<20)
			} else {
				mux = newMux(uploader, &fakePoster{}, 1<<20)
			}

			body, contentType := multipartBody(t, nil, tc.files)
			req := httptest.NewRequest(http.MethodPost, "/confirm/"+tc.token+"/uploads/"+tc.slot, body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code, "Unexpected status code: %s", rec.Body.String())
			var got handlers.SlotUploadResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got), "Response should be JSON")

			assert.Equal(t, tc.wantURLs, got.URLs, "Unexpected URLs")
			assert.Equal(t, tc.wantError, got.Error, "Unexpected error message")
			assert.Equal(t, tc.wantWarning, got.Warning != "", "Unexpected warning: %q", got.Warning)
			if tc.wantPreview {
				assert.Equal(t, "data:image/png;base64,cG5n", got.Preview, "Unexpected preview")
			} else {
				assert.Empty(t, got.Preview, "No preview expected")
			}
		})
	}
}
