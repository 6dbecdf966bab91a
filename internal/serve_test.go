package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	app, logger, closeLog, err := setup([]Option{WithConfig(testConfig(t)), WithVersion("1.2.3")}, true)
	if err != nil {
		t.Fatal(err)
	}
	a, err := open(app, logger, closeLog)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestHTTPHandler_Probes(t *testing.T) {
	h := openTestApp(t).httpHandler(http.NotFoundHandler())

	for path, want := range map[string]string{
		"/healthz": `"version":"1.2.3"`,
		"/readyz":  `"status":"ok"`,
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("%s body = %q, want %s", path, w.Body.String(), want)
		}
	}
}

func TestHTTPHandler_ReadyzFailsWhenIndexClosed(t *testing.T) {
	a := openTestApp(t)
	h := a.httpHandler(http.NotFoundHandler())
	if err := a.DB.Close(); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", w.Code)
	}
}

func TestHTTPHandler_MountsAPI(t *testing.T) {
	h := openTestApp(t).httpHandler(http.NotFoundHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /api/entities = %d, want 200", w.Code)
	}
}
