/*
	This file contains functions useful for testing the density server in other packages.
	Due to the way Go handles compilation of *_test.go files, these functions cannot be
	in a _test.go file since they would be unavailable to test files in external
	packages.  So these functions are exported and contain the "Test" keyword.
*/

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHTTPResponse returns a response from a test run of the given server.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) []byte {
	t.Helper()
	resp := TestHTTPResponse(t, h, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with the given error status code.
func TestBadHTTP(t *testing.T, h http.Handler, method, urlStr string, code int) {
	t.Helper()
	resp := TestHTTPResponse(t, h, method, urlStr, nil)
	if resp.Code != code {
		t.Fatalf("Expected status %d to %s on %q, got %d instead.\n", code, method, urlStr, resp.Code)
	}
}

// TestHTTPResponseFor serves a prepared request, e.g. one with custom headers.
func TestHTTPResponseFor(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}
