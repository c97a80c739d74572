package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerItemsTotal == nil || httpRequestsTotal == nil ||
		httpRequestDurationSeconds == nil || crawlerJobsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(crawlerItemsTotal.WithLabelValues("330100", OutcomeNew))
	ObserveItem("330100", OutcomeNew)
	if val := testutil.ToFloat64(crawlerItemsTotal.WithLabelValues("330100", OutcomeNew)); val != before+1 {
		t.Errorf("Expected crawlerItemsTotal to grow by 1, got %f", val-before)
	}
}

func TestDomainObservers(t *testing.T) {
	Init()

	breaks := testutil.ToFloat64(crawlerCircuitBreaksTotal.WithLabelValues("330200"))
	ObserveCircuitBreak("330200")
	if val := testutil.ToFloat64(crawlerCircuitBreaksTotal.WithLabelValues("330200")); val != breaks+1 {
		t.Errorf("circuit break counter = %f, want %f", val, breaks+1)
	}

	accepted := testutil.ToFloat64(retrievalVerificationsTotal.WithLabelValues("accepted"))
	rejected := testutil.ToFloat64(retrievalVerificationsTotal.WithLabelValues("rejected"))
	ObserveVerification(true)
	ObserveVerification(false)
	ObserveVerification(false)
	if val := testutil.ToFloat64(retrievalVerificationsTotal.WithLabelValues("accepted")); val != accepted+1 {
		t.Errorf("accepted verifications = %f, want %f", val, accepted+1)
	}
	if val := testutil.ToFloat64(retrievalVerificationsTotal.WithLabelValues("rejected")); val != rejected+2 {
		t.Errorf("rejected verifications = %f, want %f", val, rejected+2)
	}

	parsed := testutil.ToFloat64(extractorDocumentsTotal.WithLabelValues("parsed"))
	ObserveExtraction(true)
	if val := testutil.ToFloat64(extractorDocumentsTotal.WithLabelValues("parsed")); val != parsed+1 {
		t.Errorf("parsed documents = %f, want %f", val, parsed+1)
	}

	downloaded := testutil.ToFloat64(retrievalDownloadBytesTotal)
	ObserveDownload(512)
	ObserveDownload(0)
	if val := testutil.ToFloat64(retrievalDownloadBytesTotal); val != downloaded+512 {
		t.Errorf("download bytes = %f, want %f", val, downloaded+512)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
