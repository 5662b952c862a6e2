package fetch

import "testing"

func TestDynamicFetcher_Supports(t *testing.T) {
	f := NewDynamicFetcher(nil, nil, nil)
	if !f.Supports(Request{RenderJS: true}) {
		t.Error("expected RenderJS request to be supported")
	}
	if !f.Supports(Request{Screenshot: true}) {
		t.Error("expected screenshot request to be supported")
	}
	if !f.Supports(Request{WaitForSelector: "#app"}) {
		t.Error("expected wait-for-selector request to be supported")
	}
	if f.Supports(Request{}) {
		t.Error("expected plain request to be unsupported")
	}
}

func TestLooksLikeCaptcha(t *testing.T) {
	if !looksLikeCaptcha(`<div class="g-recaptcha"></div>`) {
		t.Error("expected recaptcha marker to be detected")
	}
	if looksLikeCaptcha(`<div>ordinary page</div>`) {
		t.Error("expected ordinary page to not be flagged")
	}
}

func TestDynamicFetcher_FallbackWithNoStatic(t *testing.T) {
	f := NewDynamicFetcher(nil, nil, nil)
	result, reason := f.fallback(nil, Request{}, "no browser available")
	if reason != nil {
		t.Fatalf("fallback() error = %v", reason)
	}
	if result.ProviderMeta["error"] != "no browser available" {
		t.Fatalf("expected fallback reason in ProviderMeta, got %+v", result.ProviderMeta)
	}
}
