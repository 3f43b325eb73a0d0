package model

import (
	"net/http"
	"testing"
)

func TestClassifyMethod(t *testing.T) {
	tests := []struct {
		method string
		want   MethodClass
	}{
		{http.MethodOptions, MethodPreflight},
		{http.MethodGet, MethodBodiless},
		{http.MethodHead, MethodBodiless},
		{http.MethodPost, MethodWithBody},
		{http.MethodPut, MethodWithBody},
		{http.MethodPatch, MethodWithBody},
		{http.MethodDelete, MethodWithBody},
		{"PROPFIND", MethodWithBody},
		// Methods are case-sensitive; a lowercase verb is an extension method.
		{"options", MethodWithBody},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := ClassifyMethod(tt.method); got != tt.want {
				t.Errorf("ClassifyMethod(%q) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}
