package auth

import "testing"

func FuzzDecodeResponse(f *testing.F) {
	f.Add("dUBkAHVAZABwYXNz")
	f.Add("dUBkAABwYXNz")
	f.Add("this is not base64 encoded")
	f.Fuzz(func(t *testing.T, response string) {
		// DecodeResponse must never panic, regardless of input.
		DecodeResponse(response)
	})
}
