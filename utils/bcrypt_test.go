package utils

import "testing"

func TestCallbackKeyHashRoundTrip(t *testing.T) {
	hash, err := HashCallbackKey("s3cret-callback-key")
	if err != nil {
		t.Fatalf("HashCallbackKey: %v", err)
	}

	if err := CompareCallbackKey(string(hash), "s3cret-callback-key"); err != nil {
		t.Fatalf("CompareCallbackKey rejected the original key: %v", err)
	}
	if err := CompareCallbackKey(string(hash), "wrong-key"); err == nil {
		t.Fatal("CompareCallbackKey accepted a wrong key")
	}
}
