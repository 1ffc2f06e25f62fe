package checksum

import "testing"

func TestSum(t *testing.T) {
	// SHA-256 of the empty input.
	if got := Sum(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("Sum(nil) = %s", got)
	}
	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Error("different inputs share a checksum")
	}
}

func TestMatches(t *testing.T) {
	data := []byte("---\ntitle: x\n---\n")
	if !Matches(data, Sum(data)) {
		t.Error("data should match its own sum")
	}
	if Matches(data, Sum([]byte("other"))) {
		t.Error("data matched a foreign sum")
	}
	if Matches(nil, "") {
		t.Error("empty sum must never match")
	}
}
