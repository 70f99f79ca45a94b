package b64

import (
	"encoding/base64"
	"testing"
)

func TestDecode_Variants(t *testing.T) {
	plain := "ss://a@b:1\n?>"
	for name, enc := range map[string]*base64.Encoding{
		"std":    base64.StdEncoding,
		"url":    base64.URLEncoding,
		"rawstd": base64.RawStdEncoding,
		"rawurl": base64.RawURLEncoding,
	} {
		got, err := Decode(enc.EncodeToString([]byte(plain)))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if string(got) != plain {
			t.Fatalf("%s: got=%q, want=%q", name, got, plain)
		}
	}
}

func TestDecode_WrappedLines(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("hello world, this is long enough"))
	wrapped := enc[:10] + "\r\n" + enc[10:20] + " \t" + enc[20:] + "\n"
	got, err := Decode(wrapped)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got) != "hello world, this is long enough" {
		t.Fatalf("got=%q", got)
	}
}

func TestDecodeText_RejectsInvalid(t *testing.T) {
	if _, ok := DecodeText("%%%not base64%%%"); ok {
		t.Fatalf("expected failure for non-base64 input")
	}
	if _, ok := DecodeText(base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe})); ok {
		t.Fatalf("expected failure for invalid utf-8")
	}
	got, ok := DecodeText(base64.StdEncoding.EncodeToString([]byte("\uFEFFabc")))
	if !ok || got != "abc" {
		t.Fatalf("got=%q ok=%v, want=%q", got, ok, "abc")
	}
}
